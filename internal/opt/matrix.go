package opt

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"tripopt/internal/geo"
)

// SentinelDistanceKm stands in for any pair that involves an invalid coordinate.
const SentinelDistanceKm = 999.0

var (
	ErrNoWaypoints     = errors.New("at least one waypoint is required")
	ErrMalformedMatrix = errors.New("malformed distance matrix")
)

// Point is a coordinate pair fed to the matrix builder.
type Point struct {
	Lat float64
	Lng float64
}

// Matrix is an immutable square matrix of pairwise distances in km.
type Matrix struct {
	n    int
	rows [][]float64
}

// BuildMatrix computes all pairwise Haversine distances for points up front.
// Pairs touching an out-of-bounds point get SentinelDistanceKm instead of failing.
func BuildMatrix(points []Point, log *zap.Logger) (*Matrix, error) {
	n := len(points)
	if n == 0 {
		return nil, ErrNoWaypoints
	}
	if log == nil {
		log = zap.NewNop()
	}
	valid := make([]bool, n)
	for i, p := range points {
		valid[i] = geo.ValidCoordinate(p.Lat, p.Lng)
		if !valid[i] {
			log.Warn("invalid waypoint coordinate, using sentinel distance",
				zap.Int("index", i),
				zap.Float64("lat", p.Lat),
				zap.Float64("lng", p.Lng),
				zap.Float64("sentinelKm", SentinelDistanceKm))
		}
	}
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := SentinelDistanceKm
			if valid[i] && valid[j] {
				d = geo.Distance(points[i].Lat, points[i].Lng, points[j].Lat, points[j].Lng)
			}
			rows[i][j] = d
			rows[j][i] = d
		}
	}
	return &Matrix{n: n, rows: rows}, nil
}

// NewMatrix copies externally supplied rows after checking shape and values.
func NewMatrix(rows [][]float64) (*Matrix, error) {
	n := len(rows)
	if n == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrMalformedMatrix)
	}
	cp := make([][]float64, n)
	for i, r := range rows {
		if len(r) != n {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrMalformedMatrix, i, len(r), n)
		}
		for j, v := range r {
			if math.IsNaN(v) || v < 0 {
				return nil, fmt.Errorf("%w: entry [%d][%d]=%v", ErrMalformedMatrix, i, j, v)
			}
		}
		if r[i] != 0 {
			return nil, fmt.Errorf("%w: non-zero diagonal at %d", ErrMalformedMatrix, i)
		}
		cp[i] = append([]float64(nil), r...)
	}
	return &Matrix{n: n, rows: cp}, nil
}

// Len is the matrix order.
func (m *Matrix) Len() int { return m.n }

// At returns the distance from i to j. Out-of-range indices yield NaN.
func (m *Matrix) At(i, j int) float64 {
	if i < 0 || j < 0 || i >= m.n || j >= m.n {
		return math.NaN()
	}
	return m.rows[i][j]
}

// Rows returns a copy of the matrix contents.
func (m *Matrix) Rows() [][]float64 {
	out := make([][]float64, m.n)
	for i, r := range m.rows {
		out[i] = append([]float64(nil), r...)
	}
	return out
}

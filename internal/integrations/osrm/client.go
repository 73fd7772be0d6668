// Package osrm consults an OSRM server's trip service as an external TripOptimizer.
package osrm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tripopt/internal/geo"
	"tripopt/internal/integrations"
	"tripopt/internal/model"
)

// HTTPDoer is the subset of *http.Client the client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls GET /trip/v1/{profile}/{coordinates} with the origin fixed as source.
type Client struct {
	baseURL string
	http    HTTPDoer
	limiter *rate.Limiter
	log     *zap.Logger
}

type Option func(*Client)

func WithHTTPDoer(d HTTPDoer) Option { return func(c *Client) { c.http = d } }

// WithRateLimit caps outbound requests; rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Name() string { return "osrm" }

// profiles maps travel modes onto the stock OSRM profiles; buses ride the car graph.
var profiles = map[geo.Mode]string{
	geo.Walk: "foot",
	geo.Bike: "bike",
	geo.Auto: "car",
	geo.Bus:  "car",
}

// OptimizeTrip asks OSRM for a one-way trip starting at waypoints[0].
func (c *Client) OptimizeTrip(ctx context.Context, waypoints []model.Waypoint, mode string) (integrations.TripResult, error) {
	if len(waypoints) < 2 {
		return integrations.TripResult{}, fmt.Errorf("osrm: need at least 2 waypoints, got %d", len(waypoints))
	}
	m, err := geo.ParseMode(mode)
	if err != nil {
		return integrations.TripResult{}, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return integrations.TripResult{}, fmt.Errorf("osrm: rate limit: %w", err)
		}
	}

	coords := make([]string, len(waypoints))
	for i, w := range waypoints {
		coords[i] = strconv.FormatFloat(w.Lng, 'f', 6, 64) + "," + strconv.FormatFloat(w.Lat, 'f', 6, 64)
	}
	q := url.Values{}
	q.Set("source", "first")
	q.Set("roundtrip", "false")
	q.Set("destination", "any")
	q.Set("overview", "false")
	u := fmt.Sprintf("%s/trip/v1/%s/%s?%s", c.baseURL, profiles[m], strings.Join(coords, ";"), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return integrations.TripResult{}, fmt.Errorf("osrm: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return integrations.TripResult{}, fmt.Errorf("osrm: request: %w", err)
	}
	defer resp.Body.Close()
	c.log.Debug("osrm trip", zap.Int("status", resp.StatusCode), zap.Int("waypoints", len(waypoints)), zap.Duration("took", time.Since(start)))

	if resp.StatusCode == http.StatusTooManyRequests {
		return integrations.TripResult{}, fmt.Errorf("osrm: rate limited by server")
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return integrations.TripResult{}, fmt.Errorf("osrm: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var tr tripResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return integrations.TripResult{}, fmt.Errorf("osrm: decode: %w", err)
	}
	return tr.result(len(waypoints))
}

type tripResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Trips   []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Legs     []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"legs"`
	} `json:"trips"`
	Waypoints []struct {
		WaypointIndex int `json:"waypoint_index"`
		TripsIndex    int `json:"trips_index"`
	} `json:"waypoints"`
}

// result converts OSRM's per-input trip positions into a visiting order.
func (tr tripResponse) result(n int) (integrations.TripResult, error) {
	if tr.Code != "Ok" {
		return integrations.TripResult{}, fmt.Errorf("osrm: %s: %s", tr.Code, tr.Message)
	}
	if len(tr.Trips) != 1 || len(tr.Waypoints) != n {
		return integrations.TripResult{}, integrations.ErrNoTrip
	}
	order := make([]int, n)
	filled := make([]bool, n)
	for input, wp := range tr.Waypoints {
		pos := wp.WaypointIndex
		if wp.TripsIndex != 0 || pos < 0 || pos >= n || filled[pos] {
			return integrations.TripResult{}, fmt.Errorf("osrm: inconsistent waypoint %d: %w", input, integrations.ErrNoTrip)
		}
		order[pos] = input
		filled[pos] = true
	}
	trip := tr.Trips[0]
	res := integrations.TripResult{
		Order:       order,
		DistanceKm:  trip.Distance / 1000,
		DurationMin: trip.Duration / 60,
	}
	if len(trip.Legs) == n-1 {
		res.Legs = make([]integrations.Leg, len(trip.Legs))
		for i, l := range trip.Legs {
			res.Legs[i] = integrations.Leg{DistanceKm: l.Distance / 1000, DurationMin: l.Duration / 60}
		}
	}
	return res, nil
}

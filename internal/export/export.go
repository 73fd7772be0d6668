// Package export renders a candidate route as GeoJSON, KML or an encoded polyline.
package export

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	kml "github.com/twpayne/go-kml"
	"github.com/twpayne/go-polyline"

	"tripopt/internal/geo"
	"tripopt/internal/model"
)

var ErrUnknownFormat = errors.New("unknown export format")

type Format string

const (
	FormatGeoJSON  Format = "geojson"
	FormatKML      Format = "kml"
	FormatPolyline Format = "polyline"
)

// ParseFormat defaults to GeoJSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatGeoJSON, nil
	case FormatGeoJSON, FormatKML, FormatPolyline:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatKML:
		return "application/vnd.google-earth.kml+xml"
	case FormatPolyline:
		return "text/plain; charset=utf-8"
	default:
		return "application/geo+json"
	}
}

// Write renders c in format f.
func Write(w io.Writer, f Format, c model.CandidateRoute) error {
	switch f {
	case FormatGeoJSON:
		b, err := GeoJSON(c)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	case FormatKML:
		return KML(w, c)
	case FormatPolyline:
		_, err := io.WriteString(w, Polyline(c))
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// GeoJSON returns a FeatureCollection with one Point per stop followed by the
// route LineString.
func GeoJSON(c model.CandidateRoute) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	var line orb.LineString
	for i, s := range validStops(c) {
		pt := orb.Point{s.Lng, s.Lat}
		f := geojson.NewFeature(pt)
		f.Properties["sequence"] = i
		f.Properties["id"] = s.ID
		f.Properties["label"] = s.Label
		fc.Append(f)
		line = append(line, pt)
	}
	if len(line) >= 2 {
		f := geojson.NewFeature(line)
		f.Properties["algorithmTag"] = c.AlgorithmTag
		f.Properties["mode"] = c.Mode
		f.Properties["totalDistanceKm"] = c.TotalDistanceKm
		f.Properties["totalDurationMin"] = c.TotalDurationMin
		f.Properties["totalCost"] = c.TotalCost
		fc.Append(f)
	}
	return fc.MarshalJSON()
}

// KML writes a document with a placemark per stop and one for the route line.
func KML(w io.Writer, c model.CandidateRoute) error {
	stops := validStops(c)
	children := []kml.Element{
		kml.Name(fmt.Sprintf("%s (%s)", c.AlgorithmTag, c.Mode)),
		kml.Description(fmt.Sprintf("%.2f km, %d min, cost %d", c.TotalDistanceKm, c.TotalDurationMin, c.TotalCost)),
	}
	coords := make([]kml.Coordinate, 0, len(stops))
	for i, s := range stops {
		name := s.Label
		if name == "" {
			name = fmt.Sprintf("Stop %d", i)
		}
		pt := kml.Coordinate{Lon: s.Lng, Lat: s.Lat}
		children = append(children, kml.Placemark(
			kml.Name(name),
			kml.Point(kml.Coordinates(pt)),
		))
		coords = append(coords, pt)
	}
	if len(coords) >= 2 {
		children = append(children, kml.Placemark(
			kml.Name("Route"),
			kml.LineString(
				kml.Tessellate(true),
				kml.Coordinates(coords...),
			),
		))
	}
	return kml.KML(kml.Document(children...)).WriteIndent(w, "", "  ")
}

// Polyline encodes the ordered stops with Google's polyline algorithm.
func Polyline(c model.CandidateRoute) string {
	stops := validStops(c)
	coords := make([][]float64, len(stops))
	for i, s := range stops {
		coords[i] = []float64{s.Lat, s.Lng}
	}
	return string(polyline.EncodeCoords(coords))
}

// validStops drops stops whose coordinates cannot be drawn.
func validStops(c model.CandidateRoute) []model.Waypoint {
	out := make([]model.Waypoint, 0, len(c.OrderedStops))
	for _, s := range c.OrderedStops {
		if geo.ValidCoordinate(s.Lat, s.Lng) {
			out = append(out, s)
		}
	}
	return out
}

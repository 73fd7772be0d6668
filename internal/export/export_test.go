package export

import (
	"bytes"
	"encoding/xml"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripopt/internal/model"
)

func route() model.CandidateRoute {
	return model.CandidateRoute{
		AlgorithmTag: "genetic",
		Mode:         "bike",
		OrderedStops: []model.Waypoint{
			{ID: "o", Label: "Home", Lat: 38.5, Lng: -120.2},
			{ID: "a", Label: "Market", Lat: 40.7, Lng: -120.95},
			{ID: "b", Lat: 43.252, Lng: -126.453},
		},
		TotalDistanceKm:  12.5,
		TotalDurationMin: 60,
		TotalCost:        73,
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatGeoJSON, f)
	f, err = ParseFormat(" KML ")
	require.NoError(t, err)
	assert.Equal(t, FormatKML, f)
	_, err = ParseFormat("shapefile")
	assert.ErrorIs(t, err, ErrUnknownFormat)
	assert.Equal(t, "application/geo+json", FormatGeoJSON.ContentType())
}

func TestPolyline_KnownEncoding(t *testing.T) {
	assert.Equal(t, "_p~iF~ps|U_ulLnnqC_mqNvxq`@", Polyline(route()))
}

func TestGeoJSON(t *testing.T) {
	b, err := GeoJSON(route())
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(b)
	require.NoError(t, err)
	require.Len(t, fc.Features, 4)

	first, ok := fc.Features[0].Geometry.(orb.Point)
	require.True(t, ok)
	assert.Equal(t, orb.Point{-120.2, 38.5}, first)
	assert.Equal(t, "Home", fc.Features[0].Properties["label"])

	line, ok := fc.Features[3].Geometry.(orb.LineString)
	require.True(t, ok)
	assert.Len(t, line, 3)
	assert.Equal(t, "genetic", fc.Features[3].Properties["algorithmTag"])
}

func TestGeoJSON_SkipsInvalidStops(t *testing.T) {
	c := route()
	c.OrderedStops[1].Lat = 999
	b, err := GeoJSON(c)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(b)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 3)
}

func TestKML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, KML(&buf, route()))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, xml.Header) || strings.HasPrefix(out, "<kml"))
	assert.Contains(t, out, "<name>genetic (bike)</name>")
	assert.Contains(t, out, "<name>Home</name>")
	assert.Contains(t, out, "<name>Stop 2</name>")
	assert.Contains(t, out, "<LineString>")
	assert.Contains(t, out, "-120.2,38.5")
	assert.Equal(t, 4, strings.Count(out, "<Placemark>"))
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatPolyline, route()))
	assert.Equal(t, Polyline(route()), buf.String())

	buf.Reset()
	assert.ErrorIs(t, Write(&buf, Format("svg"), route()), ErrUnknownFormat)
}

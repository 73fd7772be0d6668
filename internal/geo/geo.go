// Package geo holds the geodesic distance and per-mode cost model.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// EarthRadiusKm is the mean Earth radius used by Distance.
const EarthRadiusKm = 6371.0

// BufferMin is added to every leg for boarding and stops.
const BufferMin = 5

type Mode string

const (
	Walk Mode = "walk"
	Bike Mode = "bike"
	Auto Mode = "auto"
	Bus  Mode = "bus"
)

// DefaultMode is used when a request names no mode.
const DefaultMode = Auto

var ErrUnknownMode = errors.New("unknown transport mode")

// Profile is the static speed, fare and reliability table entry for a mode.
type Profile struct {
	SpeedKph    float64
	BaseFare    float64
	PerKmFare   float64
	Reliability int
}

var profiles = map[Mode]Profile{
	Walk: {SpeedKph: 4, BaseFare: 0, PerKmFare: 0, Reliability: 95},
	Bike: {SpeedKph: 15, BaseFare: 10, PerKmFare: 5, Reliability: 90},
	Auto: {SpeedKph: 35, BaseFare: 20, PerKmFare: 8, Reliability: 80},
	Bus:  {SpeedKph: 30, BaseFare: 15, PerKmFare: 3, Reliability: 70},
}

// Modes lists the supported modes in a stable order.
func Modes() []Mode { return []Mode{Walk, Bike, Auto, Bus} }

// ParseMode normalizes s into a Mode. An empty string yields DefaultMode.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultMode, nil
	}
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
	return m, nil
}

func (m Mode) Valid() bool {
	_, ok := profiles[m]
	return ok
}

// Profile returns the table entry for m; unknown modes are priced as DefaultMode.
func (m Mode) Profile() Profile {
	if p, ok := profiles[m]; ok {
		return p
	}
	return profiles[DefaultMode]
}

// ValidCoordinate reports whether lat/lng are finite and within legal bounds.
func ValidCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// Distance returns the great-circle distance in kilometres (Haversine).
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	if lat1 == lat2 && lng1 == lng2 {
		return 0
	}
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	if a > 1 {
		a = 1
	}
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// TravelTime returns whole minutes to cover distanceKm in mode, buffer included.
func TravelTime(distanceKm float64, mode Mode) int {
	p := mode.Profile()
	return int(math.Round(distanceKm/p.SpeedKph*60)) + BufferMin
}

// Fare returns the rounded fare in currency units.
func Fare(distanceKm float64, mode Mode) int {
	p := mode.Profile()
	return int(math.Round(p.BaseFare + p.PerKmFare*distanceKm))
}

// Reliability returns the static 0..100 score for mode.
func Reliability(mode Mode) int { return mode.Profile().Reliability }

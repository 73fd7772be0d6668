package api

import (
	"net/http"
	"time"

	"tripopt/internal/buildinfo"
)

// DebugJSON reports build info and the effective config with secrets reduced to
// presence flags.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	c := s.Cfg
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":              c.Port,
			"logLevel":         c.LogLevel,
			"rateRps":          c.RateRPS,
			"rateBurst":        c.RateBurst,
			"dbMigrate":        c.DBMigrate,
			"hasDatabaseUrl":   c.DatabaseURL != "",
			"hasRedisUrl":      c.RedisURL != "",
			"osrmEnabled":      c.OSRM.URL != "",
			"osrmRps":          c.OSRM.RPS,
			"smallTripMaxStops": c.Planner.SmallTripMaxStops,
			"externalTimeout":  c.Planner.ExternalTimeout.String(),
		},
	})
}

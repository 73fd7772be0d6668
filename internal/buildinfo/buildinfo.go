package buildinfo

import "runtime/debug"

// Set via -ldflags "-X tripopt/internal/buildinfo.Version=..."
var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

// Info reports the stamped build values, falling back to the VCS revision
// recorded by the Go toolchain when Commit was not stamped.
func Info() map[string]string {
	out := map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		out["go"] = bi.GoVersion
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if out["commit"] == "" {
					out["commit"] = s.Value
				}
			case "vcs.time":
				if out["builtAt"] == "" {
					out["builtAt"] = s.Value
				}
			}
		}
	}
	return out
}

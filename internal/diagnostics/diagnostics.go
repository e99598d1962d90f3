// Package diagnostics reports the runtime a deployment is running on.
package diagnostics

import (
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Report describes the process and host
type Report struct {
	GeneratedAt string            `json:"generated_at"`
	Runtime     map[string]string `json:"runtime"`
	Platform    map[string]string `json:"platform"`
	Build       map[string]string `json:"build,omitempty"`
}

// Collect gathers the report at the current time
func Collect() Report {
	return collect(time.Now())
}

func collect(now time.Time) Report {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	r := Report{
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Runtime: map[string]string{
			"version":    runtime.Version(),
			"compiler":   runtime.Compiler,
			"goroutines": strconv.Itoa(runtime.NumGoroutine()),
			"cpus":       strconv.Itoa(runtime.NumCPU()),
		},
		Platform: map[string]string{
			"os":       runtime.GOOS,
			"arch":     runtime.GOARCH,
			"hostname": hostname,
		},
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		r.Build = map[string]string{
			"module":  info.Main.Path,
			"version": info.Main.Version,
		}
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				r.Build["revision"] = s.Value
			}
		}
	}
	return r
}

// Log writes the report as a single structured event
func (r Report) Log(logger zerolog.Logger) {
	event := logger.Info().Str("generated_at", r.GeneratedAt)
	for _, section := range []struct {
		name   string
		values map[string]string
	}{{"runtime", r.Runtime}, {"platform", r.Platform}, {"build", r.Build}} {
		if len(section.values) == 0 {
			continue
		}
		dict := zerolog.Dict()
		for k, v := range section.values {
			dict.Str(k, v)
		}
		event.Dict(section.name, dict)
	}
	event.Msg("Diagnostics")
}

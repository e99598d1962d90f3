package config

import "strings"

// FlagPrefix marks feature flag environment variables
const FlagPrefix = "CRYPTO_FLAG_"

// Feature flags read by the entrypoint
const (
	FlagWarmup           = "warmup"
	FlagStrictConditions = "strict_conditions"
	FlagRedisMirror      = "redis_mirror"
)

// Flags holds feature toggles keyed by lower-case name
type Flags map[string]bool

// FlagsFromEnv collects CRYPTO_FLAG_* entries from KEY=VALUE pairs such as
// os.Environ(). Values 1, true, yes and on enable a flag; anything else
// disables it.
func FlagsFromEnv(environ []string) Flags {
	flags := make(Flags)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, FlagPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, FlagPrefix))
		if name == "" {
			continue
		}
		flags[name] = truthy(value)
	}
	return flags
}

// IsEnabled reports the flag value, or def when the flag is unset
func (f Flags) IsEnabled(name string, def bool) bool {
	v, ok := f[strings.ToLower(name)]
	if !ok {
		return def
	}
	return v
}

func truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

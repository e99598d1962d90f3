package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CRYPTO_TRADER_LOG_LEVEL", "")
	t.Setenv("CANDLE_INTERVAL", "")
	t.Setenv("MAX_EXPOSURE_PERCENT", "")
	t.Setenv("EVAL_INTERVAL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.IntervalMinutes != 60 {
		t.Errorf("IntervalMinutes = %d", cfg.IntervalMinutes)
	}
	if cfg.MaxExposurePercent != 80 || cfg.DailyLossLimitPercent != -5 {
		t.Errorf("limits = %v / %v", cfg.MaxExposurePercent, cfg.DailyLossLimitPercent)
	}
	if cfg.KellyFraction != 0.25 || cfg.MinPositionSize != 0.01 || cfg.MaxPositionSize != 0.20 {
		t.Errorf("kelly = %v %v %v", cfg.KellyFraction, cfg.MinPositionSize, cfg.MaxPositionSize)
	}
	if cfg.EvalInterval != time.Minute {
		t.Errorf("EvalInterval = %v", cfg.EvalInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CANDLE_INTERVAL", "15")
	t.Setenv("KELLY_FRACTION", "0.5")
	t.Setenv("EVAL_INTERVAL", "30s")
	t.Setenv("REQUEST_TIMEOUT", "abc")
	t.Setenv("CRYPTO_FLAG_WARMUP", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IntervalMinutes != 15 {
		t.Errorf("IntervalMinutes = %d", cfg.IntervalMinutes)
	}
	if cfg.KellyFraction != 0.5 {
		t.Errorf("KellyFraction = %v", cfg.KellyFraction)
	}
	if cfg.EvalInterval != 30*time.Second {
		t.Errorf("EvalInterval = %v", cfg.EvalInterval)
	}
	if cfg.RequestTimeout != 30 {
		t.Errorf("invalid REQUEST_TIMEOUT should fall back, got %d", cfg.RequestTimeout)
	}
	if cfg.Flags.IsEnabled(FlagWarmup, true) {
		t.Error("warmup should be disabled")
	}
}

func TestFlagsFromEnv(t *testing.T) {
	flags := FlagsFromEnv([]string{
		"CRYPTO_FLAG_WARMUP=1",
		"CRYPTO_FLAG_STRICT_CONDITIONS=Yes",
		"CRYPTO_FLAG_REDIS_MIRROR=nope",
		"CRYPTO_FLAG_=true",
		"OTHER_FLAG=true",
		"CRYPTO_FLAG_BROKEN",
	})

	tests := []struct {
		name string
		def  bool
		want bool
	}{
		{"warmup", false, true},
		{"STRICT_CONDITIONS", false, true},
		{"redis_mirror", true, false},
		{"other_flag", false, false},
		{"missing", true, true},
		{"broken", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := flags.IsEnabled(tt.name, tt.def); got != tt.want {
				t.Errorf("IsEnabled(%q, %v) = %v, want %v", tt.name, tt.def, got, tt.want)
			}
		})
	}
	if len(flags) != 3 {
		t.Errorf("len = %d, want 3", len(flags))
	}
}

func TestTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", " yes ", "On"} {
		if !truthy(v) {
			t.Errorf("truthy(%q) = false", v)
		}
	}
	for _, v := range []string{"", "0", "false", "enabled"} {
		if truthy(v) {
			t.Errorf("truthy(%q) = true", v)
		}
	}
}

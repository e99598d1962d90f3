package diagnostics

import (
	"bytes"
	"encoding/json"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCollect(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	r := collect(now)

	if r.GeneratedAt != "2024-03-01T11:00:00Z" {
		t.Errorf("GeneratedAt = %s", r.GeneratedAt)
	}
	if r.Runtime["version"] != runtime.Version() {
		t.Errorf("runtime version = %s", r.Runtime["version"])
	}
	if r.Platform["os"] != runtime.GOOS || r.Platform["arch"] != runtime.GOARCH {
		t.Errorf("platform = %v", r.Platform)
	}
	if r.Platform["hostname"] == "" {
		t.Error("hostname missing")
	}
}

func TestReportJSON(t *testing.T) {
	data, err := json.Marshal(Collect())
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"generated_at", "runtime", "platform"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing %q", key)
		}
	}
}

func TestReportLog(t *testing.T) {
	var buf bytes.Buffer
	Collect().Log(zerolog.New(&buf))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	platform, ok := entry["platform"].(map[string]any)
	if !ok || platform["os"] != runtime.GOOS {
		t.Errorf("platform = %v", entry["platform"])
	}
}

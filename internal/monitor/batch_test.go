package monitor

import "testing"

func TestParseBatchConfigBothClauses(t *testing.T) {
	cfg := ParseBatchConfig("128 or 1.5s", BatchConfig{MaxSize: 1, MaxTimeS: 1})
	if cfg.MaxSize != 128 || cfg.MaxTimeS != 1.5 {
		t.Fatalf("unexpected parse: %+v", cfg)
	}
}

func TestParseBatchConfigOrderIndependent(t *testing.T) {
	cfg := ParseBatchConfig("2.0s or 50", BatchConfig{})
	if cfg.MaxSize != 50 || cfg.MaxTimeS != 2.0 {
		t.Fatalf("unexpected parse: %+v", cfg)
	}
}

func TestParseBatchConfigFallsBackOnGarbage(t *testing.T) {
	defaults := BatchConfig{MaxSize: 64, MaxTimeS: 1.5}
	cfg := ParseBatchConfig("not a valid config", defaults)
	if cfg != defaults {
		t.Fatalf("expected fallback to defaults, got %+v", cfg)
	}
}

func TestParseBatchConfigPartialOverride(t *testing.T) {
	defaults := BatchConfig{MaxSize: 64, MaxTimeS: 1.5}
	cfg := ParseBatchConfig("200", defaults)
	if cfg.MaxSize != 200 || cfg.MaxTimeS != 1.5 {
		t.Fatalf("expected only size overridden, got %+v", cfg)
	}
}

func TestBatchConfigString(t *testing.T) {
	cfg := BatchConfig{MaxSize: 128, MaxTimeS: 1.5}
	if got := cfg.String(); got != "128 or 1.5s" {
		t.Fatalf("unexpected String(): %s", got)
	}
}

package monitor

import (
	"fmt"
	"strconv"
	"strings"
)

// BatchConfig holds the size/time flush thresholds for one monitor (spec
// §4.7.4). Both are independent triggers: whichever fires first flushes
// the batch.
type BatchConfig struct {
	MaxSize  int
	MaxTimeS float64
}

// ParseBatchConfig parses strings of the form "<N> or <T>s", e.g.
// "128 or 1.5s", as found in batch.flush_thresholds config keys (spec
// §6). Either clause may be omitted; an unparsable string falls back to
// the given defaults rather than erroring, matching how a malformed
// per-monitor override degrades instead of aborting startup.
func ParseBatchConfig(s string, defaults BatchConfig) BatchConfig {
	cfg := defaults
	parts := strings.Split(strings.ToLower(s), " or ")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.HasSuffix(part, "s") {
			if v, err := strconv.ParseFloat(strings.TrimSuffix(part, "s"), 64); err == nil {
				cfg.MaxTimeS = v
			}
			continue
		}
		if v, err := strconv.Atoi(part); err == nil {
			cfg.MaxSize = v
		}
	}
	return cfg
}

func (c BatchConfig) String() string {
	return fmt.Sprintf("%d or %gs", c.MaxSize, c.MaxTimeS)
}

// Package diag assembles the shutdown/status diagnostic summary spec §7
// requires: which monitors started, which failed with a one-line reason
// each, the quota controller's drop/eviction counters, and the most
// recent recovery sweep's counts. Nothing here ever carries plaintext.
package diag

import (
	"encoding/json"

	"github.com/littlebro/lb3/internal/quota"
	"github.com/littlebro/lb3/internal/spool"
)

// MonitorFailure is one monitor's one-line start failure reason.
type MonitorFailure struct {
	Monitor string `json:"monitor"`
	Reason  string `json:"reason"`
}

// Summary is the full diagnostic payload for `lb3d status`/`lb3d diag`
// and the supervisor's shutdown report (spec §7).
type Summary struct {
	MonitorsStarted []string         `json:"monitors_started"`
	MonitorsFailed  []MonitorFailure `json:"monitors_failed"`
	DroppedBatches  uint64           `json:"dropped_batches"`
	EvictedBytes    uint64           `json:"evicted_bytes"`
	EvictedFiles    uint64           `json:"evicted_files"`
	QuotaState      string           `json:"quota_state"`
	UsedBytes       int64            `json:"used_bytes"`
	Recovered       int              `json:"recovered"`
	SalvagedLines   int              `json:"salvaged_lines"`
	Unrecognized    int              `json:"unrecognized"`
}

// Build assembles a Summary from the live quota counters and the most
// recent recovery sweep's report. started/failed come from the
// supervisor (internal/supervisor.Started/Failures); recovery may be the
// zero value if no sweep has run this process.
func Build(started []string, failed []FailureSource, q quota.Counters, recovery spool.RecoveryReport) Summary {
	s := Summary{
		MonitorsStarted: started,
		DroppedBatches:  q.DroppedBatches,
		EvictedBytes:    q.EvictedBytes,
		EvictedFiles:    q.EvictedFiles,
		QuotaState:      q.State,
		UsedBytes:       q.UsedBytes,
		Recovered:       recovery.Recovered,
		SalvagedLines:   recovery.SalvagedLines,
		Unrecognized:    recovery.Unrecognized,
	}
	for _, f := range failed {
		reason := ""
		if f.Err != nil {
			reason = f.Err.Error()
		}
		s.MonitorsFailed = append(s.MonitorsFailed, MonitorFailure{Monitor: f.Name, Reason: reason})
	}
	if s.MonitorsStarted == nil {
		s.MonitorsStarted = []string{}
	}
	if s.MonitorsFailed == nil {
		s.MonitorsFailed = []MonitorFailure{}
	}
	return s
}

// FailureSource is the narrow shape Build needs from a start failure,
// satisfied by supervisor.StartFailure without importing internal/supervisor
// directly (diag is a leaf package consumed by both the supervisor and the
// CLI).
type FailureSource struct {
	Name string
	Err  error
}

// JSON renders the summary as compact JSON for `--status-json`-style CLI
// output (spec §7, SPEC_FULL.md §D.2).
func (s Summary) JSON() ([]byte, error) {
	return json.Marshal(s)
}

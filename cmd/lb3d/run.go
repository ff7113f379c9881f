package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/littlebro/lb3/internal/bus"
	"github.com/littlebro/lb3/internal/config"
	"github.com/littlebro/lb3/internal/dimstore"
	"github.com/littlebro/lb3/internal/event"
	"github.com/littlebro/lb3/internal/hashutil"
	"github.com/littlebro/lb3/internal/ids"
	"github.com/littlebro/lb3/internal/logctx"
	"github.com/littlebro/lb3/internal/monitor"
	"github.com/littlebro/lb3/internal/monitors/activewindow"
	"github.com/littlebro/lb3/internal/monitors/browser"
	ctxmonitor "github.com/littlebro/lb3/internal/monitors/context"
	"github.com/littlebro/lb3/internal/monitors/filewatch"
	"github.com/littlebro/lb3/internal/monitors/heartbeat"
	"github.com/littlebro/lb3/internal/monitors/keyboard"
	"github.com/littlebro/lb3/internal/monitors/mouse"
	"github.com/littlebro/lb3/internal/quota"
	"github.com/littlebro/lb3/internal/scheduler"
	"github.com/littlebro/lb3/internal/spool"
	"github.com/littlebro/lb3/internal/supervisor"
)

func runCmd() *cobra.Command {
	var dryRun bool
	var totalBeats int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the capture daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := logctx.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			return runDaemon(cfg, dryRun, totalBeats)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run monitors without a spool/bus, logging events instead")
	cmd.Flags().IntVar(&totalBeats, "beats", 0, "stop automatically after this many heartbeats (0 = run indefinitely)")
	return cmd
}

func runDaemon(cfg *config.Config, dryRun bool, totalBeats int) error {
	log := logctx.For("lb3d")
	hasher, err := hashutil.New(cfg.Hashing.Salt)
	if err != nil {
		return fmt.Errorf("init hasher: %w", err)
	}

	sessionID := ids.New()
	sched := scheduler.NewReal()

	var (
		b    *bus.Bus
		sp   *spool.Spool
		qc   *quota.Controller
		dims monitor.DimensionStore
	)

	if !dryRun {
		lock, err := spool.AcquireLock(cfg.Storage.SpoolDir)
		if err != nil {
			return err
		}
		defer lock.Unlock()

		b = bus.New(1024)
		sp = spool.New(spool.DefaultConfig(cfg.Storage.SpoolDir))
		qc = quota.New(quota.Config{
			QuotaMB:        cfg.Storage.SpoolQuotaMB,
			SoftPct:        cfg.Storage.SpoolSoftPct,
			HardPct:        cfg.Storage.SpoolHardPct,
			DoneDir:        quotaTrackedDir(cfg),
			LogIntervalSec: cfg.Logging.QuotaLogIntervalS,
		})
		store, err := dimstore.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("open dimension store: %w", err)
		}
		defer store.Close()
		dims = store
	} else {
		dims = monitor.NewMemoryDimensionStore()
	}

	sup := supervisor.New(b, sinkCloser(sp))

	emitFor := func(name string) monitor.EmitFunc {
		if dryRun {
			return monitor.DryRunEmit(name)
		}
		return sinkEmit(name, sp, qc, log)
	}
	activeWindowEmit := emitFor("active_window")
	keyboardEmit := emitFor("keyboard")
	mouseEmit := emitFor("mouse")
	if !dryRun {
		activeWindowEmit = composeEmit(busEmit(b), activeWindowEmit)
		keyboardEmit = composeEmit(busEmit(b), keyboardEmit)
		mouseEmit = composeEmit(busEmit(b), mouseEmit)
	}

	kb, err := keyboard.New(sessionID, sched, keyboard.DefaultConfig(), keyboardEmit, nil, cfg.Guardrails.NoGlobalTextKeylogging)
	if err != nil {
		return fmt.Errorf("construct keyboard monitor: %w", err)
	}
	sup.Register("keyboard", kb)

	ms := mouse.New(sessionID, sched, mouse.DefaultConfig(), mouseEmit, nil)
	sup.Register("mouse", ms)

	aw := activewindow.New(sessionID, sched, activeWindowEmit, nil, hasher, dims)
	sup.Register("active_window", aw)

	ctxMon := ctxmonitor.New(sessionID, sched, emitFor("context"), b, cfg.Heartbeat.PollIntervals.ContextIdleGap)
	sup.Register("context", ctxMon)

	var cdpSource browser.CDPSource
	if cfg.Browser.Integration.ChromeRemoteDebugPort > 0 {
		cdpSource = browser.NewRealCDPSource(cfg.Browser.Integration.ChromeRemoteDebugPort)
	}
	br := browser.New(sessionID, sched, browser.DefaultConfig(), emitFor("browser"), cdpSource, b, hasher, dims)
	sup.Register("browser", br)

	fw := filewatch.New(sessionID, sched, filewatch.DefaultConfig(nil), emitFor("file"), nil, hasher)
	sup.Register("file", fw)

	hb := heartbeat.New(sessionID, sched, heartbeat.Config{IntervalS: 1.0, TotalBeats: totalBeats}, emitFor("heartbeat"), sup.NotifyComplete)
	sup.Register("heartbeat", hb)

	log.Info("starting", "session_id", sessionID, "dry_run", dryRun)
	return sup.Run(context.Background())
}

// sinkCloser adapts a possibly-nil *spool.Spool to supervisor.Sink; a nil
// spool (dry run) yields a nil Sink so the supervisor skips closing it.
func sinkCloser(sp *spool.Spool) supervisor.Sink {
	if sp == nil {
		return nil
	}
	return sp
}

// sinkEmit gates a monitor's batch through the quota controller before
// writing it to the spool (spec §4.6: AdmitBatch decides whether a batch
// is written at all).
func sinkEmit(monitorName string, sp *spool.Spool, qc *quota.Controller, log interface {
	Warn(msg string, args ...any)
}) monitor.EmitFunc {
	return func(batch []*event.Event) {
		if len(batch) == 0 {
			return
		}
		size := estimateBatchBytes(batch)
		if !qc.AdmitBatch(size) {
			return
		}
		if err := sp.WriteBatch(monitorName, batch); err != nil {
			log.Warn("spool write failed", "monitor", monitorName, "err", err)
		}
	}
}

// busEmit republishes each event in a batch onto the shared bus, for
// consumers like the browser monitor's fallback mode and the context
// monitor that observe active_window, keyboard and mouse activity rather
// than polling independently.
func busEmit(b *bus.Bus) monitor.EmitFunc {
	return func(batch []*event.Event) {
		for _, e := range batch {
			b.Publish(e, bus.DefaultPublishTimeout)
		}
	}
}

// composeEmit fans one finished batch out to multiple EmitFuncs.
func composeEmit(fns ...monitor.EmitFunc) monitor.EmitFunc {
	return func(batch []*event.Event) {
		for _, fn := range fns {
			fn(batch)
		}
	}
}

func estimateBatchBytes(batch []*event.Event) int64 {
	var total int64
	for _, e := range batch {
		b, err := json.Marshal(e)
		if err != nil {
			continue
		}
		total += int64(len(b)) + 1 // +1 for the NDJSON newline
	}
	return total
}

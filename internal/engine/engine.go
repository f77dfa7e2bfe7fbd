// Package engine is the single-process cycle scheduler (§4.J): it drives
// scanAndIndex -> ingestNewFiles -> updateAllAggregations on a timer,
// periodically scans for synchronizer gaps, and supervises the
// longer-running template and vote-request index builds as background
// tasks outside the cycle timeout.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ledgerwarehouse/internal/aggregation"
	"ledgerwarehouse/internal/config"
	"ledgerwarehouse/internal/fileindex"
	"ledgerwarehouse/internal/ingest"
	"ledgerwarehouse/internal/logging"
	"ledgerwarehouse/internal/progress"
	"ledgerwarehouse/internal/store"
	"ledgerwarehouse/internal/templateindex"
	"ledgerwarehouse/internal/voterequest"
)

// Engine owns the cycle scheduler and the background task supervisor.
type Engine struct {
	cfg config.Engine

	store  *store.Store
	files  *fileindex.Index
	ingest *ingest.Ingestor
	agg    *aggregation.State
	tmpl   *templateindex.Builder
	votes  *voterequest.Builder

	supervisor *progress.Supervisor
	log        *zap.SugaredLogger

	running     atomic.Bool
	cycleCount  atomic.Int64
	lastCycleAt atomic.Value // time.Time
}

// New wires an Engine from its already-constructed component dependencies.
func New(cfg config.Engine, st *store.Store, files *fileindex.Index, ing *ingest.Ingestor, agg *aggregation.State, tmpl *templateindex.Builder, votes *voterequest.Builder) *Engine {
	return &Engine{
		cfg:        cfg,
		store:      st,
		files:      files,
		ingest:     ing,
		agg:        agg,
		tmpl:       tmpl,
		votes:      votes,
		supervisor: progress.NewSupervisor(),
		log:        logging.For("engine"),
	}
}

// CycleReport summarizes one runCycle() pass for observability.
type CycleReport struct {
	ScanResult      fileindex.ScanResult
	IngestResult    ingest.Result
	AggregationsRan bool
	GapsChecked     bool
	Err             error
}

// RunCycle runs one full cycle guarded by the process-local running flag
// (§4.J, §5: "a single cooperative scheduler that never re-enters itself").
// It returns immediately with a zero CycleReport if a cycle is already in
// flight.
func (e *Engine) RunCycle(ctx context.Context) CycleReport {
	if !e.running.CompareAndSwap(false, true) {
		e.log.Debugw("cycle already running, skipping")
		return CycleReport{}
	}
	defer e.running.Store(false)

	engMetrics.init()
	cycleStart := time.Now()
	defer func() { engMetrics.cycleDuration.Observe(time.Since(cycleStart).Seconds()) }()

	cctx, cancel := context.WithTimeout(ctx, e.cfg.CycleTimeout)
	defer cancel()

	report := CycleReport{}

	scanResult, err := e.files.ScanAndIndex(cctx)
	if err != nil {
		e.log.Errorw("scan phase failed", "error", err)
		report.Err = err
	}
	report.ScanResult = scanResult

	ingestResult, err := e.ingest.IngestNewFiles(cctx, e.cfg.FilesPerCycle)
	if err != nil {
		e.log.Errorw("ingest phase failed", "error", err)
		report.Err = err
	}
	report.IngestResult = ingestResult
	engMetrics.filesIngested.Add(float64(ingestResult.Ingested))

	if ingestResult.Ingested > 0 {
		outcomes := e.agg.UpdateAllAggregations(cctx)
		for name, outcome := range outcomes {
			if outcome.Error != "" {
				e.log.Errorw("aggregation failed", "name", name, "error", outcome.Error)
			}
		}
		report.AggregationsRan = true
	}

	cycle := e.cycleCount.Add(1)
	if e.cfg.GapCheckInterval > 0 && cycle%int64(e.cfg.GapCheckInterval) == 0 {
		gaps, err := e.scanGaps(cctx)
		if err != nil {
			e.log.Errorw("gap scan failed", "error", err)
		}
		for _, g := range gaps {
			engMetrics.gapsDetected.Inc()
			e.log.Warnw("contiguity gap detected", "synchronizer_id", g.SynchronizerID, "from", g.From, "to", g.To, "duration", g.To.Sub(g.From))
			if e.cfg.AutoRecoverGaps {
				if err := e.recoverGap(cctx, g); err != nil {
					e.log.Errorw("gap recovery failed", "synchronizer_id", g.SynchronizerID, "error", err)
				} else {
					engMetrics.gapsRecovered.Inc()
				}
			}
		}
		report.GapsChecked = true
	}

	e.lastCycleAt.Store(time.Now().UTC())
	engMetrics.cyclesTotal.Inc()
	if report.Err != nil {
		engMetrics.cycleErrorsTotal.Inc()
	}
	return report
}

// Running reports whether a cycle is currently executing.
func (e *Engine) Running() bool { return e.running.Load() }

// CycleCount returns the number of completed cycles.
func (e *Engine) CycleCount() int64 { return e.cycleCount.Load() }

// LastCycleAt returns the completion time of the most recent cycle, or the
// zero time if no cycle has completed yet.
func (e *Engine) LastCycleAt() time.Time {
	v := e.lastCycleAt.Load()
	if v == nil {
		return time.Time{}
	}
	return v.(time.Time)
}

// Start runs one cycle immediately, then schedules periodic cycles on
// cfg.CycleInterval until ctx is canceled. It also kicks off the
// background index builds named in §4.J's startup sequence.
func (e *Engine) Start(ctx context.Context) {
	e.RunCycle(ctx)
	e.StartBackgroundBuilds(ctx)

	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// StartBackgroundBuilds launches the template-index build if unpopulated,
// then — on its completion — the vote-request projection build if
// unpopulated. Both run unlimited by the cycle timeout (§4.J).
func (e *Engine) StartBackgroundBuilds(ctx context.Context) {
	go func() {
		populated, err := e.tmpl.IsPopulated(ctx)
		if err != nil {
			e.log.Errorw("failed to check template index population", "error", err)
			return
		}
		if !populated {
			e.supervisor.Run("template_index_build", func() error {
				_, err := e.tmpl.Build(ctx, templateindex.Options{Mode: templateindex.Force, Workers: e.cfg.TemplateIndexWorkers, Concurrency: e.cfg.TemplateIndexConcurrency})
				return err
			})
		}

		if !e.cfg.VoteIndexBuildOnStartup {
			return
		}
		votePopulated, err := e.votes.IsPopulated(ctx)
		if err != nil {
			e.log.Errorw("failed to check vote request index population", "error", err)
			return
		}
		if !votePopulated {
			e.supervisor.Run("vote_request_index_build", func() error {
				_, err := e.votes.Build(ctx)
				return err
			})
		}
	}()
}

// BackgroundTaskStates exposes the supervisor's task set for status
// reporting.
func (e *Engine) BackgroundTaskStates() []progress.TaskState {
	return e.supervisor.All()
}

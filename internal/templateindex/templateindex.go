// Package templateindex builds the template→file reverse index: for every
// raw event file, which template names appear in it, with what per-template
// counts and time bounds (§4.F). This is the hardest throughput-sensitive
// piece in the warehouse, so the build is split across a bounded worker
// pool, with a main-thread concurrent fallback and a stall watchdog.
package templateindex

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"ledgerwarehouse/internal/decoder"
	"ledgerwarehouse/internal/logging"
	"ledgerwarehouse/internal/models"
	"ledgerwarehouse/internal/progress"
	"ledgerwarehouse/internal/store"
)

// batchFileCount is "batches of N files" named in §4.F.
const batchFileCount = 100

// flushChunkSize is the per-statement row count named in §4.F.
const flushChunkSize = 500

// stallWatchdog is the "no progress for 2 minutes" threshold named in §4.F.
const stallWatchdog = 2 * time.Minute

// Mode selects between a full rebuild and an incremental scan.
type Mode int

const (
	Incremental Mode = iota
	Force
)

// Options configures one Build call.
type Options struct {
	Mode        Mode
	Workers     int // bounded worker pool size, 0 = main-thread concurrency
	Concurrency int // main-thread in-flight window when Workers == 0
}

// fileTuple is one (file_path, template_name, count, first, last) result
// from scanning a single file, the worker contract named in §4.F.
type fileTuple struct {
	FilePath     string
	TemplateName string
	EventCount   int64
	FirstEventAt time.Time
	LastEventAt  time.Time
}

// Builder owns the template_file_index table and its build operation.
type Builder struct {
	store   *store.Store
	tracker *progress.Tracker
	log     *zap.SugaredLogger
}

// New constructs a Builder. tracker may be nil; a fresh one is created in
// that case so callers that don't care about progress can ignore it.
func New(st *store.Store, tracker *progress.Tracker) *Builder {
	if tracker == nil {
		tracker = progress.NewTracker()
	}
	return &Builder{store: st, tracker: tracker, log: logging.For("templateindex")}
}

// Tracker exposes the builder's progress tracker for subscription.
func (b *Builder) Tracker() *progress.Tracker { return b.tracker }

// Build runs one build pass per opts.Mode, returning the resulting state
// row. It is idempotent: re-running with Incremental is cheap because it
// only scans files absent from template_file_index (§4.F).
func (b *Builder) Build(ctx context.Context, opts Options) (models.TemplateFileIndexState, error) {
	start := time.Now()

	if opts.Mode == Force {
		if err := b.store.Exec(ctx, "DELETE FROM template_file_index"); err != nil {
			return models.TemplateFileIndexState{}, fmt.Errorf("templateindex: truncate: %w", err)
		}
	}

	files, err := b.filesToScan(ctx, opts.Mode)
	if err != nil {
		return models.TemplateFileIndexState{}, fmt.Errorf("templateindex: list files: %w", err)
	}

	b.tracker.Start("template_index_build", len(files))

	tuples, filesIndexed := b.runPool(ctx, files, opts)

	templatesFound := int64(0)
	if err := b.flush(ctx, tuples); err != nil {
		return models.TemplateFileIndexState{}, fmt.Errorf("templateindex: flush: %w", err)
	}
	templatesFound = countDistinctTemplates(tuples)

	st := models.TemplateFileIndexState{
		LastIndexedAt:        time.Now().UTC(),
		TotalFilesIndexed:    int64(filesIndexed),
		TotalTemplatesFound:  templatesFound,
		BuildDurationSeconds: time.Since(start).Seconds(),
	}
	if err := b.saveState(ctx, st); err != nil {
		return models.TemplateFileIndexState{}, fmt.Errorf("templateindex: save state: %w", err)
	}
	return st, nil
}

// filesToScan returns every event file path to consider for this build:
// all of them for Force, or only those absent from template_file_index for
// Incremental.
func (b *Builder) filesToScan(ctx context.Context, mode Mode) ([]string, error) {
	query := `
		SELECT path FROM raw_files
		WHERE type = 'events'`
	if mode == Incremental {
		query += ` AND path NOT IN (SELECT DISTINCT file_path FROM template_file_index)`
	}

	rows, err := b.store.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// runPool scans files, preferring the bounded worker pool; it falls back to
// main-thread concurrency either because opts requests it (Workers == 0) or
// because the stall watchdog fires mid-build (§4.F).
func (b *Builder) runPool(ctx context.Context, files []string, opts Options) ([]fileTuple, int) {
	if opts.Workers <= 0 {
		return b.runMainThreadConcurrent(ctx, files, opts.Concurrency)
	}

	batches := chunkFiles(files, batchFileCount)

	var (
		mu      sync.Mutex
		tuples  []fileTuple
		indexed int
		stalled bool

		finished = make(map[string]bool)
	)

	watchdog := newStallWatchdog(stallWatchdog)
	defer watchdog.stop()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			if watchdog.hasFired() {
				return nil
			}
			for _, path := range batch {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				ts, err := scanFile(path)
				if err != nil {
					b.log.Warnw("skipping file in template index build", "path", path, "error", err)
					mu.Lock()
					finished[path] = true
					indexed++
					b.tracker.Advance(1)
					mu.Unlock()
					watchdog.reset()
					continue
				}
				mu.Lock()
				tuples = append(tuples, ts...)
				finished[path] = true
				indexed++
				b.tracker.Advance(1)
				mu.Unlock()
				watchdog.reset()
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case <-done:
	case <-watchdog.fired():
		stalled = true
		b.log.Warnw("template index build stalled, falling back to main-thread concurrency", "indexed_so_far", indexed)
		<-done // workers observe hasFired() and drain quickly
	}

	if !stalled {
		return tuples, indexed
	}

	b.tracker.Phase("template_index_build_fallback")
	var remaining []string
	for _, path := range files {
		if !finished[path] {
			remaining = append(remaining, path)
		}
	}
	moreTuples, moreIndexed := b.runMainThreadConcurrent(ctx, remaining, 0)
	tuples = append(tuples, moreTuples...)
	return tuples, indexed + moreIndexed
}

// runMainThreadConcurrent processes files with a bounded in-flight window of
// `concurrency` files (§4.F's "Promise.race-style" fallback), paced by a
// rate limiter so a burst of tiny files cannot starve other engine work.
func (b *Builder) runMainThreadConcurrent(ctx context.Context, files []string, concurrency int) ([]fileTuple, int) {
	if concurrency <= 0 {
		concurrency = 6
	}
	limiter := rate.NewLimiter(rate.Limit(concurrency*4), concurrency*4)

	sem := make(chan struct{}, concurrency)
	var (
		mu      sync.Mutex
		tuples  []fileTuple
		indexed int
		wg      sync.WaitGroup
	)

	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		_ = limiter.Wait(ctx)

		sem <- struct{}{}
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer func() { <-sem }()

			ts, err := scanFile(path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				b.log.Warnw("skipping file in template index build", "path", path, "error", err)
			} else {
				tuples = append(tuples, ts...)
			}
			indexed++
			b.tracker.Advance(1)
		}(path)
	}
	wg.Wait()

	return tuples, indexed
}

// templateNameOf extracts the template_name suffix from a fully qualified
// template_id: the text after its final ':' (keeping any trailing '@hash'
// package-id suffix as part of the name, per the glossary definition of
// template_name). A template_id with no ':' is returned unchanged.
func templateNameOf(templateID string) string {
	if idx := strings.LastIndex(templateID, ":"); idx >= 0 {
		return templateID[idx+1:]
	}
	return templateID
}

// scanFile is the worker contract named in §4.F: open one event file with
// its own decoder instance, and return per-template tuples.
func scanFile(path string) ([]fileTuple, error) {
	r, err := decoder.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	type acc struct {
		count       int64
		first, last time.Time
	}
	byTemplate := make(map[string]*acc)

	for {
		rec, ok := r.Next()
		if !ok {
			break
		}
		name := templateNameOf(rec.TemplateID)
		a, exists := byTemplate[name]
		if !exists {
			a = &acc{first: rec.EffectiveAt, last: rec.EffectiveAt}
			byTemplate[name] = a
		}
		a.count++
		if rec.EffectiveAt.Before(a.first) {
			a.first = rec.EffectiveAt
		}
		if rec.EffectiveAt.After(a.last) {
			a.last = rec.EffectiveAt
		}
	}

	tuples := make([]fileTuple, 0, len(byTemplate))
	for tmpl, a := range byTemplate {
		tuples = append(tuples, fileTuple{
			FilePath:     path,
			TemplateName: tmpl,
			EventCount:   a.count,
			FirstEventAt: a.first,
			LastEventAt:  a.last,
		})
	}
	return tuples, nil
}

// flush writes tuples to template_file_index in chunks, falling back to
// row-by-row insertion within store.BulkInsert on a chunk failure (§4.F).
func (b *Builder) flush(ctx context.Context, tuples []fileTuple) error {
	if len(tuples) == 0 {
		return nil
	}
	rows := make([][]any, len(tuples))
	for i, t := range tuples {
		rows[i] = []any{t.FilePath, t.TemplateName, t.EventCount, t.FirstEventAt, t.LastEventAt}
	}
	columns := []string{"file_path", "template_name", "event_count", "first_event_at", "last_event_at"}
	return b.store.BulkInsert(ctx, "template_file_index", columns, rows, flushChunkSize)
}

func (b *Builder) saveState(ctx context.Context, st models.TemplateFileIndexState) error {
	return b.store.Exec(ctx, `
		INSERT INTO template_file_index_state (id, last_indexed_at, total_files_indexed, total_templates_found, build_duration_seconds)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			last_indexed_at = EXCLUDED.last_indexed_at,
			total_files_indexed = EXCLUDED.total_files_indexed,
			total_templates_found = EXCLUDED.total_templates_found,
			build_duration_seconds = EXCLUDED.build_duration_seconds`,
		st.LastIndexedAt, st.TotalFilesIndexed, st.TotalTemplatesFound, st.BuildDurationSeconds)
}

// GetFilesForTemplate returns files whose template_name contains pattern
// (§4.F getFilesForTemplate()).
func (b *Builder) GetFilesForTemplate(ctx context.Context, pattern string) ([]string, error) {
	rows, err := b.store.Query(ctx, `
		SELECT DISTINCT file_path FROM template_file_index
		WHERE template_name LIKE $1
		ORDER BY file_path`, "%"+pattern+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetIndexedTemplates returns the §4.F getIndexedTemplates() summary: one
// row per distinct template name, with total events and file count.
func (b *Builder) GetIndexedTemplates(ctx context.Context) ([]models.TemplateSummary, error) {
	rows, err := b.store.Query(ctx, `
		SELECT template_name, SUM(event_count), COUNT(DISTINCT file_path)
		FROM template_file_index
		GROUP BY template_name
		ORDER BY template_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TemplateSummary
	for rows.Next() {
		var s models.TemplateSummary
		if err := rows.Scan(&s.TemplateName, &s.EventCount, &s.FileCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// IsPopulated reports whether template_file_index has any rows at all
// (§4.F isPopulated()).
func (b *Builder) IsPopulated(ctx context.Context) (bool, error) {
	var count int64
	err := b.store.QueryRow(ctx, "SELECT COUNT(*) FROM template_file_index LIMIT 1").Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func chunkFiles(files []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(files); start += size {
		end := start + size
		if end > len(files) {
			end = len(files)
		}
		out = append(out, files[start:end])
	}
	return out
}

func countDistinctTemplates(tuples []fileTuple) int64 {
	seen := make(map[string]struct{})
	for _, t := range tuples {
		seen[t.TemplateName] = struct{}{}
	}
	return int64(len(seen))
}

// Package fileindex discovers record files under the raw directory,
// classifies them, and tracks per-file ingestion state (§4.C).
package fileindex

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"ledgerwarehouse/internal/decoder"
	"ledgerwarehouse/internal/logging"
	"ledgerwarehouse/internal/models"
	"ledgerwarehouse/internal/store"
)

// recordFileSuffix is the only recognized on-disk suffix for ingestion
// input (§6 External interfaces).
const recordFileSuffix = ".bin"

var (
	migrationSegmentRe = regexp.MustCompile(`(?:^|/)migration=(\d+)(?:/|$)`)
	yearSegmentRe       = regexp.MustCompile(`(?:^|/)year=(\d{4})(?:/|$)`)
	monthSegmentRe      = regexp.MustCompile(`(?:^|/)month=(\d{1,2})(?:/|$)`)
	daySegmentRe        = regexp.MustCompile(`(?:^|/)day=(\d{1,2})(?:/|$)`)
)

// Index manages the raw_files table.
type Index struct {
	store   *store.Store
	rawRoot string
	log     *zap.SugaredLogger
}

// New builds a file index rooted at <dataDir>/raw.
func New(st *store.Store, dataDir string) *Index {
	return &Index{
		store:   st,
		rawRoot: filepath.Join(dataDir, "raw"),
		log:     logging.For("fileindex"),
	}
}

// ScanResult is the §4.C scanAndIndex() return shape.
type ScanResult struct {
	TotalFiles int
	NewFiles   int
}

// ScanAndIndex walks the raw directory tree and inserts a RawFile row for
// every newly discovered record file. Unreadable subtrees are logged and
// skipped, never fatal (§4.C.1).
func (ix *Index) ScanAndIndex(ctx context.Context) (ScanResult, error) {
	existing, err := ix.loadIndexedPaths(ctx)
	if err != nil {
		return ScanResult{}, fmt.Errorf("fileindex: load indexed paths: %w", err)
	}

	var discovered []string
	walkErr := filepath.WalkDir(ix.rawRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			ix.log.Warnw("skipping unreadable path", "path", p, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(p, recordFileSuffix) {
			discovered = append(discovered, normalizePath(p))
		}
		return nil
	})
	if walkErr != nil && !isNotExistLike(walkErr) {
		ix.log.Warnw("raw directory walk ended early", "error", walkErr)
	}

	result := ScanResult{TotalFiles: len(discovered)}
	for _, p := range discovered {
		if existing[p] {
			continue
		}
		if err := ix.insertNewFile(ctx, p); err != nil {
			ix.log.Errorw("failed to index file", "path", p, "error", err)
			continue
		}
		existing[p] = true
		result.NewFiles++
	}
	return result, nil
}

func (ix *Index) loadIndexedPaths(ctx context.Context) (map[string]bool, error) {
	rows, err := ix.store.Query(ctx, "SELECT path FROM raw_files")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths[normalizePath(p)] = true
	}
	return paths, rows.Err()
}

func (ix *Index) insertNewFile(ctx context.Context, p string) error {
	kind := decoder.ClassifyFilename(p)
	if kind == decoder.KindUnknown {
		ix.log.Debugw("skipping file with unrecognized prefix", "path", p)
		return nil
	}

	var migrationID sql.NullInt64
	if m := migrationSegmentRe.FindStringSubmatch(p); m != nil {
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			migrationID = sql.NullInt64{Int64: n, Valid: true}
		}
	}

	var recordDate sql.NullString
	if rd := parseRecordDate(p); rd != "" {
		recordDate = sql.NullString{String: rd, Valid: true}
	}

	var fileID int64
	if err := ix.store.QueryRow(ctx, "SELECT nextval('raw_file_id_seq')").Scan(&fileID); err != nil {
		return fmt.Errorf("allocate file id: %w", err)
	}

	return ix.store.Exec(ctx, `
		INSERT INTO raw_files (file_id, path, type, migration_id, record_date, record_count, ingested)
		VALUES ($1, $2, $3, $4, $5, 0, FALSE)`,
		fileID, p, string(kind), migrationID, recordDate)
}

func parseRecordDate(p string) string {
	y := yearSegmentRe.FindStringSubmatch(p)
	m := monthSegmentRe.FindStringSubmatch(p)
	d := daySegmentRe.FindStringSubmatch(p)
	if y == nil || m == nil || d == nil {
		return ""
	}
	month, err := strconv.Atoi(m[1])
	if err != nil {
		return ""
	}
	day, err := strconv.Atoi(d[1])
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s-%02d-%02d", y[1], month, day)
}

// normalizePath rewrites a path to forward slashes, per §3 RawFile.path.
func normalizePath(p string) string {
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}

// GetFileStats groups raw_files by (type, ingested) with summed record
// counts (§4.C getFileStats()).
func (ix *Index) GetFileStats(ctx context.Context) ([]models.FileStats, error) {
	rows, err := ix.store.Query(ctx, `
		SELECT type, ingested, COUNT(*), COALESCE(SUM(record_count), 0)
		FROM raw_files
		GROUP BY type, ingested
		ORDER BY type, ingested`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FileStats
	for rows.Next() {
		var fs models.FileStats
		var typ string
		if err := rows.Scan(&typ, &fs.Ingested, &fs.FileCount, &fs.RecordCount); err != nil {
			return nil, err
		}
		fs.Type = models.FileType(typ)
		out = append(out, fs)
	}
	return out, rows.Err()
}

// GetPendingFileCount counts rows with ingested=false (§4.C
// getPendingFileCount()).
func (ix *Index) GetPendingFileCount(ctx context.Context) (int64, error) {
	var count int64
	err := ix.store.QueryRow(ctx, "SELECT COUNT(*) FROM raw_files WHERE ingested = FALSE").Scan(&count)
	return count, err
}

// ListFiles returns the most recently discovered raw_files rows, newest
// first, bounded by limit. Used by the /files HTTP surface.
func (ix *Index) ListFiles(ctx context.Context, limit int) ([]models.RawFile, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := ix.store.Query(ctx, `
		SELECT file_id, path, type, migration_id, record_date, record_count, min_ts, max_ts, ingested, ingested_at
		FROM raw_files
		ORDER BY file_id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RawFile
	for rows.Next() {
		var f models.RawFile
		var typ string
		var migrationID sql.NullInt64
		var recordDate sql.NullString
		var minTS, maxTS, ingestedAt sql.NullTime
		if err := rows.Scan(&f.FileID, &f.Path, &typ, &migrationID, &recordDate, &f.RecordCount, &minTS, &maxTS, &f.Ingested, &ingestedAt); err != nil {
			return nil, err
		}
		f.Type = models.FileType(typ)
		if migrationID.Valid {
			f.MigrationID = &migrationID.Int64
		}
		if recordDate.Valid {
			f.RecordDate = &recordDate.String
		}
		f.MinTS = minTS.Time
		f.MaxTS = maxTS.Time
		f.IngestedAt = ingestedAt.Time
		out = append(out, f)
	}
	return out, rows.Err()
}

func isNotExistLike(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such file or directory")
}

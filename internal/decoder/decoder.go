// Package decoder streams decoded records from a framed-compressed ledger
// snapshot file, one record at a time, in bounded memory (§4.A).
//
// A file is a concatenation of frames: a 4-byte big-endian unsigned length
// followed by a zstd-compressed payload of that length. The payload
// decompresses to a batch envelope carrying a repeated record field. The
// batch envelope itself is encoded with encoding/gob rather than a
// generated wire format: the specification explicitly treats the
// protocol-specific byte layout as an opaque decoder trait (§1), so the
// concrete schema is intentionally minimal and not meant to imitate any
// particular real-world wire format. The frame compression codec is not
// opaque, though — the specification calls out a real framed-compressed
// file convention, and the warehouse binds that to klauspost/compress's
// zstd implementation, the codec used directly in the erigon examples for
// exactly this kind of large append-only snapshot data.
package decoder

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// maxPlausibleFrameLen rejects frame-length fields that cannot possibly be
// real: a torn write can leave garbage bytes in the length prefix, so
// anything above this is treated as EOF rather than an error (§4.A.2).
const maxPlausibleFrameLen = 256 << 20 // 256MiB

// Record is the decoder's normalized output shape. Fields are a superset
// covering both event and update records; the ingestor (§4.D) projects
// this into the type-specific row for the file being read.
type Record struct {
	EventID        string
	UpdateID       string
	ContractID     string
	TemplateID     string
	EventType      string // created, exercised, archived
	EffectiveAt    time.Time
	RecordedAt     time.Time
	Signatories    []string
	Observers      []string
	ActingParties  []string
	Consuming      bool
	Choice         string
	SynchronizerID string
	Payload        []byte
}

// batchEnvelope is the decompressed payload of one frame: a repeated
// record field plus the raw microsecond timestamps a real batch would
// carry, normalized to UTC time.Time by decode (§4.A.4).
type batchEnvelope struct {
	Records []rawRecord
}

// rawRecord mirrors Record but with source-native microsecond timestamps,
// standing in for whatever millisecond/microsecond convention the real
// wire format would use; decode() normalizes these to ISO-8601 UTC.
type rawRecord struct {
	EventID            string
	UpdateID           string
	ContractID         string
	TemplateID         string
	EventType          string
	EffectiveAtMicros  int64
	RecordedAtMicros   int64
	Signatories        []string
	Observers          []string
	ActingParties      []string
	Consuming          bool
	Choice             string
	SynchronizerID     string
	Payload            []byte
}

// FileKind classifies a record file by its filename prefix.
type FileKind string

const (
	KindEvents  FileKind = "events"
	KindUpdates FileKind = "updates"
	KindUnknown FileKind = ""
)

// ClassifyFilename infers the file kind from its basename prefix
// ("events-" / "updates-"); unrecognized prefixes classify as KindUnknown.
func ClassifyFilename(name string) FileKind {
	base := name
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}
	switch {
	case strings.HasPrefix(base, "events-"):
		return KindEvents
	case strings.HasPrefix(base, "updates-"):
		return KindUpdates
	default:
		return KindUnknown
	}
}

// CorruptFrameError is returned internally to signal that the current
// frame could not be decoded; the iterator treats it identically to EOF,
// per §4.A failure semantics ("a corrupt single frame causes the iterator
// to end at that frame").
type CorruptFrameError struct {
	Path   string
	Offset int64
	Err    error
}

func (e *CorruptFrameError) Error() string {
	return fmt.Sprintf("decoder: corrupt frame in %s at offset %d: %v", e.Path, e.Offset, e.Err)
}

func (e *CorruptFrameError) Unwrap() error { return e.Err }

// Reader streams records from a single record file.
type Reader struct {
	path    string
	f       *os.File
	br      *bufio.Reader
	dec     *zstd.Decoder
	offset  int64
	pending []Record
	pendIdx int
	done    bool
	lastErr error
}

// Open begins a streaming read of path. The caller must call Close.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decoder: init zstd: %w", err)
	}
	return &Reader{
		path: path,
		f:    f,
		br:   bufio.NewReaderSize(f, 1<<20),
		dec:  dec,
	}, nil
}

// Close releases the file handle and decompressor.
func (r *Reader) Close() error {
	r.dec.Close()
	return r.f.Close()
}

// Err returns the last non-EOF error observed, if any. Iteration stops at
// a bad frame just as at EOF, but a partial length prefix or a frame that
// fails to decompress or decode is reported here as a *CorruptFrameError;
// a payload cut short at EOF or a zero/implausible length leaves Err nil.
func (r *Reader) Err() error { return r.lastErr }

// Next returns the next decoded record, or (Record{}, false) at end of
// file (clean EOF, truncated trailing frame, or corrupt frame — all
// treated identically per §4.A failure semantics).
func (r *Reader) Next() (Record, bool) {
	for {
		if r.pendIdx < len(r.pending) {
			rec := r.pending[r.pendIdx]
			r.pendIdx++
			return rec, true
		}
		if r.done {
			return Record{}, false
		}
		if !r.fillBatch() {
			r.done = true
			return Record{}, false
		}
	}
}

// fillBatch reads and decodes the next frame into r.pending. Returns false
// when there is no further frame to read (clean EOF or torn/corrupt frame).
func (r *Reader) fillBatch() bool {
	lenBuf := make([]byte, 4)
	n, err := io.ReadFull(r.br, lenBuf)
	if err != nil {
		// Partial length prefix at EOF: torn write; iteration ends and the
		// torn prefix is recorded for Err.
		if n > 0 && !errors.Is(err, io.EOF) {
			r.lastErr = &CorruptFrameError{Path: r.path, Offset: r.offset, Err: err}
		}
		return false
	}
	r.offset += 4

	frameLen := binary.BigEndian.Uint32(lenBuf)
	if frameLen == 0 || frameLen > maxPlausibleFrameLen {
		// Negative-looking or implausibly large lengths arise from torn
		// writes (§4.A.2); treat as EOF, not an error.
		return false
	}

	payload := make([]byte, frameLen)
	if _, err := io.ReadFull(r.br, payload); err != nil {
		// Truncated trailing frame: the rest of the file is unusable.
		return false
	}
	r.offset += int64(frameLen)

	decompressed, err := r.dec.DecodeAll(payload, nil)
	if err != nil {
		r.lastErr = &CorruptFrameError{Path: r.path, Offset: r.offset, Err: err}
		return false
	}

	var env batchEnvelope
	gobDec := gob.NewDecoder(bytes.NewReader(decompressed))
	if err := gobDec.Decode(&env); err != nil {
		r.lastErr = &CorruptFrameError{Path: r.path, Offset: r.offset, Err: err}
		return false
	}

	r.pending = r.pending[:0]
	for _, raw := range env.Records {
		r.pending = append(r.pending, normalize(raw))
	}
	r.pendIdx = 0
	return true
}

func normalize(raw rawRecord) Record {
	return Record{
		EventID:        raw.EventID,
		UpdateID:       raw.UpdateID,
		ContractID:     raw.ContractID,
		TemplateID:     raw.TemplateID,
		EventType:      raw.EventType,
		EffectiveAt:    time.UnixMicro(raw.EffectiveAtMicros).UTC(),
		RecordedAt:     time.UnixMicro(raw.RecordedAtMicros).UTC(),
		Signatories:    raw.Signatories,
		Observers:      raw.Observers,
		ActingParties:  raw.ActingParties,
		Consuming:      raw.Consuming,
		Choice:         raw.Choice,
		SynchronizerID: raw.SynchronizerID,
		Payload:        raw.Payload,
	}
}

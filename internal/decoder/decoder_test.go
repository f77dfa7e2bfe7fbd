package decoder

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFixture(t *testing.T, path string, batches [][]Record) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer f.Close()
	for _, batch := range batches {
		if err := WriteBatch(f, batch); err != nil {
			t.Fatalf("write batch: %v", err)
		}
	}
}

func sampleRecord(i int) Record {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute)
	return Record{
		EventID:     "event-" + string(rune('a'+i%26)),
		ContractID:  "contract-1",
		TemplateID:  "Splice.DsoRules:VoteRequest",
		EventType:   "created",
		EffectiveAt: now,
		RecordedAt:  now,
	}
}

func TestReaderYieldsAllRecordsInOrder(t *testing.T) {
	t.Parallel()

	const frames = 3
	const perFrame = 4
	var batches [][]Record
	want := 0
	for f := 0; f < frames; f++ {
		var batch []Record
		for i := 0; i < perFrame; i++ {
			batch = append(batch, sampleRecord(want))
			want++
		}
		batches = append(batches, batch)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "events-0001.bin")
	writeFixture(t, path, batches)

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	got := 0
	var lastEventID string
	for {
		rec, ok := r.Next()
		if !ok {
			break
		}
		got++
		lastEventID = rec.EventID
	}

	if got != want {
		t.Fatalf("got %d records, want %d", got, want)
	}
	if lastEventID == "" {
		t.Fatal("expected last record to carry an event id")
	}
	if err := r.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReaderStopsCleanlyAtTruncatedTrailingFrame(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WriteBatch(&buf, []Record{sampleRecord(0), sampleRecord(1)}); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	intact := buf.Bytes()

	var buf2 bytes.Buffer
	if err := WriteBatch(&buf2, []Record{sampleRecord(2)}); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	truncated := buf2.Bytes()[:len(buf2.Bytes())/2]

	dir := t.TempDir()
	path := filepath.Join(dir, "events-0002.bin")
	if err := os.WriteFile(path, append(intact, truncated...), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	count := 0
	for {
		_, ok := r.Next()
		if !ok {
			break
		}
		count++
	}

	if count != 2 {
		t.Fatalf("got %d records from intact frame, want 2", count)
	}
}

func TestReaderEmptyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "events-0003.bin")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if _, ok := r.Next(); ok {
		t.Fatal("expected no records from empty file")
	}
}

func TestClassifyFilename(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		want FileKind
	}{
		{"events-0001.bin", KindEvents},
		{"updates-0001.bin", KindUpdates},
		{"migration=2/year=2026/month=01/day=01/events-0005.bin", KindEvents},
		{"snapshot-0001.bin", KindUnknown},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ClassifyFilename(tc.name); got != tc.want {
				t.Errorf("ClassifyFilename(%q) = %q, want %q", tc.name, got, tc.want)
			}
		})
	}
}

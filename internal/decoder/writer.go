package decoder

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"

	"github.com/klauspost/compress/zstd"
)

// WriteBatch appends one frame containing recs to w. It is the inverse of
// fillBatch and exists primarily so tests (and offline tooling) can build
// fixture record files without depending on a real upstream producer.
func WriteBatch(w io.Writer, recs []Record) error {
	env := batchEnvelope{Records: make([]rawRecord, len(recs))}
	for i, r := range recs {
		env.Records[i] = rawRecord{
			EventID:           r.EventID,
			UpdateID:          r.UpdateID,
			ContractID:        r.ContractID,
			TemplateID:        r.TemplateID,
			EventType:         r.EventType,
			EffectiveAtMicros: r.EffectiveAt.UnixMicro(),
			RecordedAtMicros:  r.RecordedAt.UnixMicro(),
			Signatories:       r.Signatories,
			Observers:         r.Observers,
			ActingParties:     r.ActingParties,
			Consuming:         r.Consuming,
			Choice:            r.Choice,
			SynchronizerID:    r.SynchronizerID,
			Payload:           r.Payload,
		}
	}

	var gobBuf bytes.Buffer
	if err := gob.NewEncoder(&gobBuf).Encode(env); err != nil {
		return err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	defer enc.Close()
	compressed := enc.EncodeAll(gobBuf.Bytes(), nil)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(compressed)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(compressed)
	return err
}

package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"covdiff/internal/coverage"
	"covdiff/internal/diff"
	"covdiff/internal/probes"
)

// codec compresses blobs with zstd. EncodeAll and DecodeAll are safe for
// concurrent use, so one codec serves the whole DB.
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &codec{enc: enc, dec: dec}, nil
}

func (c *codec) close() {
	_ = c.enc.Close()
	c.dec.Close()
}

func (c *codec) compress(raw []byte) []byte {
	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

func (c *codec) decompress(blob []byte) ([]byte, error) {
	raw, err := c.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress blob: %w", err)
	}
	return raw, nil
}

// encodeClassProbes writes classes in sorted order as
// uvarint(count) { uvarint(len) name uvarint(len) bits }.
func encodeClassProbes(cp coverage.ClassProbes) ([]byte, error) {
	buf := binary.AppendUvarint(nil, uint64(len(cp)))
	for _, class := range cp.Classes() {
		bits, err := cp[class].MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", class, err)
		}
		buf = binary.AppendUvarint(buf, uint64(len(class)))
		buf = append(buf, class...)
		buf = binary.AppendUvarint(buf, uint64(len(bits)))
		buf = append(buf, bits...)
	}
	return buf, nil
}

func decodeClassProbes(data []byte) (coverage.ClassProbes, error) {
	next := func() ([]byte, error) {
		n, k := binary.Uvarint(data)
		if k <= 0 || uint64(len(data)-k) < n {
			return nil, fmt.Errorf("truncated probe blob")
		}
		out := data[k : k+int(n)]
		data = data[k+int(n):]
		return out, nil
	}

	count, k := binary.Uvarint(data)
	if k <= 0 {
		return nil, fmt.Errorf("truncated probe blob")
	}
	data = data[k:]

	out := make(coverage.ClassProbes, count)
	for i := uint64(0); i < count; i++ {
		name, err := next()
		if err != nil {
			return nil, err
		}
		raw, err := next()
		if err != nil {
			return nil, err
		}
		var bits probes.Bits
		if err := bits.UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("class %s: %w", name, err)
		}
		out[string(name)] = bits
	}
	return out, nil
}

func (c *codec) packProbes(cp coverage.ClassProbes) ([]byte, error) {
	raw, err := encodeClassProbes(cp)
	if err != nil {
		return nil, err
	}
	return c.compress(raw), nil
}

func (c *codec) unpackProbes(blob []byte) (coverage.ClassProbes, error) {
	raw, err := c.decompress(blob)
	if err != nil {
		return nil, err
	}
	return decodeClassProbes(raw)
}

type bundleRecord struct {
	Total       []byte            `json:"total"`
	PerTest     []testRecord      `json:"perTest"`
	PerTestType map[string][]byte `json:"perTestType"`
	Overlap     []byte            `json:"overlap"`
	Executions  int               `json:"executions"`
}

type testRecord struct {
	Test    coverage.TestKey `json:"test"`
	Classes []byte           `json:"classes"`
}

func (c *codec) packBundle(b *coverage.Bundle) ([]byte, error) {
	rec := bundleRecord{PerTestType: map[string][]byte{}, Executions: b.Executions}
	var err error
	if rec.Total, err = encodeClassProbes(b.Total); err != nil {
		return nil, err
	}
	if rec.Overlap, err = encodeClassProbes(b.Overlap); err != nil {
		return nil, err
	}
	for _, key := range b.Tests() {
		classes, err := encodeClassProbes(b.PerTest[key])
		if err != nil {
			return nil, err
		}
		rec.PerTest = append(rec.PerTest, testRecord{Test: key, Classes: classes})
	}
	for typ, cp := range b.PerTestType {
		if rec.PerTestType[typ], err = encodeClassProbes(cp); err != nil {
			return nil, err
		}
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bundle: %w", err)
	}
	return c.compress(raw), nil
}

func (c *codec) unpackBundle(build diff.BuildKey, blob []byte) (*coverage.Bundle, error) {
	raw, err := c.decompress(blob)
	if err != nil {
		return nil, err
	}
	var rec bundleRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode bundle: %w", err)
	}

	b := coverage.NewBundle(build)
	b.Executions = rec.Executions
	if b.Total, err = decodeClassProbes(rec.Total); err != nil {
		return nil, err
	}
	if b.Overlap, err = decodeClassProbes(rec.Overlap); err != nil {
		return nil, err
	}
	for _, t := range rec.PerTest {
		if b.PerTest[t.Test], err = decodeClassProbes(t.Classes); err != nil {
			return nil, err
		}
	}
	for typ, data := range rec.PerTestType {
		if b.PerTestType[typ], err = decodeClassProbes(data); err != nil {
			return nil, err
		}
	}
	return b, nil
}

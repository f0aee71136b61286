package vectorindex

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// On-disk layout, little endian:
//
//	header  magic[4] version:u16 metric:u8 dims:u32 nextSeq:u64 count:u64
//	entry   seq:u64 idLen:u16 id[idLen] vector[dims]float32
const (
	formatVersion uint16 = 1
	maxIDLen             = math.MaxUint16
)

var magic = [4]byte{'D', 'C', 'V', 'X'}

type fileHeader struct {
	Magic   [4]byte
	Version uint16
	Metric  uint8
	Dims    uint32
	NextSeq uint64
	Count   uint64
}

func metricTag(m Metric) uint8 {
	switch m {
	case Cosine:
		return 1
	case Dot:
		return 2
	default:
		return 0
	}
}

func metricFromTag(tag uint8) (Metric, bool) {
	switch tag {
	case 1:
		return Cosine, true
	case 2:
		return Dot, true
	default:
		return "", false
	}
}

// Save atomically writes the index to path.
func (f *Flat) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := f.WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}

// WriteTo serializes the index, including its dimensions and metric tag.
func (f *Flat) WriteTo(w io.Writer) (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	bw := bufio.NewWriter(w)
	cw := &countingWriter{w: bw}

	hdr := fileHeader{
		Magic:   magic,
		Version: formatVersion,
		Metric:  metricTag(f.metric),
		Dims:    uint32(f.dims),
		NextSeq: f.nextSeq,
		Count:   uint64(len(f.entries)),
	}
	if err := binary.Write(cw, binary.LittleEndian, hdr); err != nil {
		return cw.n, err
	}

	buf := make([]byte, 0, 10+f.dims*4)
	for _, e := range f.entries {
		if len(e.id) > maxIDLen {
			return cw.n, fmt.Errorf("vector id %.32q... exceeds %d bytes", e.id, maxIDLen)
		}
		buf = buf[:0]
		buf = binary.LittleEndian.AppendUint64(buf, e.seq)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.id)))
		buf = append(buf, e.id...)
		buf = appendFloat32s(buf, e.vec)
		if _, err := cw.Write(buf); err != nil {
			return cw.n, err
		}
	}

	return cw.n, bw.Flush()
}

// LoadFlat reads an index written by Save. It fails with ErrIncompatible when
// the stored dimensions or metric differ from the requested ones, or when the
// file is not a valid index. A dims of 0 and an empty metric accept what is stored.
func LoadFlat(path string, dims int, metric Metric) (*Flat, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer file.Close()

	f, err := ReadFlat(bufio.NewReader(file), dims, metric)
	if err != nil {
		return nil, fmt.Errorf("load index %s: %w", path, err)
	}
	f.path = path
	return f, nil
}

// ReadFlat deserializes an index from r. See LoadFlat for compatibility rules.
func ReadFlat(r io.Reader, dims int, metric Metric) (*Flat, error) {
	var hdr fileHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrIncompatible, err)
	}
	if hdr.Magic != magic {
		return nil, fmt.Errorf("%w: not a vector index file", ErrIncompatible)
	}
	if hdr.Version != formatVersion {
		return nil, fmt.Errorf("%w: format version %d, expected %d", ErrIncompatible, hdr.Version, formatVersion)
	}
	stored, ok := metricFromTag(hdr.Metric)
	if !ok {
		return nil, fmt.Errorf("%w: unknown metric tag %d", ErrIncompatible, hdr.Metric)
	}
	if metric != "" && stored != metric {
		return nil, fmt.Errorf("%w: stored metric %s, expected %s", ErrIncompatible, stored, metric)
	}
	if dims > 0 && int(hdr.Dims) != dims {
		return nil, fmt.Errorf("%w: stored dimensions %d, expected %d", ErrIncompatible, hdr.Dims, dims)
	}

	f, err := NewFlat(int(hdr.Dims), stored)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompatible, err)
	}
	f.nextSeq = hdr.NextSeq

	vecBuf := make([]byte, int(hdr.Dims)*4)
	var fixed [10]byte
	for i := uint64(0); i < hdr.Count; i++ {
		if _, err := io.ReadFull(r, fixed[:]); err != nil {
			return nil, truncated(i, err)
		}
		seq := binary.LittleEndian.Uint64(fixed[:8])
		idLen := binary.LittleEndian.Uint16(fixed[8:])

		id := make([]byte, idLen)
		if _, err := io.ReadFull(r, id); err != nil {
			return nil, truncated(i, err)
		}
		if _, err := io.ReadFull(r, vecBuf); err != nil {
			return nil, truncated(i, err)
		}
		if _, dup := f.byID[string(id)]; dup {
			return nil, fmt.Errorf("%w: duplicate entry %q", ErrIncompatible, id)
		}
		f.appendLocked(string(id), seq, float32sFromBytes(vecBuf))
	}

	return f, nil
}

func truncated(entry uint64, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated at entry %d", ErrIncompatible, entry)
	}
	return fmt.Errorf("read entry %d: %w", entry, err)
}

func appendFloat32s(buf []byte, v []float32) []byte {
	for _, x := range v {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(x))
	}
	return buf
}

func float32sFromBytes(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

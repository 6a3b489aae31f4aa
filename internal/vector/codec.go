package vector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// PayloadSuffix is appended to the save prefix to name the payload file.
const PayloadSuffix = ".payloads.json"

const (
	formatVersion = 1
	headerSize    = 32
	trailerSize   = 4
)

var fileMagic = [4]byte{'A', 'B', 'V', 'X'}

// fileHeader is the fixed little-endian header of the vector file. It is followed by
// Count*Dimension float32 values and a CRC-32 (IEEE) of everything before it.
type fileHeader struct {
	Magic      [4]byte
	Version    uint16
	Reserved   uint16
	Dimension  uint32
	Count      uint32
	Generation [16]byte
}

// payloadFile is the JSON document stored next to the vector file.
type payloadFile[P any] struct {
	Version    int    `json:"version"`
	Generation string `json:"generation"`
	Count      int    `json:"count"`
	Payloads   []P    `json:"payloads"`
}

type snapshot[P any] struct {
	dimension int
	vectors   [][]float32
	payloads  []P
}

// writeSnapshot writes the payload file and then the vector file, each through a temp
// file and rename. Both carry the same generation so a torn pair is detected on load.
func writeSnapshot[P any](prefix string, snap snapshot[P]) (uuid.UUID, error) {
	gen := uuid.New()
	if err := os.MkdirAll(filepath.Dir(prefix), 0755); err != nil {
		return gen, fmt.Errorf("%w: create index dir: %w", ErrIOFailure, err)
	}

	payloads := snap.payloads
	if payloads == nil {
		payloads = make([]P, 0)
	}
	data, err := json.Marshal(payloadFile[P]{
		Version:    formatVersion,
		Generation: gen.String(),
		Count:      len(payloads),
		Payloads:   payloads,
	})
	if err != nil {
		return gen, fmt.Errorf("%w: encode payloads: %w", ErrIOFailure, err)
	}
	if err := writeFileAtomic(prefix+PayloadSuffix, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return gen, err
	}

	if err := writeFileAtomic(prefix, func(w io.Writer) error {
		return encodeVectors(w, snap.dimension, gen, snap.vectors)
	}); err != nil {
		return gen, err
	}
	return gen, nil
}

func encodeVectors(w io.Writer, dimension int, gen uuid.UUID, vectors [][]float32) error {
	h := crc32.NewIEEE()
	mw := io.MultiWriter(w, h)
	hdr := fileHeader{
		Magic:      fileMagic,
		Version:    formatVersion,
		Dimension:  uint32(dimension),
		Count:      uint32(len(vectors)),
		Generation: gen,
	}
	if err := binary.Write(mw, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, vec := range vectors {
		if _, err := mw.Write(float32SliceToBytes(vec)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, h.Sum32()); err != nil {
		return fmt.Errorf("write checksum: %w", err)
	}
	return nil
}

// writeFileAtomic writes path via a synced temp file in the same directory.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrIOFailure, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrIOFailure, path, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: flush %s: %w", ErrIOFailure, path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", ErrIOFailure, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrIOFailure, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		committed = true
		return fmt.Errorf("%w: rename %s: %w", ErrIOFailure, path, err)
	}
	committed = true
	return nil
}

// readSnapshot loads and cross-checks both files. It never returns a partial snapshot.
func readSnapshot[P any](prefix string) (snapshot[P], error) {
	var snap snapshot[P]
	vectorPath := prefix
	payloadPath := prefix + PayloadSuffix
	for _, p := range []string{vectorPath, payloadPath} {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return snap, fmt.Errorf("%w: %s", ErrNotFound, p)
			}
			return snap, fmt.Errorf("%w: stat %s: %w", ErrIOFailure, p, err)
		}
	}

	raw, err := os.ReadFile(vectorPath)
	if err != nil {
		return snap, fmt.Errorf("%w: read %s: %w", ErrIOFailure, vectorPath, err)
	}
	dimension, gen, vectors, err := decodeVectors(raw)
	if err != nil {
		return snap, fmt.Errorf("%w: %s: %w", ErrCorruptData, vectorPath, err)
	}

	data, err := os.ReadFile(payloadPath)
	if err != nil {
		return snap, fmt.Errorf("%w: read %s: %w", ErrIOFailure, payloadPath, err)
	}
	var pf payloadFile[P]
	if err := json.Unmarshal(data, &pf); err != nil {
		return snap, fmt.Errorf("%w: %s: %w", ErrCorruptData, payloadPath, err)
	}
	if pf.Version != formatVersion {
		return snap, fmt.Errorf("%w: %s: unsupported version %d", ErrCorruptData, payloadPath, pf.Version)
	}
	if pf.Count != len(pf.Payloads) {
		return snap, fmt.Errorf("%w: %s: header count %d, found %d payloads", ErrCorruptData, payloadPath, pf.Count, len(pf.Payloads))
	}
	if pf.Generation != gen.String() {
		return snap, fmt.Errorf("%w: generation mismatch: vectors %s, payloads %s", ErrCorruptData, gen, pf.Generation)
	}
	if len(pf.Payloads) != len(vectors) {
		return snap, fmt.Errorf("%w: %d vectors, %d payloads", ErrCorruptData, len(vectors), len(pf.Payloads))
	}

	snap.dimension = dimension
	snap.vectors = vectors
	snap.payloads = pf.Payloads
	if snap.payloads == nil {
		snap.payloads = make([]P, 0)
	}
	return snap, nil
}

func decodeVectors(raw []byte) (int, uuid.UUID, [][]float32, error) {
	if len(raw) < headerSize+trailerSize {
		return 0, uuid.Nil, nil, fmt.Errorf("file too short: %d bytes", len(raw))
	}
	var hdr fileHeader
	if err := binary.Read(bytes.NewReader(raw[:headerSize]), binary.LittleEndian, &hdr); err != nil {
		return 0, uuid.Nil, nil, fmt.Errorf("read header: %w", err)
	}
	if hdr.Magic != fileMagic {
		return 0, uuid.Nil, nil, fmt.Errorf("bad magic %q", hdr.Magic[:])
	}
	if hdr.Version != formatVersion {
		return 0, uuid.Nil, nil, fmt.Errorf("unsupported version %d", hdr.Version)
	}
	if hdr.Dimension == 0 || hdr.Dimension > math.MaxInt32 {
		return 0, uuid.Nil, nil, fmt.Errorf("invalid dimension %d", hdr.Dimension)
	}
	want := uint64(headerSize) + uint64(hdr.Count)*uint64(hdr.Dimension)*4 + trailerSize
	if uint64(len(raw)) != want {
		return 0, uuid.Nil, nil, fmt.Errorf("size %d bytes, header implies %d", len(raw), want)
	}
	body := raw[:len(raw)-trailerSize]
	if got, stored := crc32.ChecksumIEEE(body), binary.LittleEndian.Uint32(raw[len(raw)-trailerSize:]); got != stored {
		return 0, uuid.Nil, nil, fmt.Errorf("checksum mismatch: computed %08x, stored %08x", got, stored)
	}

	dim := int(hdr.Dimension)
	stride := dim * 4
	vectors := make([][]float32, hdr.Count)
	for i := range vectors {
		off := headerSize + i*stride
		vectors[i] = bytesToFloat32Slice(body[off : off+stride])
	}
	return dim, uuid.UUID(hdr.Generation), vectors, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// Package snapshot encodes batches of ResourceIndices into a compact binary
// file: a fixed header followed by an LZ4 block holding MessagePack.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ehr/fhirindex/internal/index"
)

const (
	// MagicBytes identifies a snapshot file.
	MagicBytes = "FIDX"
	// FormatVersion is the current header version.
	FormatVersion uint8 = 1
)

const flagUncompressed uint8 = 1 << 0

// ErrInvalidFormat is returned when data is not a snapshot.
var ErrInvalidFormat = errors.New("snapshot: invalid format")

// Header precedes the payload.
type Header struct {
	Magic    [4]byte
	Version  uint8
	Flags    uint8
	Reserved [2]byte
	// Length is the size of the MessagePack payload before compression.
	Length uint32
}

// Compressed reports whether the payload is LZ4 compressed.
func (h Header) Compressed() bool {
	return h.Flags&flagUncompressed == 0
}

// Snapshot is a batch of indexed resources.
type Snapshot struct {
	CreatedAt time.Time               `json:"createdAt"`
	Resources []index.ResourceIndices `json:"resources"`
}

// Encode writes s to w.
func Encode(w io.Writer, s Snapshot) error {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode MessagePack: %w", err)
	}
	payload := buf.Bytes()
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("snapshot too large: %d bytes", len(payload))
	}

	header := Header{Version: FormatVersion, Length: uint32(len(payload))}
	copy(header.Magic[:], MagicBytes)

	compressed := make([]byte, lz4.CompressBlockBound(len(payload)))
	var hashTable [1 << 16]int
	n, err := lz4.CompressBlock(payload, compressed, hashTable[:])
	if err != nil {
		return fmt.Errorf("compress payload: %w", err)
	}
	body := compressed[:n]
	// CompressBlock reports incompressible input with n == 0.
	if n == 0 || n >= len(payload) {
		header.Flags |= flagUncompressed
		body = payload
	}

	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadHeader reads and validates the header at the start of r.
func ReadHeader(r io.Reader) (Header, error) {
	var header Header
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return Header{}, fmt.Errorf("%w: read header: %v", ErrInvalidFormat, err)
	}
	if string(header.Magic[:]) != MagicBytes {
		return Header{}, fmt.Errorf("%w: expected magic %s, got %q", ErrInvalidFormat, MagicBytes, header.Magic[:])
	}
	if header.Version != FormatVersion {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidFormat, header.Version)
	}
	return header, nil
}

// Decode reads a snapshot written by Encode.
func Decode(r io.Reader) (Snapshot, error) {
	header, err := ReadHeader(r)
	if err != nil {
		return Snapshot{}, err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read payload: %w", err)
	}

	payload := body
	if header.Flags&flagUncompressed == 0 {
		payload = make([]byte, header.Length)
		n, err := lz4.UncompressBlock(body, payload)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: decompress payload: %v", ErrInvalidFormat, err)
		}
		payload = payload[:n]
	}
	if len(payload) != int(header.Length) {
		return Snapshot{}, fmt.Errorf("%w: payload is %d bytes, header says %d", ErrInvalidFormat, len(payload), header.Length)
	}

	var s Snapshot
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&s); err != nil {
		return Snapshot{}, fmt.Errorf("decode MessagePack: %w", err)
	}
	return s, nil
}

// WriteFile writes s to path, replacing any existing file only once the
// new one is complete.
func WriteFile(path string, s Snapshot) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, s); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// ReadFile reads the snapshot at path.
func ReadFile(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Package snapshot persists world state as a zstd stream holding a JSON header line
// followed by a gob body.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	ObsRadius         int `json:"obs_radius"`
	GrowTicks         int `json:"grow_ticks"`
	RegrowTicks       int `json:"regrow_ticks"`
	ContainerCapacity int `json:"container_capacity"`
	NextSign          int `json:"next_sign"`

	Blocks     []BlockV1     `json:"blocks"`
	Pending    []PendingV1   `json:"pending,omitempty"`
	Containers []ContainerV1 `json:"containers,omitempty"`
	Drops      []DropV1      `json:"drops,omitempty"`
	Signs      []SignV1      `json:"signs,omitempty"`
	Agents     []AgentV1     `json:"agents,omitempty"`
}

type BlockV1 struct {
	Pos   [3]int `json:"pos"`
	Block string `json:"block"`
}

type PendingV1 struct {
	Pos   [3]int `json:"pos"`
	Block string `json:"block"`
	Due   uint64 `json:"due"`
}

type ContainerV1 struct {
	ID        string         `json:"id"`
	Pos       [3]int         `json:"pos"`
	Capacity  int            `json:"capacity"`
	Inventory map[string]int `json:"inventory,omitempty"`
}

type DropV1 struct {
	Pos   [3]int         `json:"pos"`
	Items map[string]int `json:"items"`
}

type SignV1 struct {
	ID   string `json:"id"`
	Pos  [3]int `json:"pos"`
	Text string `json:"text"`
	By   string `json:"by,omitempty"`
}

type AgentV1 struct {
	ID        string         `json:"id"`
	Pos       [3]int         `json:"pos"`
	Inventory map[string]int `json:"inventory,omitempty"`
}

func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	h, err := readHeader(br)
	if err != nil {
		return snap, err
	}
	if h.Version != Version {
		return snap, fmt.Errorf("snapshot %s: unsupported version %d", path, h.Version)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader decodes only the header line.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return Header{}, err
	}
	defer dec.Close()
	return readHeader(bufio.NewReader(dec))
}

func readHeader(br *bufio.Reader) (Header, error) {
	var h Header
	line, err := br.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return h, fmt.Errorf("snapshot header: %w", io.ErrUnexpectedEOF)
		}
		return h, err
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("snapshot header: %w", err)
	}
	return h, nil
}

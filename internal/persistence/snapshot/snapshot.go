package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"settlecraft.ai/internal/sim/gridworld"
	"settlecraft.ai/internal/sim/settlement"
)

const (
	Version = 1
	suffix  = ".snap.zst"
)

// Header is written as a JSON line ahead of the gob body so tools can
// identify a file without decoding it.
type Header struct {
	Version   int    `json:"version"`
	Dimension string `json:"dimension"`
	Tick      uint64 `json:"tick"`
	// CatalogDigest fingerprints the item, block, tag and recipe files the
	// state was produced with.
	CatalogDigest string `json:"catalog_digest,omitempty"`
	Stations      int    `json:"stations"`
	Agents        int    `json:"agents"`
}

type SnapshotV1 struct {
	Header     Header
	Settlement settlement.Snapshot
	World      gridworld.State
	// Seed is the executor seed, kept so a resumed run idles the same way.
	Seed int64
}

func New(set settlement.Snapshot, w gridworld.State, catalogDigest string, seed int64) SnapshotV1 {
	return SnapshotV1{
		Header: Header{
			Version:       Version,
			Dimension:     set.Dimension,
			Tick:          set.Tick,
			CatalogDigest: catalogDigest,
			Stations:      len(set.Stations),
			Agents:        len(set.Agents),
		},
		Settlement: set,
		World:      w,
		Seed:       seed,
	}
}

// FileName is the canonical name for a snapshot taken at tick.
func FileName(tick uint64) string { return strconv.FormatUint(tick, 10) + suffix }

// WriteSnapshot writes to a temporary file and renames it into place, so a
// crash never leaves a truncated snapshot under the final name.
func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(snap.Header)
	if err != nil {
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
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
	if _, err := readHeader(br); err != nil {
		return snap, err
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot version %d, want %d", snap.Header.Version, Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading header line.
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
		return h, fmt.Errorf("snapshot header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("snapshot header: %w", err)
	}
	return h, nil
}

type entry struct {
	tick uint64
	path string
}

func list(dir string) []entry {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []entry
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, suffix), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, entry{tick: tick, path: filepath.Join(dir, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].tick < out[j].tick })
	return out
}

// Latest returns the snapshot in dir with the highest tick, or "".
func Latest(dir string) string {
	l := list(dir)
	if len(l) == 0 {
		return ""
	}
	return l[len(l)-1].path
}

// Prune deletes all but the newest keep snapshots in dir.
func Prune(dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	l := list(dir)
	if len(l) <= keep {
		return nil, nil
	}
	var removed []string
	for _, e := range l[:len(l)-keep] {
		if err := os.Remove(e.path); err != nil {
			return removed, err
		}
		removed = append(removed, e.path)
	}
	return removed, nil
}

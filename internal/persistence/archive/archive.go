// Package archive keeps long-lived copies of selected snapshots outside
// the pruned snapshot directory.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"settlecraft.ai/internal/persistence/snapshot"
)

type Meta struct {
	Epoch         int    `json:"epoch"`
	Tick          uint64 `json:"tick"`
	Dimension     string `json:"dimension"`
	Seed          int64  `json:"seed"`
	Snapshot      string `json:"snapshot"`
	Stations      int    `json:"stations"`
	CatalogDigest string `json:"catalog_digest,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// Dir is the archive directory for one epoch.
func Dir(dataDir string, epoch int) string {
	return filepath.Join(dataDir, "archives", fmt.Sprintf("epoch_%03d", epoch))
}

// ArchiveSnapshot copies the snapshot at snapshotPath into
// dataDir/archives/epoch_NNN/ when its tick falls on an every-tick
// boundary. It reports archived=false, with no error, otherwise.
func ArchiveSnapshot(dataDir, snapshotPath string, h snapshot.Header, seed int64, every uint64) (epoch int, archivedPath string, archived bool, err error) {
	if every == 0 || h.Tick == 0 || h.Tick%every != 0 {
		return 0, "", false, nil
	}
	epoch = int(h.Tick / every)

	dir := Dir(dataDir, epoch)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, "", false, err
	}
	dst := filepath.Join(dir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", false, fmt.Errorf("archive epoch %d: %w", epoch, err)
	}

	meta := Meta{
		Epoch:         epoch,
		Tick:          h.Tick,
		Dimension:     h.Dimension,
		Seed:          seed,
		Snapshot:      filepath.Base(dst),
		Stations:      h.Stations,
		CatalogDigest: h.CatalogDigest,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return 0, "", false, err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644); err != nil {
		return 0, "", false, err
	}
	return epoch, dst, true, nil
}

// ReadMeta loads the meta.json of one epoch.
func ReadMeta(dataDir string, epoch int) (Meta, error) {
	var m Meta
	b, err := os.ReadFile(filepath.Join(Dir(dataDir, epoch), "meta.json"))
	if err != nil {
		return m, err
	}
	return m, json.Unmarshal(b, &m)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

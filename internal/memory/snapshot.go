package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"loclab.gg/stringsmith/internal/language"
)

// Snapshot is the serialized form of a whole memory, the unit of exchange
// with persisters and the local fallback files.
type Snapshot struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	SourceLanguage string    `json:"sourceLanguage"`
	TargetLanguage string    `json:"targetLanguage"`
	Units          []Unit    `json:"units"`
	Stats          Stats     `json:"stats"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Snapshots reads and writes memory snapshots as JSON files named
// tm_<source>_<target>.json under one directory. It satisfies Persister,
// so it can serve either as the primary store (no database configured) or
// as the fallback behind one.
type Snapshots struct {
	dir string
}

func NewSnapshots(dir string) *Snapshots {
	return &Snapshots{dir: dir}
}

func (s *Snapshots) Load(_ context.Context, pair language.Pair) (*Snapshot, error) {
	data, err := os.ReadFile(s.path(pair))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", pair.Key(), err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", pair.Key(), err)
	}
	return &snap, nil
}

// Save writes atomically: the document lands in a temp file first and is
// renamed over the previous snapshot, so a crash cannot half-write one.
func (s *Snapshots) Save(_ context.Context, snap *Snapshot) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	pair := language.Pair{Source: snap.SourceLanguage, Target: snap.TargetLanguage}
	target := s.path(pair)
	tmp, err := os.CreateTemp(s.dir, "tm_*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *Snapshots) path(pair language.Pair) string {
	return filepath.Join(s.dir, "tm_"+pair.Key()+".json")
}

package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Checkpoint tracks how far a file has been loaded into an index, so an
// interrupted load resumes after the last committed batch.
type Checkpoint struct {
	File      string    `json:"file"`
	Index     string    `json:"index"`
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Lines     int64     `json:"lines"`  // lines fully committed; skipped on resume
	Loaded    int64     `json:"loaded"` // documents acknowledged by the engine
	Invalid   int64     `json:"invalid"`
	Completed bool      `json:"completed"`
}

// CheckpointStore keeps one checkpoint file per (file, index) pair.
type CheckpointStore struct {
	dir string
}

// NewCheckpointStore creates a checkpoint store in the given directory.
func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir %s: %w", dir, err)
	}
	return &CheckpointStore{dir: dir}, nil
}

// path derives a stable file name from the absolute source path, so two
// files with the same base name in different directories do not collide.
func (s *CheckpointStore) path(file, index string) string {
	abs, err := filepath.Abs(file)
	if err != nil {
		abs = file
	}
	key := uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+abs+"#"+index))
	return filepath.Join(s.dir, filepath.Base(index)+"-"+key.String()+".checkpoint.json")
}

// Load reads the checkpoint for file and index. It returns nil when there is
// none or when the previous run completed, so the next run starts fresh.
func (s *CheckpointStore) Load(file, index string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(file, index))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parsing checkpoint: %w", err)
	}
	if cp.Completed {
		return nil, nil
	}
	return &cp, nil
}

// Save persists the checkpoint. The file is replaced atomically.
func (s *CheckpointStore) Save(cp *Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}

	path := s.path(cp.File, cp.Index)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}

// MarkComplete records that cp finished.
func (s *CheckpointStore) MarkComplete(cp *Checkpoint) error {
	cp.Completed = true
	return s.Save(cp)
}

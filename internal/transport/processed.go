package transport

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// retentionHorizon is how long a processed transport id is remembered.
// At-least-once delivery windows are far shorter than this; pruning on load
// keeps the file bounded.
const retentionHorizon = 30 * 24 * time.Hour

// ProcessedSet is the persisted dedup set: transport-message-id to the time
// it was first seen. It is what converts at-least-once delivery into
// effectively-once processing.
type ProcessedSet struct {
	path string
	seen map[string]time.Time
}

// LoadProcessedSet reads the set from its JSON file, pruning entries older
// than the retention horizon. A missing file yields an empty set.
func LoadProcessedSet(path string) (*ProcessedSet, error) {
	s := &ProcessedSet{
		path: path,
		seen: make(map[string]time.Time),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading processed set %s: %w", path, err)
	}

	raw := make(map[string]time.Time)
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing processed set %s: %w", path, err)
	}

	cutoff := time.Now().Add(-retentionHorizon)
	for id, seenAt := range raw {
		if seenAt.After(cutoff) {
			s.seen[id] = seenAt
		}
	}
	return s, nil
}

// Contains reports whether the transport id has already been processed.
func (s *ProcessedSet) Contains(transportID string) bool {
	_, ok := s.seen[transportID]
	return ok
}

// Mark records the transport id as processed. Save must be called to
// persist.
func (s *ProcessedSet) Mark(transportID string) {
	if transportID == "" {
		return
	}
	if _, ok := s.seen[transportID]; !ok {
		s.seen[transportID] = time.Now()
	}
}

// Len returns the number of remembered ids.
func (s *ProcessedSet) Len() int {
	return len(s.seen)
}

// Save writes the set to its JSON file, creating parent directories as
// needed. The write goes through a temp file and rename so a crash cannot
// leave a truncated set behind.
func (s *ProcessedSet) Save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(s.seen, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding processed set: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing processed set: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing processed set: %w", err)
	}
	return nil
}

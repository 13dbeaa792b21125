// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package checkpoint is the Checkpoint Store: structured sidecar metadata
// keyed by git commit SHA, independent of commit message text, shared
// across every run against the same repository. Grounded on the teacher's
// checkpoint.Manager (mutex-guarded, keyed-file persistence) but reworked
// from in-memory run tracking into the append-only, filesystem-authoritative
// index the supervisor needs for resume.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/runrhq/runr/internal/model"
)

// Store reads and writes sidecar files under a single checkpoints root,
// shared by every run against the repository that root belongs to.
type Store struct {
	root string
	mu   sync.Mutex
}

// New returns a Store rooted at root (typically
// runstore.RootsFor(repoRoot)'s checkpoint root).
func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) pathFor(sha string) string {
	return filepath.Join(s.root, sha+".json")
}

// WriteCheckpoint writes sidecar atomically. It is idempotent: writing the
// same sidecar for the same SHA twice succeeds and leaves the same content
// (checkpoints are immutable once written, but a retried write after a
// crash mid-write must not fail).
func (s *Store) WriteCheckpoint(sidecar model.Sidecar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sidecar.SchemaVersion == 0 {
		sidecar.SchemaVersion = model.SidecarSchemaVersion
	}
	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return fmt.Errorf("creating checkpoints root: %w", err)
	}

	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling sidecar for %s: %w", sidecar.CommitSHA, err)
	}

	path := s.pathFor(sidecar.CommitSHA)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing sidecar temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming sidecar into place: %w", err)
	}
	return nil
}

// FindLatestBySha returns the sidecar for sha, or (Sidecar{}, false, nil) if
// none exists.
func (s *Store) FindLatestBySha(sha string) (model.Sidecar, bool, error) {
	data, err := os.ReadFile(s.pathFor(sha))
	if err != nil {
		if os.IsNotExist(err) {
			return model.Sidecar{}, false, nil
		}
		return model.Sidecar{}, false, fmt.Errorf("reading sidecar for %s: %w", sha, err)
	}
	var sidecar model.Sidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		// A malformed sidecar is tolerated, not fatal — treat as absent.
		return model.Sidecar{}, false, nil
	}
	return sidecar, true, nil
}

// FindLatestByRun scans the checkpoints directory for sidecars belonging to
// runID and returns the one with the highest milestone index, breaking ties
// by file modification time (most recent wins). Malformed JSON files are
// skipped rather than treated as an error.
func (s *Store) FindLatestByRun(runID string) (model.Sidecar, bool, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Sidecar{}, false, nil
		}
		return model.Sidecar{}, false, fmt.Errorf("reading checkpoints root: %w", err)
	}

	var best model.Sidecar
	var bestInfo os.FileInfo
	found := false

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.root, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var sidecar model.Sidecar
		if err := json.Unmarshal(data, &sidecar); err != nil {
			continue
		}
		if sidecar.RunID != runID {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}

		switch {
		case !found:
			best, bestInfo, found = sidecar, info, true
		case sidecar.MilestoneIndex > best.MilestoneIndex:
			best, bestInfo = sidecar, info
		case sidecar.MilestoneIndex == best.MilestoneIndex && info.ModTime().After(bestInfo.ModTime()):
			best, bestInfo = sidecar, info
		}
	}

	return best, found, nil
}

// ListSidecars returns every well-formed sidecar under the store's root,
// sorted by (run id, milestone index), for `runr report`.
func (s *Store) ListSidecars() ([]model.Sidecar, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading checkpoints root: %w", err)
	}
	var out []model.Sidecar
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, e.Name()))
		if err != nil {
			continue
		}
		var sidecar model.Sidecar
		if err := json.Unmarshal(data, &sidecar); err != nil {
			continue
		}
		out = append(out, sidecar)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RunID != out[j].RunID {
			return out[i].RunID < out[j].RunID
		}
		return out[i].MilestoneIndex < out[j].MilestoneIndex
	})
	return out, nil
}

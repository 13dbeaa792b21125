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

// Package runstore owns the durable per-run directory: state snapshots,
// the append-only event timeline, artifacts, handoffs, the config
// snapshot, and the environment fingerprint. It is the only component
// allowed to mutate a run's directory; every other collaborator goes
// through a Store handle instead of touching the filesystem directly.
package runstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store is a handle onto one run's durable directory plus the
// repository-local checkpoints directory it shares with every other run in
// the same repo.
type Store struct {
	runID          string
	runsRoot       string // <repo>/.runr/runs
	checkpointRoot string // <repo>/.runr/checkpoints
	runDir         string // runsRoot/<runID>

	mu     sync.Mutex
	seq    int
	seqSet bool
}

// DefaultMetaDir is the repository-local, git-ignored directory that holds
// every run's state and the shared checkpoint index.
const DefaultMetaDir = ".runr"

// RootsFor returns the runs root and checkpoints root for a repository,
// rooted at repoRoot/.runr.
func RootsFor(repoRoot string) (runsRoot, checkpointRoot string) {
	base := filepath.Join(repoRoot, DefaultMetaDir)
	return filepath.Join(base, "runs"), filepath.Join(base, "checkpoints")
}

// Init creates a fresh per-run directory layout and returns a handle. It is
// safe to call once per run; calling it twice for the same run ID returns
// an error, since Init is meant for brand-new runs (Open is for resuming).
func Init(repoRoot, runID string) (*Store, error) {
	runsRoot, checkpointRoot := RootsFor(repoRoot)
	runDir := filepath.Join(runsRoot, runID)

	if _, err := os.Stat(runDir); err == nil {
		return nil, fmt.Errorf("run directory already exists: %s", runDir)
	}

	for _, dir := range []string{
		runDir,
		filepath.Join(runDir, "artifacts"),
		filepath.Join(runDir, "handoffs"),
		checkpointRoot,
	} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	if err := ensureGitignored(filepath.Join(repoRoot, DefaultMetaDir)); err != nil {
		return nil, err
	}

	return &Store{runID: runID, runsRoot: runsRoot, checkpointRoot: checkpointRoot, runDir: runDir}, nil
}

// Open returns a handle onto an existing run directory, for resume and for
// read-only inspection (status/report/follow/wait).
func Open(repoRoot, runID string) (*Store, error) {
	runsRoot, checkpointRoot := RootsFor(repoRoot)
	runDir := filepath.Join(runsRoot, runID)
	if _, err := os.Stat(runDir); err != nil {
		return nil, fmt.Errorf("run %s not found: %w", runID, err)
	}
	return &Store{runID: runID, runsRoot: runsRoot, checkpointRoot: checkpointRoot, runDir: runDir}, nil
}

// RunID returns the identifier this store was opened or initialized for.
func (s *Store) RunID() string { return s.runID }

// RunDir returns the run's private directory.
func (s *Store) RunDir() string { return s.runDir }

// CheckpointRoot returns the repository-local checkpoints directory shared
// across every run against this repo.
func (s *Store) CheckpointRoot() string { return s.checkpointRoot }

// RunsRoot returns the directory containing every run directory for this
// repository.
func (s *Store) RunsRoot() string { return s.runsRoot }

func (s *Store) statePath() string          { return filepath.Join(s.runDir, "state.json") }
func (s *Store) timelinePath() string       { return filepath.Join(s.runDir, "timeline.jsonl") }
func (s *Store) configSnapshotPath() string { return filepath.Join(s.runDir, "config.snapshot.json") }
func (s *Store) fingerprintPath() string    { return filepath.Join(s.runDir, "fingerprint.json") }
func (s *Store) lastWorkerCallPath() string { return filepath.Join(s.runDir, "last_worker_call.json") }
func (s *Store) artifactPath(name string) string { return filepath.Join(s.runDir, "artifacts", name) }
func (s *Store) handoffPath(name string) string  { return filepath.Join(s.runDir, "handoffs", name) }

// ensureGitignored makes sure the metadata directory is excluded from the
// tracked working tree content, per the checkpoint sidecar invariant in
// the data model (checkpoints live "outside the working tree's tracked
// content, in a repository-local metadata directory which must be
// git-ignored").
func ensureGitignored(metaDir string) error {
	path := filepath.Join(metaDir, ".gitignore")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte("*\n"), 0o644)
}

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

package resume

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runrhq/runr/internal/checkpoint"
	"github.com/runrhq/runr/internal/model"
	"github.com/runrhq/runr/internal/repogateway"
	"github.com/runrhq/runr/internal/runstore"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init", "-b", "main")
	run("config", "user.email", "runr@example.com")
	run("config", "user.name", "runr")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "-A")
	run("commit", "-m", "initial commit")
	return dir
}

func testFingerprint() model.Fingerprint {
	return model.Fingerprint{GOOS: "linux", GOARCH: "amd64", ToolVersions: map[string]string{"git": "2.40"}}
}

// S5 — Resume after stall: a run stopped with stalled_timeout after
// checkpointing milestone 1 (sidecar records milestone_index=1) resumes at
// milestone 2 via the sidecar link of the priority chain.
func TestResolveResumesAtNextMilestoneFromSidecar(t *testing.T) {
	repo := initRepo(t)
	runID := "run-resume-sidecar"

	store, err := runstore.Init(repo, runID)
	require.NoError(t, err)
	cpStore := checkpoint.New(store.CheckpointRoot())
	gw := repogateway.New(repo, nil)

	fp := testFingerprint()
	require.NoError(t, store.WriteFingerprint(fp))

	run := &model.Run{
		ID:             runID,
		RepoRoot:       repo,
		WorkingPath:    repo,
		Phase:          model.PhaseStopped,
		StopReason:     model.StopStalledTimeout,
		MilestoneIndex: 1,
		Milestones: []model.Milestone{
			{ID: "m0", Goal: "first"},
			{ID: "m1", Goal: "second"},
			{ID: "m2", Goal: "third"},
		},
		AutoResumeCount: 0,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, store.WriteState(run))

	require.NoError(t, cpStore.WriteCheckpoint(model.Sidecar{
		CommitSHA:      "deadbeef",
		RunID:          runID,
		MilestoneIndex: 1,
		MilestoneTitle: "second",
		CreatedAt:      time.Now().UTC(),
	}))

	plan, err := Resolve(context.Background(), store, cpStore, gw, fp, Options{})
	require.NoError(t, err)

	assert.Equal(t, SourceSidecar, plan.CheckpointSource)
	assert.Equal(t, model.PhaseImplement, plan.Run.Phase)
	assert.Equal(t, 2, plan.Run.MilestoneIndex)
	assert.Equal(t, 1, plan.Run.AutoResumeCount)
	assert.False(t, plan.MilestoneIndexDriftCorrected)
}

func TestResolveCorrectsMilestoneIndexDrift(t *testing.T) {
	repo := initRepo(t)
	runID := "run-resume-drift"

	store, err := runstore.Init(repo, runID)
	require.NoError(t, err)
	cpStore := checkpoint.New(store.CheckpointRoot())
	gw := repogateway.New(repo, nil)

	fp := testFingerprint()
	require.NoError(t, store.WriteFingerprint(fp))

	run := &model.Run{
		ID:             runID,
		RepoRoot:       repo,
		WorkingPath:    repo,
		Phase:          model.PhaseStopped,
		StopReason:     model.StopStalledTimeout,
		MilestoneIndex: 0, // stale: state.json thinks milestone 0 is still pending
		Milestones: []model.Milestone{
			{ID: "m0", Goal: "first"},
			{ID: "m1", Goal: "second"},
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.WriteState(run))

	require.NoError(t, cpStore.WriteCheckpoint(model.Sidecar{
		CommitSHA:      "cafef00d",
		RunID:          runID,
		MilestoneIndex: 0,
		CreatedAt:      time.Now().UTC(),
	}))

	plan, err := Resolve(context.Background(), store, cpStore, gw, fp, Options{})
	require.NoError(t, err)

	assert.True(t, plan.MilestoneIndexDriftCorrected)
	assert.Equal(t, 1, plan.Run.MilestoneIndex)
}

func TestResolveFinalizesWhenCheckpointWasTerminal(t *testing.T) {
	repo := initRepo(t)
	runID := "run-resume-terminal"

	store, err := runstore.Init(repo, runID)
	require.NoError(t, err)
	cpStore := checkpoint.New(store.CheckpointRoot())
	gw := repogateway.New(repo, nil)

	fp := testFingerprint()
	require.NoError(t, store.WriteFingerprint(fp))

	run := &model.Run{
		ID:             runID,
		RepoRoot:       repo,
		WorkingPath:    repo,
		Phase:          model.PhaseStopped,
		StopReason:     model.StopStalledTimeout,
		MilestoneIndex: 0,
		Milestones:     []model.Milestone{{ID: "m0", Goal: "only one"}},
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.WriteState(run))

	require.NoError(t, cpStore.WriteCheckpoint(model.Sidecar{
		CommitSHA:      "abc123",
		RunID:          runID,
		MilestoneIndex: 0,
		CreatedAt:      time.Now().UTC(),
	}))

	plan, err := Resolve(context.Background(), store, cpStore, gw, fp, Options{})
	require.NoError(t, err)
	assert.Equal(t, model.PhaseFinalize, plan.Run.Phase)
}

func TestResolveRejectsFingerprintMismatchWithoutForce(t *testing.T) {
	repo := initRepo(t)
	runID := "run-resume-fp-mismatch"

	store, err := runstore.Init(repo, runID)
	require.NoError(t, err)
	cpStore := checkpoint.New(store.CheckpointRoot())
	gw := repogateway.New(repo, nil)

	require.NoError(t, store.WriteFingerprint(model.Fingerprint{GOOS: "linux", GOARCH: "amd64"}))
	require.NoError(t, store.WriteState(&model.Run{ID: runID, RepoRoot: repo, Phase: model.PhaseStopped, CreatedAt: time.Now().UTC()}))

	_, err = Resolve(context.Background(), store, cpStore, gw, model.Fingerprint{GOOS: "darwin", GOARCH: "arm64"}, Options{})
	require.Error(t, err)
	var mismatch *FingerprintMismatchError
	require.ErrorAs(t, err, &mismatch)

	// Force bypasses the refusal.
	plan, err := Resolve(context.Background(), store, cpStore, gw, model.Fingerprint{GOOS: "darwin", GOARCH: "arm64"}, Options{Force: true})
	require.NoError(t, err)
	assert.NotNil(t, plan)
}

func TestResolveNoCheckpointStartsAtFirstMilestone(t *testing.T) {
	repo := initRepo(t)
	runID := "run-resume-no-checkpoint"

	store, err := runstore.Init(repo, runID)
	require.NoError(t, err)
	cpStore := checkpoint.New(store.CheckpointRoot())
	gw := repogateway.New(repo, nil)

	fp := testFingerprint()
	require.NoError(t, store.WriteFingerprint(fp))
	run := &model.Run{
		ID:             runID,
		RepoRoot:       repo,
		WorkingPath:    repo,
		Phase:          model.PhaseStopped,
		MilestoneIndex: 0,
		Milestones:     []model.Milestone{{ID: "m0", Goal: "first"}},
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.WriteState(run))

	plan, err := Resolve(context.Background(), store, cpStore, gw, fp, Options{})
	require.NoError(t, err)
	assert.Equal(t, SourceNone, plan.CheckpointSource)
	assert.Equal(t, model.PhaseImplement, plan.Run.Phase)
	assert.Equal(t, 0, plan.Run.MilestoneIndex)
}

func TestWorktreePathPrefersWorktree(t *testing.T) {
	run := &model.Run{WorkingPath: "/repo", Worktree: &model.WorktreeRef{Path: "/repo/.runr/runs/x/worktree"}}
	assert.Equal(t, "/repo/.runr/runs/x/worktree", WorktreePath(run))

	run2 := &model.Run{WorkingPath: "/repo"}
	assert.Equal(t, "/repo", WorktreePath(run2))
}

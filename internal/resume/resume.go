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

// Package resume is the Resume Planner: it reconstructs a supervisor-ready
// run state from a prior run's store plus the shared checkpoint index,
// validating that the current environment and isolated worktree (if any)
// are still safe to continue on.
package resume

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/runrhq/runr/internal/checkpoint"
	"github.com/runrhq/runr/internal/model"
	"github.com/runrhq/runr/internal/repogateway"
	"github.com/runrhq/runr/internal/runstore"
)

// Source identifies which link of the resume lookup priority chain
// produced the checkpoint the plan rewound to.
type Source string

const (
	SourceSidecar      Source = "sidecar"
	SourceLogGrep       Source = "log_grep"
	SourceLogGrepLegacy Source = "log_grep_legacy"
	SourceNone          Source = "none"
)

// legacyGrepPattern matches the checkpoint commit subject line of any run,
// with no run scoping. It is the final fallback link in the lookup chain.
const legacyGrepPattern = "^chore\\(runr\\): checkpoint "

// Options controls how a Plan is produced.
type Options struct {
	// Force allows resume to proceed despite a fingerprint mismatch or a
	// worktree branch mismatch that would otherwise be refused.
	Force bool
}

// Plan is the supervisor-ready state produced by Resolve, plus the events
// the caller must still append once it owns the run's store handle
// (Resolve itself is read-mostly; it does not append to the timeline,
// since the caller is expected to do so after acquiring the run lock).
type Plan struct {
	Run                 *model.Run
	CheckpointSource     Source
	Checkpoint           model.Sidecar
	WorktreeRecreated    bool
	WorktreeBranchMismatch bool
	MilestoneIndexDriftCorrected bool
	Notes                []string
}

// FingerprintMismatchError is returned when the current environment
// fingerprint disagrees with the one captured at run start and Force was
// not set.
type FingerprintMismatchError struct {
	Prior, Current model.Fingerprint
}

func (e *FingerprintMismatchError) Error() string {
	return "environment fingerprint does not match the run's start-of-run snapshot; pass --force to resume anyway"
}

// BranchMismatchError is returned when a run's isolated worktree is on a
// different branch than state.json records and Force was not set.
type BranchMismatchError struct {
	Expected, Actual string
}

func (e *BranchMismatchError) Error() string {
	return fmt.Sprintf("worktree branch %q does not match expected %q; pass --force to resume anyway", e.Actual, e.Expected)
}

// Resolve implements the five-step contract from the Resume Planner's
// specification: load prior state, validate the fingerprint, validate or
// recreate the worktree, find the latest checkpoint via the priority
// chain, and produce a state with phase set to IMPLEMENT at the next
// milestone (or FINALIZE if the checkpoint was terminal).
func Resolve(ctx context.Context, store *runstore.Store, checkpoints *checkpoint.Store, gateway *repogateway.Gateway, currentFP model.Fingerprint, opts Options) (*Plan, error) {
	run, err := store.ReadState()
	if err != nil {
		return nil, fmt.Errorf("loading prior state: %w", err)
	}

	priorFP, err := store.ReadFingerprint()
	if err != nil {
		return nil, fmt.Errorf("loading prior fingerprint: %w", err)
	}
	if !priorFP.Equal(currentFP) && !opts.Force {
		return nil, &FingerprintMismatchError{Prior: priorFP, Current: currentFP}
	}

	plan := &Plan{Run: run}

	if run.Worktree != nil {
		if err := validateOrRecreateWorktree(ctx, gateway, run, plan, opts); err != nil {
			return nil, err
		}
	}

	sidecar, source, err := findLatestCheckpoint(ctx, checkpoints, gateway, run)
	if err != nil {
		return nil, fmt.Errorf("finding latest checkpoint: %w", err)
	}
	plan.Checkpoint = sidecar
	plan.CheckpointSource = source

	if source != SourceNone {
		nextIndex := sidecar.MilestoneIndex + 1
		if run.MilestoneIndex != nextIndex {
			plan.MilestoneIndexDriftCorrected = true
			plan.Notes = append(plan.Notes, fmt.Sprintf(
				"milestone_index drift: state.json had %d, checkpoint %s implies %d; trusting the checkpoint",
				run.MilestoneIndex, sidecar.CommitSHA, nextIndex))
		}
		run.MilestoneIndex = nextIndex
		run.LastCheckpoint = sidecar.CommitSHA
	}

	if run.MilestoneIndex >= len(run.Milestones) && len(run.Milestones) > 0 {
		run.Phase = model.PhaseFinalize
	} else {
		run.Phase = model.PhaseImplement
	}

	run.PhaseAttempt = 0
	run.VerificationFails = 0
	run.ReviewRounds = 0
	run.ReviewFingerprint = ""
	run.LastError = ""
	run.StopReason = ""
	run.LastChangedFiles = nil
	// AutoResumeCount carries over from the prior state and is incremented
	// here, once per planned resume.
	run.AutoResumeCount++

	return plan, nil
}

// validateOrRecreateWorktree validates a run's previously created isolated
// worktree, recreating it if missing, and refusing a branch mismatch unless
// Force is set.
func validateOrRecreateWorktree(ctx context.Context, gateway *repogateway.Gateway, run *model.Run, plan *Plan, opts Options) error {
	info := repogateway.WorktreeInfo{Path: run.Worktree.Path, Branch: run.Worktree.Branch, BaseSHA: run.Worktree.BaseSHA}

	err := gateway.ValidateWorktree(ctx, info)
	if err == nil {
		return nil
	}

	recreated, recreateErr := gateway.RecreateWorktree(ctx, info, opts.Force)
	if recreateErr != nil {
		return fmt.Errorf("worktree %s is invalid (%v) and could not be recreated: %w", info.Path, err, recreateErr)
	}
	plan.WorktreeRecreated = true
	plan.Notes = append(plan.Notes, fmt.Sprintf("worktree %s was recreated: %v", info.Path, err))

	if recreated.Branch != run.Worktree.Branch {
		plan.WorktreeBranchMismatch = true
		if !opts.Force {
			return &BranchMismatchError{Expected: run.Worktree.Branch, Actual: recreated.Branch}
		}
		plan.Notes = append(plan.Notes, fmt.Sprintf("worktree branch mismatch forced through: expected %q, now %q", run.Worktree.Branch, recreated.Branch))
	}

	run.Worktree = &model.WorktreeRef{Path: recreated.Path, Branch: recreated.Branch, BaseSHA: recreated.BaseSHA}
	run.WorkingPath = recreated.Path
	return nil
}

// findLatestCheckpoint implements the three-link priority chain: sidecar
// metadata first, then a git-log grep scoped to this run's ID, then a
// legacy grep pattern with no run scoping at all.
func findLatestCheckpoint(ctx context.Context, checkpoints *checkpoint.Store, gateway *repogateway.Gateway, run *model.Run) (model.Sidecar, Source, error) {
	if sidecar, ok, err := checkpoints.FindLatestByRun(run.ID); err != nil {
		return model.Sidecar{}, SourceNone, err
	} else if ok {
		return sidecar, SourceSidecar, nil
	}

	branch := "runr/" + run.ID
	if run.Worktree != nil && run.Worktree.Branch != "" {
		branch = run.Worktree.Branch
	}

	if entries, err := gateway.GrepLog(ctx, run.ID, branch); err == nil && len(entries) > 0 {
		if sidecar, ok := sidecarFromLegacyCommit(ctx, gateway, entries[0], run.ID); ok {
			return sidecar, SourceLogGrep, nil
		}
	}

	if entries, err := gateway.GrepLog(ctx, legacyGrepPattern, branch); err == nil && len(entries) > 0 {
		if sidecar, ok := sidecarFromLegacyCommit(ctx, gateway, entries[0], run.ID); ok {
			return sidecar, SourceLogGrepLegacy, nil
		}
	}

	return model.Sidecar{}, SourceNone, nil
}

// sidecarFromLegacyCommit reconstructs a minimal sidecar from a commit
// message matched by grep, for repositories that predate sidecar writes.
// Only the milestone index embedded in the canonical subject line
// ("checkpoint <run_id> milestone <index>") is trusted; everything else is
// left at its zero value, since the commit message is never an
// authoritative source per spec.
func sidecarFromLegacyCommit(ctx context.Context, gateway *repogateway.Gateway, entry repogateway.LogEntry, runID string) (model.Sidecar, bool) {
	idx, ok := parseMilestoneIndex(entry.Message)
	if !ok {
		return model.Sidecar{}, false
	}
	committedAt, err := gateway.CommittedAt(ctx, entry.SHA)
	if err != nil {
		committedAt = time.Time{}
	}
	return model.Sidecar{
		SchemaVersion:  model.SidecarSchemaVersion,
		CommitSHA:      entry.SHA,
		RunID:          runID,
		MilestoneIndex: idx,
		CreatedAt:      committedAt,
	}, true
}

func parseMilestoneIndex(message string) (int, bool) {
	const marker = "milestone "
	idx := indexOf(message, marker)
	if idx < 0 {
		return 0, false
	}
	rest := message[idx+len(marker):]
	n := 0
	found := false
	for _, c := range rest {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
		found = true
	}
	return n, found
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// WorktreePath is a small helper CLI commands use to render the effective
// working directory of a resumed run without importing repogateway
// themselves.
func WorktreePath(run *model.Run) string {
	if run.Worktree != nil {
		return run.Worktree.Path
	}
	return filepath.Clean(run.WorkingPath)
}

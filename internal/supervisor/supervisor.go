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

// Package supervisor is the state machine that drives a single run through
// PLAN, IMPLEMENT, VERIFY, REVIEW, CHECKPOINT and FINALIZE, or halts it at
// STOPPED with a recorded reason. It owns ordering, retry policy, review
// loop and stall detection, and budget enforcement; every other
// collaborator (worker, scope guard, verification engine, checkpoint
// store, repo gateway) is consumed here but never called directly by a
// caller of this package.
package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/runrhq/runr/internal/checkpoint"
	"github.com/runrhq/runr/internal/fingerprint"
	"github.com/runrhq/runr/internal/log"
	"github.com/runrhq/runr/internal/model"
	"github.com/runrhq/runr/internal/repogateway"
	"github.com/runrhq/runr/internal/runstore"
	"github.com/runrhq/runr/internal/scopeguard"
	"github.com/runrhq/runr/internal/worker"
	"github.com/runrhq/runr/pkg/secrets"
)

// botAuthor is the identity used for every checkpoint and intervention
// commit the supervisor makes on its own behalf.
var botAuthor = repogateway.Author{Name: "runr", Email: "runr@localhost"}

// retryLimit is the per-phase attempt ceiling shared by PLAN, IMPLEMENT and
// REVIEW parse/timeout retries, and by VERIFY failures, per spec.
const retryLimit = 3

// Deps bundles every collaborator the supervisor drives. All fields except
// Masker, Clock and PhaseBoundary are required; a nil Masker leaves output
// unmasked.
type Deps struct {
	Store       *runstore.Store
	Checkpoints *checkpoint.Store
	Gateway     *repogateway.Gateway
	Worker      *worker.Adapter
	Masker      *secrets.Masker

	// PhaseBoundary logs phase transitions. A nil value disables logging.
	PhaseBoundary *log.PhaseBoundary

	// Clock returns the current time. Defaults to time.Now when nil; tests
	// substitute a controllable clock to exercise stall and budget logic
	// without sleeping.
	Clock func() time.Time
}

// Supervisor drives one Run to a terminal state. It is not safe for
// concurrent use; callers must hold the run's advisory lock for the
// lifetime of a Supervisor.
type Supervisor struct {
	run  *model.Run
	deps Deps
	tick int
}

// New returns a Supervisor for run, wired to deps.
func New(run *model.Run, deps Deps) *Supervisor {
	return &Supervisor{run: run, deps: deps}
}

// Run drives the state machine until the run reaches STOPPED or a completed
// FINALIZE, or ctx is canceled. On cancellation the current state is left
// exactly as it was after the last completed phase step; the run remains
// resumable since every mutation up to that point is already durable.
func (s *Supervisor) Run(ctx context.Context) (*model.Run, error) {
	if s.run.Phase == "" {
		if err := s.preflight(ctx); err != nil {
			return s.run, err
		}
		if s.run.Phase == model.PhaseStopped {
			return s.run, s.persist()
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return s.run, s.persist()
		}

		s.tick++
		if stopped, err := s.checkBudgets(ctx); err != nil {
			return s.run, err
		} else if stopped {
			return s.run, s.persist()
		}

		var err error
		switch s.run.Phase {
		case model.PhasePlan:
			err = s.doPlan(ctx)
		case model.PhaseImplement:
			err = s.doImplement(ctx)
		case model.PhaseVerify:
			err = s.doVerify(ctx)
		case model.PhaseReview:
			err = s.doReview(ctx)
		case model.PhaseCheckpoint:
			err = s.doCheckpoint(ctx)
		case model.PhaseFinalize:
			err = s.doFinalize(ctx)
		case model.PhaseStopped:
			return s.run, s.persist()
		default:
			return s.run, fmt.Errorf("supervisor: unknown phase %q", s.run.Phase)
		}
		if err != nil {
			return s.run, err
		}

		if err := s.persist(); err != nil {
			return s.run, err
		}
		if s.run.Phase == model.PhaseStopped || (s.run.Phase == model.PhaseFinalize && s.run.Complete) {
			return s.run, nil
		}
	}
}

func (s *Supervisor) now() time.Time {
	if s.deps.Clock != nil {
		return s.deps.Clock()
	}
	return time.Now().UTC()
}

func (s *Supervisor) touchProgress() {
	s.run.LastProgressAt = s.now()
}

func (s *Supervisor) persist() error {
	return s.deps.Store.WriteState(s.run)
}

func (s *Supervisor) appendEvent(t model.EventType, source model.EventSource, payload map[string]any) error {
	_, err := s.deps.Store.AppendEvent(model.Event{Type: t, Source: source, Payload: payload})
	if err != nil {
		return fmt.Errorf("appending %s event: %w", t, err)
	}
	return nil
}

func (s *Supervisor) currentMilestone() *model.Milestone {
	return &s.run.Milestones[s.run.MilestoneIndex]
}

// checkBudgets enforces tick, wall-time and stall budgets, which apply
// regardless of the current phase (the "*" rows of the transition table).
func (s *Supervisor) checkBudgets(ctx context.Context) (stopped bool, err error) {
	if s.run.Config.MaxTicks > 0 && s.tick > s.run.Config.MaxTicks {
		return true, s.stop(ctx, model.StopMaxTicksReached, fmt.Sprintf("tick budget of %d exhausted", s.run.Config.MaxTicks))
	}
	if s.run.Config.TimeBudget > 0 && s.now().Sub(s.run.CreatedAt) > s.run.Config.TimeBudget {
		return true, s.stop(ctx, model.StopTimeBudgetExceeded, fmt.Sprintf("time budget of %s exhausted", s.run.Config.TimeBudget))
	}
	if s.run.Config.StallThreshold > 0 && !s.run.LastProgressAt.IsZero() && s.now().Sub(s.run.LastProgressAt) > s.run.Config.StallThreshold {
		return true, s.stop(ctx, model.StopStalledTimeout, fmt.Sprintf("no progress for %s", s.run.Config.StallThreshold))
	}
	return false, nil
}

// preflight runs the scope/lockfile check against the current working tree
// and, if configured, creates the run's isolated worktree before the first
// PLAN call.
func (s *Supervisor) preflight(ctx context.Context) error {
	clean, changed, err := s.deps.Gateway.Status(ctx)
	if err != nil {
		return fmt.Errorf("preflight status: %w", err)
	}
	if !clean && s.run.Config.RequireCleanTree {
		decision, err := scopeguard.Check(changed, s.run.ScopeLock.Allow, s.run.ScopeLock.Deny, s.run.ScopeLock.Lockfiles, s.run.ScopeLock.DepsPolicy)
		if err != nil {
			return fmt.Errorf("preflight scope check: %w", err)
		}
		if !decision.OK {
			if err := s.appendEvent(model.EventGuardViolation, model.SourceGuard, map[string]any{"violations": decision.Violations, "stage": "preflight"}); err != nil {
				return err
			}
			return s.stop(ctx, model.StopGuardViolation, "working tree is dirty outside scope at preflight")
		}
	}

	s.run.Fingerprint = fingerprint.Compute(ctx, s.run.RepoRoot, s.run.ScopeLock.Lockfiles)
	if err := s.deps.Store.WriteFingerprint(s.run.Fingerprint); err != nil {
		return fmt.Errorf("writing fingerprint: %w", err)
	}

	branch := "runr/" + s.run.ID
	if s.run.Config.UseIsolatedWorktree {
		path := filepath.Join(s.deps.Store.RunDir(), "worktree")
		info, err := s.deps.Gateway.CreateWorktree(ctx, path, branch)
		if err != nil {
			return fmt.Errorf("creating isolated worktree: %w", err)
		}
		s.run.WorkingPath = info.Path
		s.run.Worktree = &model.WorktreeRef{Path: info.Path, Branch: info.Branch, BaseSHA: info.BaseSHA}
	} else {
		if err := s.deps.Gateway.CreateBranch(ctx, branch, "HEAD"); err != nil {
			return fmt.Errorf("creating run branch: %w", err)
		}
		if err := s.deps.Gateway.Checkout(ctx, branch); err != nil {
			return fmt.Errorf("checking out run branch: %w", err)
		}
		s.run.WorkingPath = s.run.RepoRoot
	}

	if err := s.appendEvent(model.EventPreflight, model.SourceSupervisor, map[string]any{"branch": branch, "working_path": s.run.WorkingPath}); err != nil {
		return err
	}
	if err := s.appendEvent(model.EventRunStarted, model.SourceSupervisor, map[string]any{"run_id": s.run.ID}); err != nil {
		return err
	}

	s.run.Phase = model.PhasePlan
	s.touchProgress()
	if s.deps.PhaseBoundary != nil {
		s.deps.PhaseBoundary.Enter(s.run.ID, string(model.PhasePlan), s.run.MilestoneIndex)
	}
	return nil
}

// Stop transitions the run to STOPPED for a reason detected outside the
// normal phase loop -- a collision rejected before preflight ever ran, for
// instance -- and persists the result. It is the exported counterpart of
// stop for callers that never call Run at all.
func (s *Supervisor) Stop(ctx context.Context, reason model.StopReason, detail string) error {
	if err := s.stop(ctx, reason, detail); err != nil {
		return err
	}
	return s.persist()
}

// stop transitions the run to STOPPED, writes the handoff, and logs. It
// never returns a non-nil error for an invalid StopReason — that would be
// a defect in this package, not a caller-recoverable condition — so it
// panics instead of silently writing an unknown reason to state.json.
func (s *Supervisor) stop(ctx context.Context, reason model.StopReason, detail string) error {
	if !reason.Valid() {
		panic(fmt.Sprintf("supervisor: stop reason %q is not a member of the closed enumeration", reason))
	}
	phase := s.run.Phase
	s.run.Phase = model.PhaseStopped
	s.run.StopReason = reason
	s.run.LastError = detail

	if err := s.appendEvent(model.EventStop, model.SourceSupervisor, map[string]any{
		"reason": reason,
		"phase":  phase,
		"detail": detail,
	}); err != nil {
		return err
	}

	if err := s.writeStopHandoff(reason, phase, detail); err != nil {
		return err
	}

	if s.deps.PhaseBoundary != nil {
		s.deps.PhaseBoundary.Stop(s.run.ID, string(phase), string(reason), reason.AutoResumable())
	}
	return nil
}

// enterPhase records the transition into next, logging and touching
// progress, then sets it on the run.
func (s *Supervisor) enterPhase(from, next model.Phase, elapsed time.Duration) {
	if s.deps.PhaseBoundary != nil {
		s.deps.PhaseBoundary.Exit(s.run.ID, string(from), string(next), elapsed)
		s.deps.PhaseBoundary.Enter(s.run.ID, string(next), s.run.MilestoneIndex)
	}
	s.run.Phase = next
	s.touchProgress()
}

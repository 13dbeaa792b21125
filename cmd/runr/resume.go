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

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/runrhq/runr/internal/checkpoint"
	"github.com/runrhq/runr/internal/cli"
	"github.com/runrhq/runr/internal/fingerprint"
	"github.com/runrhq/runr/internal/model"
	"github.com/runrhq/runr/internal/repogateway"
	"github.com/runrhq/runr/internal/resume"
	"github.com/runrhq/runr/internal/runlock"
	"github.com/runrhq/runr/internal/runstore"
	"github.com/runrhq/runr/internal/supervisor"
)

func newResumeCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "resume <run_id>",
		Short: "Resume a stopped run from its last checkpoint",
		Long: `resume replans a previously stopped run at the next milestone after its
last checkpoint, validates its isolated worktree, and continues driving
the state machine. Runs whose stop reason is not auto-resumable can still
be resumed manually by an operator who has investigated the cause.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd, args[0], force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "resume even if the environment fingerprint no longer matches the one captured at run start")

	return cmd
}

func runResume(cmd *cobra.Command, runID string, force bool) error {
	ctx := cmd.Context()

	repo, err := repoRoot()
	if err != nil {
		return cli.NewInvalidInputError("resolving repository path", err)
	}

	store, err := runstore.Open(repo, runID)
	if err != nil {
		return cli.NewInvalidInputError(fmt.Sprintf("opening run %s", runID), err)
	}

	lock, err := runlock.Acquire(store.RunDir())
	if err != nil {
		return fmt.Errorf("acquiring run lock: %w", err)
	}
	defer lock.Release()

	cfg, err := store.ReadConfigSnapshot()
	if err != nil {
		return fmt.Errorf("reading config snapshot: %w", err)
	}

	priorRun, err := store.ReadState()
	if err != nil {
		return fmt.Errorf("reading prior state: %w", err)
	}

	cpStore := checkpoint.New(store.CheckpointRoot())
	gw := repogateway.New(repo, nil)
	currentFP := fingerprint.Compute(ctx, repo, cfg.Lockfiles)

	plan, err := resume.Resolve(ctx, store, cpStore, gw, currentFP, resume.Options{Force: force})
	if err != nil {
		var mismatch *resume.FingerprintMismatchError
		if errors.As(err, &mismatch) {
			return cli.NewInvalidInputError("environment fingerprint mismatch; re-run with --force to proceed anyway", err)
		}
		return fmt.Errorf("resolving resume plan: %w", err)
	}

	for _, note := range plan.Notes {
		fmt.Println(note)
	}
	if _, err := store.AppendEvent(model.Event{
		Type:   model.EventResumeCheckpointSelected,
		Source: model.SourceSupervisor,
		Payload: map[string]any{
			"source": string(plan.CheckpointSource),
		},
	}); err != nil {
		return fmt.Errorf("recording checkpoint selection event: %w", err)
	}
	if plan.WorktreeRecreated {
		_, _ = store.AppendEvent(model.Event{Type: model.EventWorktreeRecreated, Source: model.SourceSupervisor})
	}
	if plan.MilestoneIndexDriftCorrected {
		_, _ = store.AppendEvent(model.Event{Type: model.EventMilestoneIndexDriftCorrected, Source: model.SourceSupervisor, Payload: map[string]any{
			"milestone_index": plan.Run.MilestoneIndex,
		}})
	}
	if _, err := store.AppendEvent(model.Event{
		Type:   model.EventRunResumed,
		Source: model.SourceCLI,
		Payload: map[string]any{
			"checkpoint_source": string(plan.CheckpointSource),
			"auto_resume_count": plan.Run.AutoResumeCount,
		},
	}); err != nil {
		return fmt.Errorf("recording resume event: %w", err)
	}

	if err := store.WriteState(plan.Run); err != nil {
		return fmt.Errorf("writing resumed state: %w", err)
	}

	if wait, ok := autoResumeBackoff(priorRun, cfg); ok {
		fmt.Printf("waiting %s before auto-resuming (stop reason %s)\n", wait, priorRun.StopReason)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	logger := newLogger()
	deps := supervisorDeps(repo, store, plan.Run.Config, logger)

	final, err := supervisor.New(plan.Run, deps).Run(ctx)
	if err != nil {
		return fmt.Errorf("resuming run %s: %w", runID, err)
	}

	return exitForRun(final)
}

// autoResumeBackoff reports how long to sleep before driving the resumed
// run, indexed by how many auto-resumes this run has already used. It
// applies only when the stop being resumed from is itself auto-resumable;
// a manual resume of a manual-only stop reason proceeds immediately, since
// a human has already spent time investigating before invoking resume.
func autoResumeBackoff(priorRun *model.Run, cfg model.Config) (time.Duration, bool) {
	if !priorRun.StopReason.AutoResumable() {
		return 0, false
	}
	idx := priorRun.AutoResumeCount
	if idx < 0 || idx >= len(cfg.AutoResumeBackoff) {
		return 0, false
	}
	return cfg.AutoResumeBackoff[idx], true
}

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
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/runrhq/runr/internal/cli"
	"github.com/runrhq/runr/internal/collision"
	"github.com/runrhq/runr/internal/fingerprint"
	"github.com/runrhq/runr/internal/model"
	"github.com/runrhq/runr/internal/runid"
	"github.com/runrhq/runr/internal/runlock"
	"github.com/runrhq/runr/internal/runstore"
	"github.com/runrhq/runr/internal/supervisor"
)

func newRunCommand() *cobra.Command {
	var (
		taskPath string
		collide  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a new supervised run against a task",
		Long: `run reads a task description, starts a new run against the repository
named by --repo, and drives it through PLAN, IMPLEMENT, VERIFY, REVIEW,
CHECKPOINT and FINALIZE until it either completes or stops.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, taskPath, collide)
		},
	}

	cmd.Flags().StringVar(&taskPath, "task", "", "path to the task description file (required)")
	cmd.Flags().StringVar(&collide, "on-collision", "", "override the configured collision policy (serialize, force, fail)")
	_ = cmd.MarkFlagRequired("task")

	return cmd
}

func runRun(cmd *cobra.Command, taskPath, collisionOverride string) error {
	ctx := cmd.Context()

	repo, err := repoRoot()
	if err != nil {
		return cli.NewInvalidInputError("resolving repository path", err)
	}

	taskText, err := os.ReadFile(taskPath)
	if err != nil {
		return cli.NewInvalidInputError(fmt.Sprintf("reading task file %s", taskPath), err)
	}

	cfg, err := effectiveConfig(repo)
	if err != nil {
		return cli.NewInvalidInputError("loading configuration", err)
	}
	if collisionOverride != "" {
		cfg.CollisionPolicy = collisionOverride
	}

	id := runid.New()
	store, err := runstore.Init(repo, id)
	if err != nil {
		return fmt.Errorf("initializing run store: %w", err)
	}

	lock, err := runlock.Acquire(store.RunDir())
	if err != nil {
		return fmt.Errorf("acquiring run lock: %w", err)
	}
	defer lock.Release()

	run := &model.Run{
		ID:          id,
		RepoRoot:    repo,
		WorkingPath: repo,
		TaskText:    string(taskText),
		Config:      cfg,
		ScopeLock: model.ScopeLock{
			Allow:       cfg.Allow,
			Deny:        cfg.Deny,
			Lockfiles:   cfg.Lockfiles,
			DepsPolicy:  cfg.DepsPolicy,
			AllowedDeps: cfg.AllowedDeps,
		},
		SchemaVersion: model.SidecarSchemaVersion,
		CreatedAt:     time.Now().UTC(),
	}

	if err := store.WriteConfigSnapshot(cfg); err != nil {
		return fmt.Errorf("writing config snapshot: %w", err)
	}

	logger := newLogger()
	deps := supervisorDeps(repo, store, cfg, logger)

	arbiter := collision.New(repo, cfg.CollisionStaleAfter)
	failing, err := awaitCollisionClearance(ctx, arbiter, run.ScopeLock.Allow, cfg.CollisionPolicy)
	if err != nil {
		return fmt.Errorf("resolving collision against active runs: %w", err)
	}
	if failing != nil {
		detail := fmt.Sprintf("run collides with active run %s under policy %q", failing.WithRunID, failing.Policy)
		if err := supervisor.New(run, deps).Stop(ctx, model.StopParallelFileCollision, detail); err != nil {
			return fmt.Errorf("recording collision stop: %w", err)
		}
		return exitForRun(run)
	}

	run.Fingerprint = fingerprint.Compute(ctx, repo, cfg.Lockfiles)
	if err := store.WriteState(run); err != nil {
		return fmt.Errorf("writing initial state: %w", err)
	}

	final, err := supervisor.New(run, deps).Run(ctx)
	if err != nil {
		return fmt.Errorf("run %s: %w", id, err)
	}

	return exitForRun(final)
}

// collisionPollInterval is how often awaitCollisionClearance re-checks the
// active run set while serializing behind a collision.
const collisionPollInterval = 5 * time.Second

// awaitCollisionClearance evaluates the new run against the active runs.
// On a collision it blocks under the "serialize" policy until the
// collision clears, returns immediately under "force" (logging that it is
// proceeding anyway), and returns the failing decision under "fail" so the
// caller can route the rejection through the Supervisor's own stop/handoff
// machinery rather than short-circuiting it. The new run is evaluated with
// newAllow only and no expected files, and Evaluate reports a collision
// only on expected-file overlap, so this never sees a collision: it returns
// after the first check without blocking or failing.
func awaitCollisionClearance(ctx context.Context, arbiter *collision.Arbiter, newAllow []string, policy string) (*collision.Decision, error) {
	for {
		active, err := arbiter.DiscoverActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("discovering active runs: %w", err)
		}
		decision := collision.Evaluate(active, newAllow, nil, policy)
		if decision.Outcome != collision.OutcomeCollision {
			return nil, nil
		}

		switch decision.Policy {
		case "force":
			fmt.Printf("collides with active run %s; proceeding under force policy\n", decision.WithRunID)
			return nil, nil
		case "fail":
			return &decision, nil
		default:
			fmt.Printf("collides with active run %s; waiting under serialize policy\n", decision.WithRunID)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(collisionPollInterval):
			}
		}
	}
}

// exitForRun classifies a run's final state into the command's exit
// contract: 0 on a completed FINALIZE, 1 on any STOPPED reason.
func exitForRun(run *model.Run) error {
	if run.Phase == model.PhaseFinalize && run.Complete {
		fmt.Printf("run %s complete\n", run.ID)
		return nil
	}
	return cli.NewStoppedError(fmt.Sprintf("run %s stopped: %s", run.ID, run.StopReason))
}

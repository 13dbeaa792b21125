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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/runrhq/runr/internal/cli"
	"github.com/runrhq/runr/internal/model"
	"github.com/runrhq/runr/internal/runstore"
)

const waitPollInterval = 500 * time.Millisecond

func newWaitCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait <run_id>",
		Short: "Block until a run reaches a terminal phase",
		Long: `wait polls a run's state until it reaches FINALIZE (complete) or
STOPPED, then exits with the same exit code run or resume would have
produced. With --timeout, wait gives up and exits 124 if the run is
still unfinished once the timeout elapses.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWait(cmd, args[0], timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up and exit 124 after this duration (default: wait forever)")

	return cmd
}

func runWait(cmd *cobra.Command, runID string, timeout time.Duration) error {
	ctx := cmd.Context()

	repo, err := repoRoot()
	if err != nil {
		return cli.NewInvalidInputError("resolving repository path", err)
	}

	store, err := runstore.Open(repo, runID)
	if err != nil {
		return cli.NewInvalidInputError(fmt.Sprintf("opening run %s", runID), err)
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		run, err := store.ReadState()
		if err != nil {
			return fmt.Errorf("reading state for run %s: %w", runID, err)
		}
		if run.Phase == model.PhaseStopped || (run.Phase == model.PhaseFinalize && run.Complete) {
			return exitForRun(run)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return cli.NewTimeoutError(fmt.Sprintf("run %s did not reach a terminal phase within %s", runID, timeout))
		case <-ticker.C:
		}
	}
}

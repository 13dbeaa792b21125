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

const followPollInterval = 500 * time.Millisecond

func newFollowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "follow <run_id>",
		Short: "Stream a run's timeline events as they are appended",
		Long: `follow polls a run's timeline and prints new events as they land,
stopping once the run reaches FINALIZE or STOPPED. Interrupt with ctrl-c
to stop watching without affecting the run itself.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFollow(cmd, args[0])
		},
	}

	return cmd
}

func runFollow(cmd *cobra.Command, runID string) error {
	ctx := cmd.Context()

	repo, err := repoRoot()
	if err != nil {
		return cli.NewInvalidInputError("resolving repository path", err)
	}

	store, err := runstore.Open(repo, runID)
	if err != nil {
		return cli.NewInvalidInputError(fmt.Sprintf("opening run %s", runID), err)
	}

	lastSeq := 0
	ticker := time.NewTicker(followPollInterval)
	defer ticker.Stop()

	for {
		events, err := store.ReadTimeline()
		if err != nil {
			return fmt.Errorf("reading timeline for run %s: %w", runID, err)
		}
		for _, evt := range events {
			if evt.Seq <= lastSeq {
				continue
			}
			fmt.Printf("[%04d] %s  %-10s %s %v\n", evt.Seq, evt.Timestamp.Format(time.RFC3339), evt.Source, evt.Type, evt.Payload)
			lastSeq = evt.Seq
		}

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
		case <-ticker.C:
		}
	}
}

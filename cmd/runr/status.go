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
	"sort"

	"github.com/spf13/cobra"

	"github.com/runrhq/runr/internal/cli"
	"github.com/runrhq/runr/internal/runlock"
	"github.com/runrhq/runr/internal/runstore"
)

func newStatusCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "status [run_id]",
		Short: "Print a run's current phase and progress",
		Long: `status prints one run's phase, milestone progress and lock state.
With --all it lists every run known to the repository's .runr directory
instead of requiring a single run_id.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				return runStatusAll(cmd)
			}
			if len(args) != 1 {
				return cli.NewInvalidInputError("status requires a run_id, or --all", nil)
			}
			return runStatusOne(cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "list every run known to this repository")

	return cmd
}

func runStatusOne(cmd *cobra.Command, runID string) error {
	repo, err := repoRoot()
	if err != nil {
		return cli.NewInvalidInputError("resolving repository path", err)
	}

	store, err := runstore.Open(repo, runID)
	if err != nil {
		return cli.NewInvalidInputError(fmt.Sprintf("opening run %s", runID), err)
	}

	run, err := store.ReadState()
	if err != nil {
		return fmt.Errorf("reading state for run %s: %w", runID, err)
	}

	held, _ := runlock.Held(store.RunDir())
	liveness := "idle"
	if held {
		liveness = "active"
	}

	fmt.Printf("run:        %s\n", run.ID)
	fmt.Printf("phase:      %s (%s)\n", run.Phase, liveness)
	fmt.Printf("milestone:  %d/%d\n", run.MilestoneIndex, len(run.Milestones))
	fmt.Printf("reviews:    %d\n", run.ReviewRounds)
	fmt.Printf("auto-resumes: %d\n", run.AutoResumeCount)
	if run.LastCheckpoint != "" {
		fmt.Printf("checkpoint: %s\n", run.LastCheckpoint)
	}
	if run.StopReason != "" {
		fmt.Printf("stopped:    %s\n", run.StopReason)
	}
	if run.Complete {
		fmt.Println("complete:   true")
	}
	return nil
}

func runStatusAll(cmd *cobra.Command) error {
	repo, err := repoRoot()
	if err != nil {
		return cli.NewInvalidInputError("resolving repository path", err)
	}

	ids, err := runstore.ListRunIDs(repo)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	sort.Strings(ids)

	if len(ids) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	for _, id := range ids {
		store, err := runstore.Open(repo, id)
		if err != nil {
			fmt.Printf("%-24s error opening: %v\n", id, err)
			continue
		}
		run, err := store.ReadState()
		if err != nil {
			fmt.Printf("%-24s error reading state: %v\n", id, err)
			continue
		}
		held, _ := runlock.Held(store.RunDir())
		liveness := "idle"
		if held {
			liveness = "active"
		}
		stop := ""
		if run.StopReason != "" {
			stop = fmt.Sprintf(" stop=%s", run.StopReason)
		}
		fmt.Printf("%-24s %-10s %-8s milestone=%d/%d%s\n",
			id, run.Phase, liveness, run.MilestoneIndex, len(run.Milestones), stop)
	}
	return nil
}

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

	"github.com/spf13/cobra"

	"github.com/runrhq/runr/internal/checkpoint"
	"github.com/runrhq/runr/internal/cli"
	"github.com/runrhq/runr/internal/runstore"
)

func newReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <run_id>",
		Short: "Render a run's phase trace, verification history and checkpoint list",
		Long: `report reads a run's timeline, state and intervention receipts and
prints a plain-text summary: every phase transition, every verification
attempt and its outcome, and every checkpoint the run produced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, args[0])
		},
	}

	return cmd
}

func runReport(cmd *cobra.Command, runID string) error {
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

	events, err := store.ReadTimeline()
	if err != nil {
		return fmt.Errorf("reading timeline for run %s: %w", runID, err)
	}

	interventions, err := store.ReadInterventions()
	if err != nil {
		return fmt.Errorf("reading interventions for run %s: %w", runID, err)
	}

	cpStore := checkpoint.New(store.CheckpointRoot())
	sidecars, err := cpStore.ListSidecars()
	if err != nil {
		return fmt.Errorf("listing checkpoints: %w", err)
	}

	fmt.Printf("run %s\n", run.ID)
	fmt.Printf("phase: %s  milestone: %d/%d  complete: %v\n\n", run.Phase, run.MilestoneIndex, len(run.Milestones), run.Complete)

	fmt.Println("phase trace:")
	for _, evt := range events {
		fmt.Printf("  [%04d] %s  %-10s %s\n", evt.Seq, evt.Timestamp.Format("2006-01-02T15:04:05Z07:00"), evt.Source, evt.Type)
	}

	fmt.Println("\nverification history:")
	found := false
	for _, evt := range events {
		if evt.Type != "verification" {
			continue
		}
		found = true
		fmt.Printf("  [%04d] %s %v\n", evt.Seq, evt.Timestamp.Format("2006-01-02T15:04:05Z07:00"), evt.Payload)
	}
	if !found {
		fmt.Println("  (none recorded)")
	}

	fmt.Println("\ncheckpoints:")
	any := false
	for _, sc := range sidecars {
		if sc.RunID != runID {
			continue
		}
		any = true
		fmt.Printf("  %s  milestone=%d tier=%s at=%s\n", sc.CommitSHA, sc.MilestoneIndex, sc.VerificationTier, sc.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	if !any {
		fmt.Println("  (none recorded)")
	}

	if len(interventions) > 0 {
		fmt.Println("\ninterventions:")
		for _, iv := range interventions {
			fmt.Printf("  reason=%s note=%q base=%s head=%s at=%s\n", iv.Reason, iv.Note, iv.BaseSHA, iv.HeadSHA, iv.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
		}
	}

	if run.StopReason != "" {
		fmt.Printf("\nstopped: %s\n", run.StopReason)
	}

	return nil
}

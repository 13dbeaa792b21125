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

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/runrhq/runr/internal/cli"
	"github.com/runrhq/runr/internal/model"
	"github.com/runrhq/runr/internal/repogateway"
	"github.com/runrhq/runr/internal/runstore"
	"github.com/runrhq/runr/internal/verify"
)

var validInterventionReasons = map[string]model.InterventionReason{
	"review_loop":         model.InterventionReviewLoop,
	"stalled_timeout":     model.InterventionStalledTimeout,
	"verification_failed": model.InterventionVerificationFailed,
	"scope_violation":     model.InterventionScopeViolation,
	"manual_fix":          model.InterventionManualFix,
	"other":               model.InterventionOther,
}

func newInterveneCommand() *cobra.Command {
	var (
		reason   string
		note     string
		baseSHA  string
		headSHA  string
		commit   bool
		commands []string
	)

	cmd := &cobra.Command{
		Use:   "intervene <run_id>",
		Short: "Record a human intervention performed outside the supervisor",
		Long: `intervene writes a write-once receipt documenting work a human did by
hand on a stopped run -- a manual fix, a scope exception, whatever broke
the automated loop. With --commit, it also commits any pending changes
in the repository with Runr-Intervention and Runr-Reason trailers, so
the receipt and the commit it documents can always be cross-referenced.
Repeated --command flags are executed in the repository and their output
is captured, truncated and secret-masked into the receipt alongside the
commit, so the transcript of what the human ran is preserved too.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIntervene(cmd, args[0], reason, note, baseSHA, headSHA, commit, commands)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why the intervention was needed (review_loop, stalled_timeout, verification_failed, scope_violation, manual_fix, other)")
	cmd.Flags().StringVar(&note, "note", "", "free-text description of what was done")
	cmd.Flags().StringVar(&baseSHA, "base-sha", "", "commit the intervention started from, if known")
	cmd.Flags().StringVar(&headSHA, "head-sha", "", "commit the intervention produced, if known")
	cmd.Flags().BoolVar(&commit, "commit", false, "commit pending changes with intervention trailers")
	cmd.Flags().StringArrayVar(&commands, "command", nil, "a shell command to run and record in the receipt; may be repeated")
	_ = cmd.MarkFlagRequired("reason")

	return cmd
}

func runIntervene(cmd *cobra.Command, runID, reasonFlag, note, baseSHA, headSHA string, commit bool, commands []string) error {
	ctx := cmd.Context()

	reason, ok := validInterventionReasons[reasonFlag]
	if !ok {
		return cli.NewInvalidInputError(fmt.Sprintf("unknown --reason %q", reasonFlag), nil)
	}

	repo, err := repoRoot()
	if err != nil {
		return cli.NewInvalidInputError("resolving repository path", err)
	}

	store, err := runstore.Open(repo, runID)
	if err != nil {
		return cli.NewInvalidInputError(fmt.Sprintf("opening run %s", runID), err)
	}

	gw := repogateway.New(repo, nil)

	if commit {
		sha, err := gw.Commit(ctx, fmt.Sprintf("runr: manual intervention on %s (%s)", runID, reason), repogateway.Author{}, map[string]string{
			model.TrailerIntervention: "true",
			model.TrailerReason:       string(reason),
			model.TrailerRunID:        runID,
		})
		if err != nil {
			return fmt.Errorf("committing intervention: %w", err)
		}
		headSHA = sha
	}

	masker := newMasker()

	results := make([]model.CommandResult, 0, len(commands))
	for _, c := range commands {
		cr := verify.RunCommand(ctx, c, repo)
		cr.Output = masker.Mask(cr.Output)
		results = append(results, cr)
	}

	intervention := model.Intervention{
		RunID:     runID,
		Reason:    reason,
		Note:      masker.Mask(note),
		BaseSHA:   baseSHA,
		HeadSHA:   headSHA,
		Commands:  results,
		CreatedAt: time.Now().UTC(),
	}

	id := uuid.New().String()
	if err := store.WriteIntervention(id, intervention); err != nil {
		return fmt.Errorf("writing intervention receipt: %w", err)
	}

	fmt.Printf("recorded intervention %s for run %s\n", id, runID)
	return nil
}

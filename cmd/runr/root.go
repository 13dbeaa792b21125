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
	"github.com/spf13/cobra"
)

// Global flags shared by every subcommand. cobra persistent flags are
// simplest as package-level vars here, matching the run command's own
// local-closure style in the teacher for its command-specific flags.
var (
	flagRepo      string
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "runr",
		Short: "Supervise an AI coding worker through a verified checkpoint workflow",
		Long: `runr drives an external coding worker through PLAN, IMPLEMENT, VERIFY,
REVIEW, CHECKPOINT and FINALIZE against a git repository, producing
verified, resumable checkpoints. runr never edits files itself -- every
change comes from the configured worker binary and is checked against a
frozen scope lock before a checkpoint commit can land.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagRepo, "repo", ".", "path to the git repository to supervise")
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to runr.yaml (default: <repo>/runr.yaml, falling back to the XDG config directory)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override RUNR_LOG_LEVEL (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "override RUNR_LOG_FORMAT (json, text)")

	root.AddCommand(newRunCommand())
	root.AddCommand(newResumeCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newReportCommand())
	root.AddCommand(newFollowCommand())
	root.AddCommand(newWaitCommand())
	root.AddCommand(newInterveneCommand())

	return root
}

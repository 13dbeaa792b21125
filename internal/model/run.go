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

package model

import "time"

// ScopeLock is the frozen allow/deny/lockfile policy captured once at run
// start. It is never widened during the life of a run.
type ScopeLock struct {
	Allow          []string   `json:"allow"`
	Deny           []string   `json:"deny"`
	Lockfiles      []string   `json:"lockfiles"`
	DepsPolicy     DepsPolicy `json:"deps_policy"`
	AllowedDeps    []string   `json:"allowed_packages,omitempty"`
}

// Milestone is a planned unit of work produced by the PLAN phase. It is
// never mutated once accepted.
type Milestone struct {
	ID                string    `json:"id"`
	Goal              string    `json:"goal"`
	ExpectedFiles     []string  `json:"files_expected"`
	RiskLevel         RiskLevel `json:"risk_level"`
	DoneChecks        []string  `json:"done_checks"`
	VerificationTier  *Tier     `json:"verification_tier_override,omitempty"`
}

// WorktreeRef records the isolated worktree a run is using, if any. It
// mirrors repogateway.WorktreeInfo so model stays free of dependencies on
// other internal packages.
type WorktreeRef struct {
	Path    string `json:"path"`
	Branch  string `json:"branch"`
	BaseSHA string `json:"base_sha"`
}

// Run is the central entity: one supervised execution of a task against a
// repository, from preflight through FINALIZE or STOPPED.
type Run struct {
	ID               string       `json:"id"`
	RepoRoot         string       `json:"repo_root"`
	WorkingPath      string       `json:"working_path"`
	TaskText         string       `json:"task_text"`
	Config           Config       `json:"config"`
	Fingerprint      Fingerprint  `json:"fingerprint"`
	Phase            Phase        `json:"phase"`
	MilestoneIndex   int          `json:"milestone_index"`
	Milestones       []Milestone  `json:"milestones"`
	PhaseAttempt     int          `json:"phase_attempt"`
	VerificationFails int         `json:"verification_failures"`
	ReviewRounds     int          `json:"review_rounds"`
	ReviewFingerprint string      `json:"review_fingerprint,omitempty"`
	AutoResumeCount  int          `json:"auto_resume_count"`
	LastError        string       `json:"last_error,omitempty"`
	LastChangedFiles []string     `json:"last_changed_files,omitempty"`
	LastVerification *VerifyResult `json:"last_verification,omitempty"`
	LastCheckpoint   string       `json:"last_checkpoint_sha,omitempty"`
	Worktree         *WorktreeRef `json:"worktree,omitempty"`
	ScopeLock        ScopeLock    `json:"scope_lock"`
	SchemaVersion    int          `json:"schema_version"`
	StopReason       StopReason   `json:"stop_reason,omitempty"`
	Complete         bool         `json:"complete"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	LastProgressAt   time.Time    `json:"last_progress_at"`
}

// VerifyResult is the evidence recorded from the most recent verification
// attempt, used both for the state snapshot and for stop handoffs.
type VerifyResult struct {
	Tier           Tier            `json:"tier"`
	OK             bool            `json:"ok"`
	Commands       []CommandResult `json:"commands"`
	DurationMillis int64           `json:"duration_ms"`
}

// CommandResult is the outcome of one verification or git shell command.
type CommandResult struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
	Truncated bool  `json:"truncated"`
}

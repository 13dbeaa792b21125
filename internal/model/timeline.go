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

// EventType is a closed, extensible-by-minor-bump vocabulary of timeline
// event kinds.
type EventType string

const (
	EventRunStarted                  EventType = "run_started"
	EventRunResumed                   EventType = "run_resumed"
	EventPreflight                    EventType = "preflight"
	EventPhaseStart                   EventType = "phase_start"
	EventPlanGenerated                EventType = "plan_generated"
	EventImplementComplete            EventType = "implement_complete"
	EventGuardViolation               EventType = "guard_violation"
	EventVerification                 EventType = "verification"
	EventTierPassed                   EventType = "tier_passed"
	EventTierFailed                   EventType = "tier_failed"
	EventReviewComplete               EventType = "review_complete"
	EventReviewLoopDetected           EventType = "review_loop_detected"
	EventCheckpointComplete           EventType = "checkpoint_complete"
	EventCheckpointSidecarWriteFailed EventType = "checkpoint_sidecar_write_failed"
	EventResumeCheckpointSelected     EventType = "resume_checkpoint_selected"
	EventMilestoneIndexDriftCorrected EventType = "milestone_index_drift_corrected"
	EventStalledTimeout               EventType = "stalled_timeout"
	EventWorkerFallback               EventType = "worker_fallback"
	EventParseFailed                  EventType = "parse_failed"
	EventLateWorkerResultIgnored      EventType = "late_worker_result_ignored"
	EventLockfileChanged              EventType = "lockfile_changed"
	EventWorktreeRecreated            EventType = "worktree_recreated"
	EventWorktreeBranchMismatch       EventType = "worktree_branch_mismatch"
	EventNodeModulesSymlinked         EventType = "node_modules_symlinked"
	EventStop                         EventType = "stop"
	EventRunComplete                  EventType = "run_complete"
)

// EventSource identifies which collaborator emitted a timeline event.
type EventSource string

const (
	SourceCLI        EventSource = "cli"
	SourceSupervisor EventSource = "supervisor"
	SourceWorker     EventSource = "worker"
	SourceVerifier   EventSource = "verifier"
	SourceGuard      EventSource = "guard"
)

// Event is one append-only line of the run's timeline. Sequence numbers are
// strictly increasing and dense starting at 1; once written an event is
// never mutated or reordered.
type Event struct {
	Seq       int             `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Type      EventType       `json:"type"`
	Source    EventSource     `json:"source"`
	Payload   map[string]any  `json:"payload,omitempty"`
}

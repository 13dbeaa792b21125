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

// StopReason is a closed enumeration of every way a run can halt. The
// supervisor selects exactly one on every path out of the state machine.
type StopReason string

const (
	// Auto-resumable family: the supervisor (or an operator re-invoking
	// resume) may retry the run from its last checkpoint.
	StopStalledTimeout               StopReason = "stalled_timeout"
	StopMaxTicksReached              StopReason = "max_ticks_reached"
	StopTimeBudgetExceeded           StopReason = "time_budget_exceeded"
	StopVerificationFailedMaxRetries StopReason = "verification_failed_max_retries"
	StopImplementBlocked             StopReason = "implement_blocked"
	StopWorkerCallTimeout            StopReason = "worker_call_timeout"

	// Manual-only family: a human decision or invariant violation, never
	// auto-resumed.
	StopGuardViolation         StopReason = "guard_violation"
	StopPlanScopeViolation     StopReason = "plan_scope_violation"
	StopScopeViolation         StopReason = "scope_violation"
	StopOwnershipViolation     StopReason = "ownership_violation"
	StopParallelFileCollision  StopReason = "parallel_file_collision"
	StopReviewLoopDetected     StopReason = "review_loop_detected"
	StopLockfileViolation      StopReason = "lockfile_violation"
	StopPlanParseFailed        StopReason = "plan_parse_failed"
	StopImplementParseFailed   StopReason = "implement_parse_failed"
	StopReviewParseFailed      StopReason = "review_parse_failed"
	StopPlanRejection          StopReason = "plan_rejection"
	StopCheckpointFailed       StopReason = "checkpoint_failed"

	// Terminal success, recorded on FINALIZE instead of STOPPED.
	StopComplete StopReason = "complete"
)

var autoResumable = map[StopReason]bool{
	StopStalledTimeout:               true,
	StopMaxTicksReached:              true,
	StopTimeBudgetExceeded:           true,
	StopVerificationFailedMaxRetries: true,
	StopImplementBlocked:             true,
	StopWorkerCallTimeout:            true,
}

var known = map[StopReason]bool{
	StopStalledTimeout:               true,
	StopMaxTicksReached:              true,
	StopTimeBudgetExceeded:           true,
	StopVerificationFailedMaxRetries: true,
	StopImplementBlocked:             true,
	StopWorkerCallTimeout:            true,
	StopGuardViolation:               true,
	StopPlanScopeViolation:           true,
	StopScopeViolation:               true,
	StopOwnershipViolation:           true,
	StopParallelFileCollision:        true,
	StopReviewLoopDetected:           true,
	StopLockfileViolation:            true,
	StopPlanParseFailed:              true,
	StopImplementParseFailed:         true,
	StopReviewParseFailed:            true,
	StopPlanRejection:                true,
	StopCheckpointFailed:             true,
	StopComplete:                     true,
}

// Valid reports whether r is a member of the closed stop-reason enumeration.
func (r StopReason) Valid() bool { return known[r] }

// AutoResumable reports whether a run stopped for this reason is eligible
// for auto-resume (subject to the configured backoff schedule and the
// max-auto-resumes budget).
func (r StopReason) AutoResumable() bool { return autoResumable[r] }

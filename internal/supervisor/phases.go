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

package supervisor

import (
	"context"
	"fmt"

	"github.com/runrhq/runr/internal/model"
	"github.com/runrhq/runr/internal/scopeguard"
	"github.com/runrhq/runr/internal/verify"
	"github.com/runrhq/runr/internal/worker"
)

// invokeWorker runs one worker call and records a parse_failed or
// worker_fallback event as appropriate, leaving retry/stop decisions to the
// caller.
func (s *Supervisor) invokeWorker(ctx context.Context, phase model.Phase, prompt string) (worker.Result, error) {
	result, err := s.deps.Worker.Invoke(ctx, phase, prompt, s.run.Config.WorkerCallTimeout)
	if err != nil {
		return result, fmt.Errorf("invoking worker for %s: %w", phase, err)
	}
	if result.Kind == worker.KindParseFailure {
		if err := s.appendEvent(model.EventParseFailed, model.SourceWorker, map[string]any{
			"phase":   phase,
			"sample":  result.RawSample,
			"worker":  result.WorkerUsed,
		}); err != nil {
			return result, err
		}
	}
	return result, nil
}

// decodeOrRetry decodes a worker's structured payload, treating a shape
// mismatch the same as an adapter-level parse failure: it emits
// parse_failed and applies the same retry/stop budget. ok is true when the
// caller should proceed to use payload; when ok is false the caller must
// return err immediately (nil err means the phase is retrying in place).
func decodeOrRetry[T any](s *Supervisor, ctx context.Context, result worker.Result, timeoutReason, parseReason model.StopReason) (payload T, ok bool, err error) {
	payload, decodeErr := decodeStructured[T](result.Structured)
	if decodeErr == nil {
		return payload, true, nil
	}
	if err := s.appendEvent(model.EventParseFailed, model.SourceWorker, map[string]any{
		"phase": s.run.Phase, "error": decodeErr.Error(),
	}); err != nil {
		return payload, false, err
	}
	retry, stopErr := s.retryOrStop(ctx, worker.Result{Kind: worker.KindParseFailure}, timeoutReason, parseReason)
	if stopErr != nil || !retry {
		return payload, false, stopErr
	}
	return payload, false, nil
}

// retryOrStop applies the shared "attempt++; if attempt > 3 -> stop" policy
// for retryable worker outcomes (parse failure, timeout, process error). It
// returns true if the phase should retry (the caller must leave the phase
// unchanged), false if it stopped the run.
func (s *Supervisor) retryOrStop(ctx context.Context, result worker.Result, timeoutReason, parseReason model.StopReason) (retry bool, err error) {
	s.run.PhaseAttempt++
	s.touchProgress()
	if s.deps.PhaseBoundary != nil {
		s.deps.PhaseBoundary.Retry(s.run.ID, string(s.run.Phase), s.run.PhaseAttempt, string(result.Kind), nil)
	}
	if s.run.PhaseAttempt <= retryLimit {
		return true, nil
	}

	reason := parseReason
	detail := fmt.Sprintf("%d consecutive %s outcomes in %s", s.run.PhaseAttempt, result.Kind, s.run.Phase)
	if result.Kind == worker.KindTimeout {
		reason = timeoutReason
	}
	if result.Kind == worker.KindProcessError {
		detail = result.Message
	}
	return false, s.stop(ctx, reason, detail)
}

func (s *Supervisor) doPlan(ctx context.Context) error {
	start := s.now()
	result, err := s.invokeWorker(ctx, model.PhasePlan, renderPlanPrompt(s.run))
	if err != nil {
		return err
	}

	switch result.Kind {
	case worker.KindAccepted:
		payload, ok, err := decodeOrRetry[planPayload](s, ctx, result, model.StopWorkerCallTimeout, model.StopPlanParseFailed)
		if !ok {
			return err
		}
		if payload.Rejected || len(payload.Milestones) == 0 {
			return s.stop(ctx, model.StopPlanRejection, payload.RejectionReason)
		}

		milestones := toMilestones(payload.Milestones)
		for _, m := range milestones {
			if len(m.ExpectedFiles) == 0 {
				continue
			}
			decision, err := scopeguard.Check(m.ExpectedFiles, s.run.ScopeLock.Allow, s.run.ScopeLock.Deny, s.run.ScopeLock.Lockfiles, s.run.ScopeLock.DepsPolicy)
			if err != nil {
				return fmt.Errorf("checking milestone %s expected files: %w", m.ID, err)
			}
			if !decision.OK {
				return s.stop(ctx, model.StopPlanScopeViolation, fmt.Sprintf("milestone %s declares files outside scope: %v", m.ID, decision.Violations))
			}
		}

		s.run.Milestones = milestones
		s.run.MilestoneIndex = 0
		s.run.PhaseAttempt = 0
		if err := s.appendEvent(model.EventPlanGenerated, model.SourceWorker, map[string]any{"milestone_count": len(milestones)}); err != nil {
			return err
		}
		s.enterPhase(model.PhasePlan, model.PhaseImplement, s.now().Sub(start))
		return nil

	case worker.KindTimeout, worker.KindParseFailure, worker.KindProcessError:
		retry, err := s.retryOrStop(ctx, result, model.StopWorkerCallTimeout, model.StopPlanParseFailed)
		if err != nil || !retry {
			return err
		}
		return nil
	}
	return fmt.Errorf("unhandled worker result kind %q in PLAN", result.Kind)
}

func (s *Supervisor) doImplement(ctx context.Context) error {
	start := s.now()
	milestone := *s.currentMilestone()
	feedback := s.implementFeedback()
	result, err := s.invokeWorker(ctx, model.PhaseImplement, renderImplementPrompt(s.run, milestone, feedback))
	if err != nil {
		return err
	}

	switch result.Kind {
	case worker.KindAccepted:
		payload, ok, err := decodeOrRetry[implementPayload](s, ctx, result, model.StopWorkerCallTimeout, model.StopImplementParseFailed)
		if !ok {
			return err
		}

		if payload.Blocked {
			return s.stop(ctx, model.StopImplementBlocked, payload.BlockedReason)
		}

		decision, err := scopeguard.Check(payload.ChangedFiles, s.run.ScopeLock.Allow, s.run.ScopeLock.Deny, s.run.ScopeLock.Lockfiles, s.run.ScopeLock.DepsPolicy)
		if err != nil {
			return fmt.Errorf("checking implement scope: %w", err)
		}
		if !decision.OK {
			if err := s.appendEvent(model.EventGuardViolation, model.SourceGuard, map[string]any{"violations": decision.Violations}); err != nil {
				return err
			}
			return s.stop(ctx, model.StopGuardViolation, fmt.Sprintf("implement touched files outside scope: %v", decision.Violations))
		}

		if len(decision.LockfilesHit) > 0 {
			delta := toPackageDelta(payload)
			if err := s.appendEvent(model.EventLockfileChanged, model.SourceGuard, map[string]any{
				"lockfiles_hit": decision.LockfilesHit,
				"added":         delta.Added,
				"removed":       delta.Removed,
				"upgraded":      delta.Upgraded,
				"diff_stat":     delta.DiffStat,
			}); err != nil {
				return err
			}
			if s.run.ScopeLock.DepsPolicy == model.DepsAllowlist {
				violations, err := scopeguard.ValidateAllowlist(delta, s.run.ScopeLock.AllowedDeps)
				if err != nil {
					return fmt.Errorf("validating allowlist: %w", err)
				}
				if len(violations) > 0 {
					return s.stop(ctx, model.StopLockfileViolation, fmt.Sprintf("packages not on the allowlist: %v", violations))
				}
			}
		}

		s.run.LastChangedFiles = payload.ChangedFiles
		s.run.PhaseAttempt = 0
		if err := s.appendEvent(model.EventImplementComplete, model.SourceWorker, map[string]any{"changed_files": payload.ChangedFiles}); err != nil {
			return err
		}
		s.enterPhase(model.PhaseImplement, model.PhaseVerify, s.now().Sub(start))
		return nil

	case worker.KindTimeout, worker.KindParseFailure, worker.KindProcessError:
		retry, err := s.retryOrStop(ctx, result, model.StopWorkerCallTimeout, model.StopImplementParseFailed)
		if err != nil || !retry {
			return err
		}
		return nil
	}
	return fmt.Errorf("unhandled worker result kind %q in IMPLEMENT", result.Kind)
}

// implementFeedback renders the failure context for a re-attempt at
// IMPLEMENT after a failed VERIFY. It is empty otherwise, including after a
// REVIEW that requested changes: the reviewer's requests are not carried
// into the next IMPLEMENT prompt.
func (s *Supervisor) implementFeedback() string {
	if s.run.LastVerification != nil && !s.run.LastVerification.OK {
		var failing string
		for _, c := range s.run.LastVerification.Commands {
			if c.ExitCode != 0 {
				failing = fmt.Sprintf("`%s` exited %d:\n%s", c.Command, c.ExitCode, c.Output)
				break
			}
		}
		return "Verification failed: " + failing
	}
	return ""
}

func (s *Supervisor) doVerify(ctx context.Context) error {
	start := s.now()
	milestone := *s.currentMilestone()
	tier, escalationReason := selectTier(milestone, s.run.LastChangedFiles, s.run.Config)
	commands := s.run.Config.TierCommands[tier]

	if escalationReason != "" {
		if err := s.appendEvent(model.EventVerification, model.SourceSupervisor, map[string]any{
			"tier_escalated": tier.String(), "reason": escalationReason,
		}); err != nil {
			return err
		}
	}

	result := verify.Run(ctx, tier, commands, s.run.WorkingPath, s.run.Config.VerificationTimeout)
	if s.deps.Masker != nil {
		for i := range result.Commands {
			result.Commands[i].Output = s.deps.Masker.Mask(result.Commands[i].Output)
		}
	}
	s.run.LastVerification = &result
	s.touchProgress()

	eventType := model.EventTierPassed
	if !result.OK {
		eventType = model.EventTierFailed
	}
	if err := s.appendEvent(eventType, model.SourceVerifier, map[string]any{
		"tier": tier.String(), "ok": result.OK, "duration_ms": result.DurationMillis,
	}); err != nil {
		return err
	}

	if result.OK {
		s.run.VerificationFails = 0
		s.enterPhase(model.PhaseVerify, model.PhaseReview, s.now().Sub(start))
		return nil
	}

	s.run.VerificationFails++
	if s.run.VerificationFails > retryLimit {
		return s.stop(ctx, model.StopVerificationFailedMaxRetries, fmt.Sprintf("%d verification failures for milestone %s", s.run.VerificationFails, milestone.ID))
	}
	s.enterPhase(model.PhaseVerify, model.PhaseImplement, s.now().Sub(start))
	return nil
}

func (s *Supervisor) doReview(ctx context.Context) error {
	start := s.now()
	milestone := *s.currentMilestone()
	result, err := s.invokeWorker(ctx, model.PhaseReview, renderReviewPrompt(s.run, milestone, *s.run.LastVerification))
	if err != nil {
		return err
	}

	switch result.Kind {
	case worker.KindAccepted:
		payload, ok, err := decodeOrRetry[reviewPayload](s, ctx, result, model.StopWorkerCallTimeout, model.StopReviewParseFailed)
		if !ok {
			return err
		}

		if err := s.appendEvent(model.EventReviewComplete, model.SourceWorker, map[string]any{
			"verdict": payload.Verdict, "requested_changes": payload.RequestedChanges,
		}); err != nil {
			return err
		}

		if payload.Verdict == "approve" {
			s.run.PhaseAttempt = 0
			s.run.ReviewRounds = 0
			s.run.ReviewFingerprint = ""
			s.enterPhase(model.PhaseReview, model.PhaseCheckpoint, s.now().Sub(start))
			return nil
		}

		fingerprint := reviewFingerprint(payload.RequestedChanges)
		s.run.ReviewRounds++
		if fingerprint != "" && fingerprint == s.run.ReviewFingerprint {
			if err := s.appendEvent(model.EventReviewLoopDetected, model.SourceSupervisor, map[string]any{
				"unmet_done_checks": payload.UnmetDoneChecks,
			}); err != nil {
				return err
			}
			return s.stop(ctx, model.StopReviewLoopDetected, "two successive review rounds requested the same changes")
		}
		if s.run.ReviewRounds > s.run.Config.MaxReviewRounds {
			if err := s.appendEvent(model.EventReviewLoopDetected, model.SourceSupervisor, map[string]any{
				"unmet_done_checks": payload.UnmetDoneChecks,
			}); err != nil {
				return err
			}
			return s.stop(ctx, model.StopReviewLoopDetected, fmt.Sprintf("exceeded max_review_rounds (%d)", s.run.Config.MaxReviewRounds))
		}

		s.run.ReviewFingerprint = fingerprint
		s.run.PhaseAttempt = 0
		s.enterPhase(model.PhaseReview, model.PhaseImplement, s.now().Sub(start))
		return nil

	case worker.KindTimeout, worker.KindParseFailure, worker.KindProcessError:
		retry, err := s.retryOrStop(ctx, result, model.StopWorkerCallTimeout, model.StopReviewParseFailed)
		if err != nil || !retry {
			return err
		}
		return nil
	}
	return fmt.Errorf("unhandled worker result kind %q in REVIEW", result.Kind)
}

func (s *Supervisor) doCheckpoint(ctx context.Context) error {
	start := s.now()
	milestone := *s.currentMilestone()

	message := fmt.Sprintf("chore(runr): checkpoint %s milestone %d", s.run.ID, s.run.MilestoneIndex)
	trailers := map[string]string{
		model.TrailerRunID:      s.run.ID,
		model.TrailerCheckpoint: "true",
	}
	sha, err := s.deps.Gateway.Commit(ctx, message, botAuthor, trailers)
	if err != nil {
		return s.stop(ctx, model.StopCheckpointFailed, err.Error())
	}

	committedAt, err := s.deps.Gateway.CommittedAt(ctx, sha)
	if err != nil {
		committedAt = s.now()
	}

	var passed []string
	if s.run.LastVerification != nil {
		for _, c := range s.run.LastVerification.Commands {
			if c.ExitCode == 0 {
				passed = append(passed, c.Command)
			}
		}
	}
	tier := model.Tier0
	if s.run.LastVerification != nil {
		tier = s.run.LastVerification.Tier
	}
	sidecar := model.Sidecar{
		CommitSHA:          sha,
		RunID:              s.run.ID,
		MilestoneIndex:     s.run.MilestoneIndex,
		MilestoneTitle:     milestone.Goal,
		CreatedAt:          committedAt,
		VerificationTier:   tier,
		VerificationPassed: passed,
	}
	if err := s.deps.Checkpoints.WriteCheckpoint(sidecar); err != nil {
		if appendErr := s.appendEvent(model.EventCheckpointSidecarWriteFailed, model.SourceSupervisor, map[string]any{
			"commit_sha": sha, "error": err.Error(),
		}); appendErr != nil {
			return appendErr
		}
	} else {
		if err := s.appendEvent(model.EventCheckpointComplete, model.SourceSupervisor, map[string]any{
			"commit_sha": sha, "milestone_index": s.run.MilestoneIndex,
		}); err != nil {
			return err
		}
	}

	s.run.LastCheckpoint = sha
	s.run.MilestoneIndex++
	s.run.PhaseAttempt = 0
	s.run.VerificationFails = 0
	s.run.ReviewRounds = 0
	s.run.ReviewFingerprint = ""
	s.run.LastChangedFiles = nil

	if s.run.MilestoneIndex >= len(s.run.Milestones) {
		s.enterPhase(model.PhaseCheckpoint, model.PhaseFinalize, s.now().Sub(start))
		return nil
	}
	s.enterPhase(model.PhaseCheckpoint, model.PhaseImplement, s.now().Sub(start))
	return nil
}

func (s *Supervisor) doFinalize(ctx context.Context) error {
	commands := s.run.Config.TierCommands[model.Tier2]
	if len(commands) > 0 {
		result := verify.Run(ctx, model.Tier2, commands, s.run.WorkingPath, s.run.Config.VerificationTimeout)
		if s.deps.Masker != nil {
			for i := range result.Commands {
				result.Commands[i].Output = s.deps.Masker.Mask(result.Commands[i].Output)
			}
		}
		eventType := model.EventTierPassed
		if !result.OK {
			eventType = model.EventTierFailed
		}
		if err := s.appendEvent(eventType, model.SourceVerifier, map[string]any{
			"tier": model.Tier2.String(), "ok": result.OK, "stage": "finalize",
		}); err != nil {
			return err
		}
	}

	s.run.Complete = true
	s.run.StopReason = model.StopComplete
	s.touchProgress()
	if err := s.appendEvent(model.EventRunComplete, model.SourceSupervisor, map[string]any{"run_id": s.run.ID}); err != nil {
		return err
	}
	if s.deps.PhaseBoundary != nil {
		s.deps.PhaseBoundary.Exit(s.run.ID, string(model.PhaseFinalize), "", 0)
	}
	return nil
}

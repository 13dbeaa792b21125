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

package log

import (
	"log/slog"
	"time"
)

// PhaseBoundary logs entry into a supervisor phase at Info, and the
// outcome of leaving it at Info (success) or Warn (a retryable failure
// that keeps the run in-phase, such as a parse failure or verification
// miss). It is the one place phase transitions are logged, so every
// collaborator's phase-boundary lines carry the same field shape.
type PhaseBoundary struct {
	logger *slog.Logger
}

// NewPhaseBoundary returns a PhaseBoundary that logs through logger.
func NewPhaseBoundary(logger *slog.Logger) *PhaseBoundary {
	return &PhaseBoundary{logger: logger}
}

// Enter logs that a run has started a phase.
func (p *PhaseBoundary) Enter(runID, phase string, milestoneIndex int) {
	p.logger.Info("phase started",
		slog.String(RunIDKey, runID),
		slog.String(PhaseKey, phase),
		slog.Int(MilestoneIndexKey, milestoneIndex),
	)
}

// Retry logs a retryable failure that keeps the run in the same phase
// (a worker parse failure, a verification miss, a worker timeout within
// budget). attempt is the 1-based attempt number about to be retried.
func (p *PhaseBoundary) Retry(runID, phase string, attempt int, reason string, err error) {
	attrs := []any{
		slog.String(RunIDKey, runID),
		slog.String(PhaseKey, phase),
		slog.Int("attempt", attempt),
		slog.String("retry_reason", reason),
	}
	if err != nil {
		attrs = append(attrs, Error(err))
	}
	p.logger.Warn("phase attempt failed, retrying", attrs...)
}

// Exit logs that a run left a phase for nextPhase, which is empty when the
// phase was the run's last one. Halts are logged by Stop, not Exit.
func (p *PhaseBoundary) Exit(runID, phase, nextPhase string, elapsed time.Duration) {
	p.logger.Info("phase completed",
		slog.String(RunIDKey, runID),
		slog.String(PhaseKey, phase),
		slog.String("next_phase", nextPhase),
		slog.Duration("elapsed", elapsed),
	)
}

// Stop logs that a run halted, at Warn for auto-resumable reasons and
// Error for everything else, since a manual-only stop always needs a
// human to look at it.
func (p *PhaseBoundary) Stop(runID, phase, stopReason string, autoResumable bool) {
	attrs := []any{
		slog.String(RunIDKey, runID),
		slog.String(PhaseKey, phase),
		slog.String(StopReasonKey, stopReason),
	}
	if autoResumable {
		p.logger.Warn("run stopped", attrs...)
		return
	}
	p.logger.Error("run stopped", attrs...)
}

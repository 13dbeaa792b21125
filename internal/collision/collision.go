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

// Package collision is the Collision Arbiter: given the set of currently
// active runs against a repository and a new run's declared scope, decides
// whether the new run may proceed, should serialize behind another, or
// must be rejected outright.
package collision

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/runrhq/runr/internal/model"
	"github.com/runrhq/runr/internal/runlock"
	"github.com/runrhq/runr/internal/runstore"
)

// Outcome classifies the arbiter's verdict for a new run against the
// currently active set.
type Outcome string

const (
	OutcomeNone      Outcome = "none"
	OutcomeAllowlist Outcome = "allowlist"
	OutcomeCollision Outcome = "collision"
)

// ActiveRun is the subset of a prior run's state the arbiter needs.
type ActiveRun struct {
	RunID         string
	Allow         []string
	ExpectedFiles []string
}

// Decision is the arbiter's verdict plus, for a collision, which run it
// collided with and what the configured policy says to do about it.
type Decision struct {
	Outcome    Outcome
	WithRunID  string
	Policy     string // "serialize" | "force" | "fail", set only when Outcome == OutcomeCollision
}

// Arbiter discovers active runs for a repository and evaluates new run
// intents against them.
type Arbiter struct {
	RepoRoot   string
	StaleAfter time.Duration

	group singleflight.Group
}

// New returns an Arbiter for repoRoot. staleAfter is how long a run's state
// snapshot may go without advancing before it is no longer considered
// active for collision purposes.
func New(repoRoot string, staleAfter time.Duration) *Arbiter {
	return &Arbiter{RepoRoot: repoRoot, StaleAfter: staleAfter}
}

// DiscoverActive scans the run store for runs that are neither STOPPED nor
// a completed FINALIZE, and whose state has advanced within StaleAfter. A
// run whose advisory lock is not held by a live process is still eligible
// here — lock absence alone does not imply staleness, since a process may
// legitimately be between ticks; staleness is judged purely by
// last-updated time, per spec.
//
// Concurrent callers on the same Arbiter scanning the same repoRoot share
// one filesystem walk via singleflight. The coalescing is in-process only;
// separate CLI processes each do their own walk.
func (a *Arbiter) DiscoverActive(ctx context.Context) ([]ActiveRun, error) {
	v, err, _ := a.group.Do(a.RepoRoot, func() (any, error) {
		return a.discoverActiveUncached(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]ActiveRun), nil
}

func (a *Arbiter) discoverActiveUncached(ctx context.Context) ([]ActiveRun, error) {
	ids, err := runstore.ListRunIDs(a.RepoRoot)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	cutoff := time.Now().Add(-a.StaleAfter)
	var active []ActiveRun
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		store, err := runstore.Open(a.RepoRoot, id)
		if err != nil {
			continue
		}
		run, err := store.ReadState()
		if err != nil {
			continue
		}
		if run.Phase == model.PhaseStopped || (run.Phase == model.PhaseFinalize && run.Complete) {
			continue
		}
		if run.UpdatedAt.Before(cutoff) {
			continue
		}

		var expected []string
		for _, m := range run.Milestones {
			expected = append(expected, m.ExpectedFiles...)
		}
		active = append(active, ActiveRun{
			RunID:         run.ID,
			Allow:         run.ScopeLock.Allow,
			ExpectedFiles: expected,
		})
	}
	return active, nil
}

// Held reports whether the given active run's process lock is currently
// held. It is not consulted by Evaluate or DiscoverActive.
func Held(runDir string) bool {
	held, err := runlock.Held(runDir)
	return err == nil && held
}

// Evaluate decides the outcome for a new run declaring newAllow/newExpected
// against the currently active runs, per the configured collisionPolicy
// ("serialize" | "force" | "fail") used only when the outcome is a true
// collision (expected-file overlap).
func Evaluate(active []ActiveRun, newAllow, newExpected []string, collisionPolicy string) Decision {
	for _, other := range active {
		if overlaps(other.ExpectedFiles, newExpected) {
			return Decision{Outcome: OutcomeCollision, WithRunID: other.RunID, Policy: collisionPolicy}
		}
	}
	for _, other := range active {
		if overlaps(other.Allow, newAllow) {
			return Decision{Outcome: OutcomeAllowlist, WithRunID: other.RunID}
		}
	}
	return Decision{Outcome: OutcomeNone}
}

func overlaps(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

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

package collision

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runrhq/runr/internal/model"
	"github.com/runrhq/runr/internal/runstore"
)

func TestEvaluateNoOverlap(t *testing.T) {
	active := []ActiveRun{{RunID: "r1", Allow: []string{"src/**"}, ExpectedFiles: []string{"src/a.go"}}}
	d := Evaluate(active, []string{"docs/**"}, []string{"docs/readme.md"}, "serialize")
	assert.Equal(t, OutcomeNone, d.Outcome)
}

func TestEvaluateAllowlistOverlapOnly(t *testing.T) {
	active := []ActiveRun{{RunID: "r1", Allow: []string{"src/**"}, ExpectedFiles: []string{"src/a.go"}}}
	d := Evaluate(active, []string{"src/**"}, []string{"src/b.go"}, "serialize")
	assert.Equal(t, OutcomeAllowlist, d.Outcome)
	assert.Equal(t, "r1", d.WithRunID)
}

func TestEvaluateExpectedFileCollision(t *testing.T) {
	active := []ActiveRun{{RunID: "r1", Allow: []string{"src/**"}, ExpectedFiles: []string{"src/a.go"}}}
	d := Evaluate(active, []string{"src/**"}, []string{"src/a.go"}, "fail")
	assert.Equal(t, OutcomeCollision, d.Outcome)
	assert.Equal(t, "fail", d.Policy)
	assert.Equal(t, "r1", d.WithRunID)
}

func TestDiscoverActiveExcludesStoppedAndStale(t *testing.T) {
	repo := t.TempDir()

	s1, err := runstore.Init(repo, "run-active")
	require.NoError(t, err)
	require.NoError(t, s1.WriteState(&model.Run{ID: "run-active", Phase: model.PhaseImplement, UpdatedAt: time.Now()}))

	s2, err := runstore.Init(repo, "run-stopped")
	require.NoError(t, err)
	require.NoError(t, s2.WriteState(&model.Run{ID: "run-stopped", Phase: model.PhaseStopped, UpdatedAt: time.Now()}))

	// Write the stale run's state.json directly: Store.WriteState always
	// stamps UpdatedAt to now, so simulating staleness requires bypassing
	// it the same way a long-idle prior process's last write would look.
	_, err = runstore.Init(repo, "run-stale")
	require.NoError(t, err)
	staleRun := model.Run{ID: "run-stale", Phase: model.PhaseImplement, UpdatedAt: time.Now().Add(-1 * time.Hour)}
	data, err := json.Marshal(staleRun)
	require.NoError(t, err)
	runsRoot, _ := runstore.RootsFor(repo)
	require.NoError(t, os.WriteFile(filepath.Join(runsRoot, "run-stale", "state.json"), data, 0o600))

	arbiter := New(repo, 10*time.Minute)
	active, err := arbiter.DiscoverActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "run-active", active[0].RunID)
}

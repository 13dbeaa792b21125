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

package scopeguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runrhq/runr/internal/model"
)

func TestCheckAllowsMatchingPath(t *testing.T) {
	d, err := Check([]string{"src/handlers/health.go"}, []string{"src/**"}, nil, nil, model.DepsOpen)
	require.NoError(t, err)
	assert.True(t, d.OK)
	assert.Empty(t, d.Violations)
}

func TestCheckDeniesOutsideAllowlist(t *testing.T) {
	d, err := Check([]string{"secrets/.env"}, []string{"src/**"}, []string{".env*"}, nil, model.DepsOpen)
	require.NoError(t, err)
	assert.False(t, d.OK)
	require.Len(t, d.Violations, 1)
	assert.Equal(t, "secrets/.env", d.Violations[0].Path)
	assert.Equal(t, "denied", d.Violations[0].Reason)
}

func TestCheckDenyWinsTies(t *testing.T) {
	d, err := Check([]string{"src/secret.go"}, []string{"src/**"}, []string{"src/secret.go"}, nil, model.DepsOpen)
	require.NoError(t, err)
	assert.False(t, d.OK)
	assert.Equal(t, "denied", d.Violations[0].Reason)
}

func TestCheckNotAllowedWithoutDenyMatch(t *testing.T) {
	d, err := Check([]string{"docs/readme.md"}, []string{"src/**"}, nil, nil, model.DepsOpen)
	require.NoError(t, err)
	assert.False(t, d.OK)
	assert.Equal(t, "not_allowed", d.Violations[0].Reason)
}

func TestCheckLockfileStrictBlocks(t *testing.T) {
	d, err := Check([]string{"package-lock.json"}, []string{"**"}, nil, []string{"package-lock.json"}, model.DepsStrict)
	require.NoError(t, err)
	assert.False(t, d.OK)
	assert.Equal(t, "lockfile_strict", d.Violations[0].Reason)
	assert.Contains(t, d.LockfilesHit, "package-lock.json")
}

func TestCheckLockfileAllowlistDefersValidation(t *testing.T) {
	d, err := Check([]string{"package-lock.json"}, []string{"**"}, nil, []string{"package-lock.json"}, model.DepsAllowlist)
	require.NoError(t, err)
	assert.True(t, d.OK)
	assert.Contains(t, d.LockfilesHit, "package-lock.json")
}

func TestValidateAllowlistExactScopedAndWildcard(t *testing.T) {
	delta := PackageDelta{Added: []string{"zod", "@org/widget", "axios"}}

	violations, err := ValidateAllowlist(delta, []string{"zod", "@org/*"})
	require.NoError(t, err)
	assert.Equal(t, []string{"axios"}, violations)
}

func TestValidateAllowlistGlobalWildcard(t *testing.T) {
	delta := PackageDelta{Added: []string{"zod", "axios"}}

	violations, err := ValidateAllowlist(delta, []string{"*"})
	require.NoError(t, err)
	assert.Empty(t, violations)
}

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

package runlock

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir)
	require.NoError(t, err)

	held, err := Held(dir)
	require.NoError(t, err)
	assert.True(t, held)

	pid, ok := HolderPID(dir)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, lock.Release())

	held, err = Held(dir)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestAcquireFailsWhenHeld(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir)
	require.NoError(t, err)
	defer lock.Release()

	_, err = Acquire(dir)
	assert.True(t, errors.Is(err, ErrHeld))
}

func TestAcquireReacquirableAfterRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir)
	require.NoError(t, err)
	require.NoError(t, lock.Release())

	lock2, err := Acquire(dir)
	require.NoError(t, err)
	require.NoError(t, lock2.Release())
}

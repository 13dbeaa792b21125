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

// Package fingerprint computes the short snapshot of environment facts a
// run captures at start and the Resume Planner compares against at resume
// time: tool versions, lockfile content hashes, and the host's GOOS/GOARCH.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/runrhq/runr/internal/model"
)

// toolProbes maps a tool name to the flag that prints its version.
var toolProbes = map[string][]string{
	"git": {"--version"},
}

// Compute builds a Fingerprint for repoRoot: the version string of every
// tool in toolProbes that is on PATH, a sha256 of every lockfile in
// lockfiles that exists in the working tree, and the running binary's
// GOOS/GOARCH.
func Compute(ctx context.Context, repoRoot string, lockfiles []string) model.Fingerprint {
	fp := model.Fingerprint{
		ToolVersions: make(map[string]string, len(toolProbes)),
		LockfileHash: make(map[string]string, len(lockfiles)),
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
	}

	for tool, args := range toolProbes {
		if v, ok := probeVersion(ctx, tool, args); ok {
			fp.ToolVersions[tool] = v
		}
	}

	for _, name := range lockfiles {
		path := filepath.Join(repoRoot, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		sum := sha256.Sum256(data)
		fp.LockfileHash[name] = hex.EncodeToString(sum[:])
	}

	return fp
}

func probeVersion(ctx context.Context, tool string, args []string) (string, bool) {
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(callCtx, tool, args...)
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0]), true
}

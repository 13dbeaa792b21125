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

// Package scopeguard decides whether a set of changed repo-relative paths
// stays within a run's allow/deny scope, and classifies lockfile deltas
// against the configured dependency policy.
package scopeguard

import (
	"fmt"
	"path"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/runrhq/runr/internal/model"
)

// Violation describes one changed path that failed the scope check.
type Violation struct {
	Path   string `json:"path"`
	Reason string `json:"reason"` // "denied" | "not_allowed" | "lockfile_strict"
}

// Decision is the result of a preflight or post-implement scope check.
type Decision struct {
	OK           bool        `json:"ok"`
	Violations   []Violation `json:"violations,omitempty"`
	LockfilesHit []string    `json:"lockfiles_hit,omitempty"` // changed paths that matched the lockfile list
}

// Check evaluates changed paths against allow, deny, and the protected
// lockfile list under depsPolicy. Glob matching uses doublestar "**"
// semantics against POSIX-style repo-relative paths; ties between allow and
// deny are resolved in favor of deny.
func Check(changed, allow, deny, lockfiles []string, depsPolicy model.DepsPolicy) (Decision, error) {
	d := Decision{OK: true}

	for _, p := range changed {
		p = path.Clean(p)

		denied, err := matchesAny(deny, p)
		if err != nil {
			return Decision{}, err
		}
		if denied {
			d.OK = false
			d.Violations = append(d.Violations, Violation{Path: p, Reason: "denied"})
			continue
		}

		isLockfile, err := matchesAny(lockfiles, p)
		if err != nil {
			return Decision{}, err
		}
		if isLockfile {
			d.LockfilesHit = append(d.LockfilesHit, p)
			switch depsPolicy {
			case model.DepsStrict:
				d.OK = false
				d.Violations = append(d.Violations, Violation{Path: p, Reason: "lockfile_strict"})
				continue
			case model.DepsAllowlist:
				// Allowed to change; package-level validation happens later
				// via ValidateAllowlist once the delta is known.
			case model.DepsOpen:
				// No restriction.
			}
			continue
		}

		allowed, err := matchesAny(allow, p)
		if err != nil {
			return Decision{}, err
		}
		if !allowed {
			d.OK = false
			d.Violations = append(d.Violations, Violation{Path: p, Reason: "not_allowed"})
		}
	}

	sort.Slice(d.Violations, func(i, j int) bool { return d.Violations[i].Path < d.Violations[j].Path })
	sort.Strings(d.LockfilesHit)
	return d, nil
}

func matchesAny(patterns []string, p string) (bool, error) {
	for _, pattern := range patterns {
		if pattern == "*" {
			return true, nil
		}
		ok, err := doublestar.Match(pattern, p)
		if err != nil {
			return false, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// PackageDelta is the forensic payload of a lockfile change, regardless of
// whether it is ultimately accepted.
type PackageDelta struct {
	Added    []string `json:"packages_added"`
	Removed  []string `json:"packages_removed"`
	Upgraded []string `json:"packages_upgraded"`
	DiffStat string   `json:"diff_stat"`
}

// ValidateAllowlist checks every added package name against allowedDeps
// under the allowlist deps policy. A pattern may be an exact package name,
// a scoped wildcard ("@org/*"), or the global wildcard ("*"). It returns
// the names that matched no pattern.
func ValidateAllowlist(delta PackageDelta, allowedDeps []string) ([]string, error) {
	var violations []string
	for _, pkg := range delta.Added {
		ok, err := matchesAny(allowedDeps, pkg)
		if err != nil {
			return nil, err
		}
		if !ok {
			violations = append(violations, pkg)
		}
	}
	sort.Strings(violations)
	return violations, nil
}

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

package runstore

import "fmt"

// WriteArtifact writes a run artifact (e.g. the verbatim task.md) once.
// A second write for the same name fails, since artifacts are meant to be
// an immutable record of what the run was given.
func (s *Store) WriteArtifact(name string, data []byte) error {
	if err := writeFileExclusive(s.artifactPath(name), data, 0o600); err != nil {
		return fmt.Errorf("writing artifact %s: %w", name, err)
	}
	return nil
}

// WriteHandoff writes a handoff note (stop.json, stop.md, milestone_N.md,
// ...) once.
func (s *Store) WriteHandoff(name string, data []byte) error {
	if err := writeFileExclusive(s.handoffPath(name), data, 0o600); err != nil {
		return fmt.Errorf("writing handoff %s: %w", name, err)
	}
	return nil
}

// ReadHandoff reads back a previously written handoff.
func (s *Store) ReadHandoff(name string) ([]byte, error) {
	return readFile(s.handoffPath(name))
}

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

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/runrhq/runr/internal/model"
)

func (s *Store) interventionPath(id string) string {
	return filepath.Join(s.handoffPath("interventions"), id+".json")
}

// WriteIntervention persists an Intervention receipt once, keyed by id (a
// caller-supplied identifier, typically a uuid so it never collides with a
// run ID that hasn't been assigned yet). An intervention receipt is
// write-once: a second write for the same id fails rather than silently
// overwriting the forensic record.
func (s *Store) WriteIntervention(id string, intervention model.Intervention) error {
	data, err := json.MarshalIndent(intervention, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling intervention %s: %w", id, err)
	}
	if err := writeFileExclusive(s.interventionPath(id), data, 0o600); err != nil {
		return fmt.Errorf("writing intervention %s: %w", id, err)
	}
	return nil
}

// ReadInterventions returns every intervention receipt recorded for this
// run, for `report` rendering.
func (s *Store) ReadInterventions() ([]model.Intervention, error) {
	dir := s.handoffPath("interventions")
	entries, err := readDir(dir)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading interventions: %w", err)
	}
	var out []model.Intervention
	for _, name := range entries {
		data, err := readFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var in model.Intervention
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		out = append(out, in)
	}
	return out, nil
}

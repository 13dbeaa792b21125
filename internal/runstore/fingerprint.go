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

	"github.com/runrhq/runr/internal/model"
)

// WriteFingerprint captures the environment fingerprint at run start.
func (s *Store) WriteFingerprint(fp model.Fingerprint) error {
	data, err := json.MarshalIndent(fp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling fingerprint: %w", err)
	}
	return writeFileAtomic(s.fingerprintPath(), data, 0o600)
}

// ReadFingerprint returns the fingerprint captured at run start.
func (s *Store) ReadFingerprint() (model.Fingerprint, error) {
	var fp model.Fingerprint
	data, err := readFile(s.fingerprintPath())
	if err != nil {
		return fp, fmt.Errorf("reading fingerprint: %w", err)
	}
	if err := json.Unmarshal(data, &fp); err != nil {
		return fp, fmt.Errorf("unmarshaling fingerprint: %w", err)
	}
	return fp, nil
}

// WriteConfigSnapshot captures the effective config at run start. Resume
// reads from this snapshot rather than the live config file so a run's
// behavior does not silently change underneath an in-flight execution.
func (s *Store) WriteConfigSnapshot(cfg model.Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config snapshot: %w", err)
	}
	return writeFileAtomic(s.configSnapshotPath(), data, 0o600)
}

// ReadConfigSnapshot returns the config captured at run start.
func (s *Store) ReadConfigSnapshot() (model.Config, error) {
	var cfg model.Config
	data, err := readFile(s.configSnapshotPath())
	if err != nil {
		return cfg, fmt.Errorf("reading config snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshaling config snapshot: %w", err)
	}
	return cfg, nil
}

// LastWorkerCall records that a worker invocation is in flight, so a crash
// mid-call is visible to the Resume Planner and to forensic tooling.
type LastWorkerCall struct {
	Worker    string    `json:"worker"`
	Phase     model.Phase `json:"phase"`
	StartedAt string    `json:"started_at"`
}

// WriteLastWorkerCall persists the in-flight worker call marker before
// invocation.
func (s *Store) WriteLastWorkerCall(call LastWorkerCall) error {
	data, err := json.MarshalIndent(call, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling last worker call: %w", err)
	}
	return writeFileAtomic(s.lastWorkerCallPath(), data, 0o600)
}

// ClearLastWorkerCall removes the in-flight marker on completion.
func (s *Store) ClearLastWorkerCall() error {
	if err := removeIfExists(s.lastWorkerCallPath()); err != nil {
		return fmt.Errorf("clearing last worker call: %w", err)
	}
	return nil
}

// ReadLastWorkerCall returns the in-flight marker, or (LastWorkerCall{},
// false, nil) if none is present (the common case: the prior process
// exited cleanly between calls).
func (s *Store) ReadLastWorkerCall() (LastWorkerCall, bool, error) {
	data, err := readFile(s.lastWorkerCallPath())
	if err != nil {
		if isNotExist(err) {
			return LastWorkerCall{}, false, nil
		}
		return LastWorkerCall{}, false, fmt.Errorf("reading last worker call: %w", err)
	}
	var call LastWorkerCall
	if err := json.Unmarshal(data, &call); err != nil {
		return LastWorkerCall{}, false, fmt.Errorf("unmarshaling last worker call: %w", err)
	}
	return call, true, nil
}

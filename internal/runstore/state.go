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
	"os"
	"time"

	"github.com/runrhq/runr/internal/model"
)

// WriteState writes a JSON snapshot of the run atomically (temp file plus
// rename). Callers must pass a state whose UpdatedAt is not earlier than
// the previously written one; WriteState stamps UpdatedAt itself so callers
// don't need to race the clock by hand.
func (s *Store) WriteState(run *model.Run) error {
	run.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	return writeFileAtomic(s.statePath(), data, 0o600)
}

// ReadState returns the current state snapshot.
func (s *Store) ReadState() (*model.Run, error) {
	data, err := os.ReadFile(s.statePath())
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}
	var run model.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshaling state: %w", err)
	}
	return &run, nil
}

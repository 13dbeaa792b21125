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
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/runrhq/runr/internal/model"
)

// AppendEvent assigns the next sequence number, stamps the timestamp, and
// appends one line of JSON to the timeline file. It never rewrites
// existing lines. The in-process sequence counter is seeded from the
// existing file the first time AppendEvent is called on a Store, so resuming a run picks up numbering where the prior process
// left off.
func (s *Store) AppendEvent(evt model.Event) (model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seqSet {
		if err := s.loadSeqLocked(); err != nil {
			return model.Event{}, err
		}
	}

	s.seq++
	evt.Seq = s.seq
	evt.Timestamp = time.Now().UTC()

	line, err := json.Marshal(evt)
	if err != nil {
		return model.Event{}, fmt.Errorf("marshaling event: %w", err)
	}

	f, err := os.OpenFile(s.timelinePath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return model.Event{}, fmt.Errorf("opening timeline: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return model.Event{}, fmt.Errorf("appending event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return model.Event{}, fmt.Errorf("syncing timeline: %w", err)
	}
	return evt, nil
}

func (s *Store) loadSeqLocked() error {
	events, err := s.readTimelineLocked()
	if err != nil {
		return err
	}
	s.seq = len(events)
	s.seqSet = true
	return nil
}

// ReadTimeline returns every event recorded so far, in sequence order. A
// concurrent reader may observe a prefix of the eventually-committed
// sequence if called while AppendEvent is in flight on another handle to
// the same run, but never a gap or a reordering.
func (s *Store) ReadTimeline() ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readTimelineLocked()
}

func (s *Store) readTimelineLocked() ([]model.Event, error) {
	f, err := os.Open(s.timelinePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening timeline: %w", err)
	}
	defer f.Close()

	var events []model.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt model.Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return nil, fmt.Errorf("parsing timeline line %d: %w", len(events)+1, err)
		}
		events = append(events, evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning timeline: %w", err)
	}
	return events, nil
}

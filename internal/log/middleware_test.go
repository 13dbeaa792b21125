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

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func decodeLastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	var entry map[string]interface{}
	if err := json.Unmarshal(lines[len(lines)-1], &entry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}
	return entry
}

func TestPhaseBoundary_Enter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	pb := NewPhaseBoundary(logger)

	pb.Enter("run-1", "implement", 2)

	entry := decodeLastLine(t, &buf)
	if entry["msg"] != "phase started" {
		t.Errorf("msg = %v, want %q", entry["msg"], "phase started")
	}
	if entry[RunIDKey] != "run-1" {
		t.Errorf("run_id = %v, want %q", entry[RunIDKey], "run-1")
	}
	if entry[PhaseKey] != "implement" {
		t.Errorf("phase = %v, want %q", entry[PhaseKey], "implement")
	}
	if entry[MilestoneIndexKey] != float64(2) {
		t.Errorf("milestone_index = %v, want 2", entry[MilestoneIndexKey])
	}
}

func TestPhaseBoundary_Retry(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	pb := NewPhaseBoundary(logger)

	pb.Retry("run-1", "verify", 2, "verification_failed", errors.New("exit code 1"))

	entry := decodeLastLine(t, &buf)
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", entry["level"])
	}
	if entry["retry_reason"] != "verification_failed" {
		t.Errorf("retry_reason = %v, want %q", entry["retry_reason"], "verification_failed")
	}
	if entry["attempt"] != float64(2) {
		t.Errorf("attempt = %v, want 2", entry["attempt"])
	}
	if entry["error"] != "exit code 1" {
		t.Errorf("error = %v, want %q", entry["error"], "exit code 1")
	}
}

func TestPhaseBoundary_Exit(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	pb := NewPhaseBoundary(logger)

	pb.Exit("run-1", "verify", "review", 150*time.Millisecond)

	entry := decodeLastLine(t, &buf)
	if entry["msg"] != "phase completed" {
		t.Errorf("msg = %v, want %q", entry["msg"], "phase completed")
	}
	if entry["next_phase"] != "review" {
		t.Errorf("next_phase = %v, want %q", entry["next_phase"], "review")
	}
}

func TestPhaseBoundary_Stop(t *testing.T) {
	t.Run("auto-resumable logs at warn", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
		pb := NewPhaseBoundary(logger)

		pb.Stop("run-1", "verify", "stalled_timeout", true)

		entry := decodeLastLine(t, &buf)
		if entry["level"] != "WARN" {
			t.Errorf("level = %v, want WARN", entry["level"])
		}
		if entry[StopReasonKey] != "stalled_timeout" {
			t.Errorf("stop_reason = %v, want %q", entry[StopReasonKey], "stalled_timeout")
		}
	})

	t.Run("manual-only logs at error", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
		pb := NewPhaseBoundary(logger)

		pb.Stop("run-1", "review", "review_loop_detected", false)

		entry := decodeLastLine(t, &buf)
		if entry["level"] != "ERROR" {
			t.Errorf("level = %v, want ERROR", entry["level"])
		}
	})
}

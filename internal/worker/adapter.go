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

// Package worker invokes an external coding-assistant subprocess for a
// single supervisor phase and classifies its outcome into the tagged union
// the supervisor expects. It is single-threaded per run: Invoke must never
// be called concurrently against the same Adapter.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"golang.org/x/time/rate"

	"github.com/runrhq/runr/internal/model"
	"github.com/runrhq/runr/internal/runstore"
)

// Kind discriminates the possible outcomes of a worker invocation.
type Kind string

const (
	KindAccepted     Kind = "accepted"
	KindParseFailure Kind = "parse_failure"
	KindTimeout      Kind = "timeout"
	KindProcessError Kind = "process_error"
)

// Result is the tagged union returned by Invoke.
type Result struct {
	Kind       Kind
	Structured map[string]any // set when Kind == KindAccepted
	RawSample  string         // set when Kind == KindParseFailure
	Message    string         // set when Kind == KindProcessError
	WorkerUsed string         // which binary actually ran (primary or fallback)
}

// FallbackThreshold is the number of consecutive parse_failure/process_error
// outcomes for the configured worker before the adapter switches to the
// fallback binary for subsequent calls.
const FallbackThreshold = 2

// Adapter invokes a configured worker binary, falling back to an alternate
// after repeated failures, and persists an in-flight marker around every
// call so a crash mid-call is visible to the Resume Planner.
type Adapter struct {
	Binary         string
	FallbackBinary string
	Store          *runstore.Store
	Limiter        *rate.Limiter // nil disables rate limiting

	// OnFallback is invoked when the adapter switches to FallbackBinary, so
	// the supervisor can emit a worker_fallback timeline event. May be nil.
	OnFallback func(from, to string)

	consecutiveFailures int
	usingFallback        bool
}

// New constructs an Adapter. A nil limiter disables subprocess launch
// throttling; cmd/runr always passes nil.
func New(binary, fallbackBinary string, store *runstore.Store, limiter *rate.Limiter) *Adapter {
	return &Adapter{Binary: binary, FallbackBinary: fallbackBinary, Store: store, Limiter: limiter}
}

// currentBinary returns the binary the next call should use.
func (a *Adapter) currentBinary() string {
	if a.usingFallback && a.FallbackBinary != "" {
		return a.FallbackBinary
	}
	return a.Binary
}

// Invoke runs the worker for the given phase with prompt on stdin, enforcing
// timeout. It persists a last_worker_call marker before launch and clears it
// on completion (including on timeout and process error — only an actual
// process crash of the adapter itself, not the worker, would leave it set).
func (a *Adapter) Invoke(ctx context.Context, phase model.Phase, prompt string, timeout time.Duration) (Result, error) {
	if a.Limiter != nil {
		if err := a.Limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("waiting for worker rate limiter: %w", err)
		}
	}

	binary := a.currentBinary()

	if a.Store != nil {
		call := runstore.LastWorkerCall{
			Worker:    binary,
			Phase:     phase,
			StartedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := a.Store.WriteLastWorkerCall(call); err != nil {
			return Result{}, fmt.Errorf("recording in-flight worker call: %w", err)
		}
	}

	result := a.run(ctx, binary, prompt, timeout)

	if a.Store != nil {
		if err := a.Store.ClearLastWorkerCall(); err != nil {
			return result, fmt.Errorf("clearing in-flight worker call: %w", err)
		}
	}

	a.trackFailure(result)
	return result, nil
}

func (a *Adapter) run(ctx context.Context, binary, prompt string, timeout time.Duration) Result {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, binary)
	cmd.Stdin = bytesReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if callCtx.Err() == context.DeadlineExceeded {
		return Result{Kind: KindTimeout, WorkerUsed: binary}
	}
	if err != nil {
		return Result{Kind: KindProcessError, Message: fmt.Sprintf("%v: %s", err, stderr.String()), WorkerUsed: binary}
	}

	structured, ok := extractStructured(stdout.String())
	if !ok {
		return Result{Kind: KindParseFailure, RawSample: boundedSnippet(stdout.String()), WorkerUsed: binary}
	}
	return Result{Kind: KindAccepted, Structured: structured, WorkerUsed: binary}
}

// trackFailure applies the fallback policy: two consecutive parse_failure or
// process_error outcomes for the currently selected binary switch future
// calls to the fallback binary.
func (a *Adapter) trackFailure(r Result) {
	switch r.Kind {
	case KindParseFailure, KindProcessError:
		a.consecutiveFailures++
	default:
		a.consecutiveFailures = 0
		return
	}

	if a.consecutiveFailures >= FallbackThreshold && !a.usingFallback && a.FallbackBinary != "" {
		from := a.Binary
		a.usingFallback = true
		a.consecutiveFailures = 0
		if a.OnFallback != nil {
			a.OnFallback(from, a.FallbackBinary)
		}
	}
}

func bytesReader(s string) *bytes.Reader {
	return bytes.NewReader([]byte(s))
}

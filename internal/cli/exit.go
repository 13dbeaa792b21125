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

// Package cli is the exit-code contract shared by every runr subcommand.
// cobra's RunE returns a plain error; this package classifies that error
// into one of the process exit codes and renders it to stderr in one
// place, so every command gets the same behavior for free.
package cli

import (
	"errors"
	"fmt"
	"os"

	pkgerrors "github.com/runrhq/runr/pkg/errors"
)

// Exit codes, per the command contract: 0 on success (FINALIZE complete),
// 1 on a run stopping for any reason, 2 on invalid inputs, 124 on a
// command or wait timing out.
const (
	ExitSuccess      = 0
	ExitStopped      = 1
	ExitInvalidInput = 2
	ExitTimeout      = 124
)

// ExitError is an error that carries the process exit code it should
// produce.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Cause }

// NewInvalidInputError wraps cause as a code-2 error: a malformed flag, a
// task file that doesn't exist, a run ID that isn't known.
func NewInvalidInputError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidInput, Message: msg, Cause: cause}
}

// NewStoppedError wraps msg as a code-1 error: the run reached STOPPED.
func NewStoppedError(msg string) *ExitError {
	return &ExitError{Code: ExitStopped, Message: msg}
}

// NewTimeoutError wraps msg as a code-124 error: `wait` gave up before the
// run reached a terminal state.
func NewTimeoutError(msg string) *ExitError {
	return &ExitError{Code: ExitTimeout, Message: msg}
}

// HandleExitError prints err to stderr and exits the process with its
// carried code, or ExitStopped if err is not an *ExitError.
func HandleExitError(err error) {
	if err == nil {
		return
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", exitErr.Error())
		printSuggestion(err)
		os.Exit(exitErr.Code)
	}

	fmt.Fprintln(os.Stderr, "Error:", err.Error())
	printSuggestion(err)
	os.Exit(ExitStopped)
}

// printSuggestion walks the error chain for a UserVisibleError and prints
// its suggestion, if any.
func printSuggestion(err error) {
	for err != nil {
		if userErr, ok := err.(pkgerrors.UserVisibleError); ok {
			if userErr.IsUserVisible() {
				if s := userErr.Suggestion(); s != "" {
					fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", s)
				}
			}
			return
		}
		err = errors.Unwrap(err)
	}
}

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

// Package runid generates stable run identifiers: timestamp-derived, at
// microsecond resolution, and strictly increasing within one process.
// Separate processes do not coordinate, so two processes that start a run
// in the same microsecond get the same identifier.
package runid

import (
	"fmt"
	"sync"
	"time"
)

var (
	mu        sync.Mutex
	lastMicro int64
)

// New returns a fresh run identifier derived from the current wall clock
// time, bumping by a microsecond if the clock has not advanced past the
// last identifier so identifiers stay strictly increasing within this
// process.
func New() string {
	return newAt(time.Now())
}

func newAt(now time.Time) string {
	mu.Lock()
	defer mu.Unlock()

	micro := now.UnixMicro()
	if micro <= lastMicro {
		micro = lastMicro + 1
	}
	lastMicro = micro

	t := time.UnixMicro(micro).UTC()
	return fmt.Sprintf("%s-%06d", t.Format("20060102T150405"), micro%1000000)
}

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

package worker

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/itchyny/gojq"
)

// snippetLimit bounds the raw-output sample recorded on a parse_failure, per
// the worker adapter's contract (roughly 120 characters).
const snippetLimit = 120

// extractTimeout bounds how long a single jq query may run against a
// worker's output before it is treated as a parse failure in its own right.
const extractTimeout = 1 * time.Second

// fieldCandidates are jq queries tried in order against a worker's parsed
// JSON output to find the block the adapter actually wants, tolerating
// workers that nest their answer under "result", wrap it with prose
// metadata, or return it at the top level. The top-level query comes last,
// since every non-empty object matches it.
var fieldCandidates = []string{
	".result",
	".data",
	".response",
	".",
}

// extractStructured locates a worker's structured block inside raw stdout.
// Workers are not required to emit bare JSON; they may wrap it in prose or
// a fenced code block. This tries, in order: a fenced ```json block, the
// raw text as-is, and finally the first balanced {...} span.
func extractStructured(raw string) (map[string]any, bool) {
	candidates := make([]string, 0, 3)
	if block, ok := fencedJSONBlock(raw); ok {
		candidates = append(candidates, block)
	}
	candidates = append(candidates, strings.TrimSpace(raw))
	if span, ok := balancedObjectSpan(raw); ok {
		candidates = append(candidates, span)
	}

	for _, candidate := range candidates {
		var parsed any
		if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
			continue
		}
		if obj, ok := selectField(parsed); ok {
			return obj, true
		}
	}
	return nil, false
}

// selectField runs fieldCandidates over parsed JSON until one yields an
// object, so a worker's answer can live at the top level or nested under a
// common envelope key without the adapter hardcoding one shape. Each query
// runs on its own goroutine bounded by extractTimeout, since gojq's Code.Run
// offers no context-aware variant to cancel directly.
func selectField(parsed any) (map[string]any, bool) {
	for _, q := range fieldCandidates {
		query, err := gojq.Parse(q)
		if err != nil {
			continue
		}
		code, err := gojq.Compile(query)
		if err != nil {
			continue
		}

		if obj, ok := runFieldQuery(code, parsed); ok {
			return obj, true
		}
	}
	return nil, false
}

// runFieldQuery evaluates code against parsed with a bounded timeout,
// returning the first object-shaped result.
func runFieldQuery(code *gojq.Code, parsed any) (map[string]any, bool) {
	type result struct {
		v  any
		ok bool
	}
	resultCh := make(chan result, 1)

	go func() {
		iter := code.Run(parsed)
		v, ok := iter.Next()
		resultCh <- result{v, ok}
	}()

	select {
	case r := <-resultCh:
		if !r.ok {
			return nil, false
		}
		if err, isErr := r.v.(error); isErr {
			_ = err
			return nil, false
		}
		obj, ok := r.v.(map[string]any)
		if !ok || len(obj) == 0 {
			return nil, false
		}
		return obj, true
	case <-time.After(extractTimeout):
		return nil, false
	}
}

func fencedJSONBlock(raw string) (string, bool) {
	const openMarker = "```json"
	start := strings.Index(raw, openMarker)
	if start < 0 {
		return "", false
	}
	rest := raw[start+len(openMarker):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func balancedObjectSpan(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}

// boundedSnippet returns the first snippetLimit characters of raw, suitable
// for embedding in a parse_failed timeline event.
func boundedSnippet(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) <= snippetLimit {
		return raw
	}
	return fmt.Sprintf("%s…", raw[:snippetLimit])
}

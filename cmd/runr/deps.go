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

package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/runrhq/runr/internal/checkpoint"
	"github.com/runrhq/runr/internal/config"
	"github.com/runrhq/runr/internal/log"
	"github.com/runrhq/runr/internal/model"
	"github.com/runrhq/runr/internal/repogateway"
	"github.com/runrhq/runr/internal/runstore"
	"github.com/runrhq/runr/internal/supervisor"
	"github.com/runrhq/runr/internal/worker"
	"github.com/runrhq/runr/pkg/secrets"
)

// repoRoot resolves --repo to an absolute path.
func repoRoot() (string, error) {
	return filepath.Abs(flagRepo)
}

// effectiveConfig loads runr.yaml: --config if given, else
// <repo>/runr.yaml if present, else the XDG global config, else the
// documented defaults.
func effectiveConfig(repo string) (model.Config, error) {
	path := flagConfig
	if path == "" {
		repoConfig := filepath.Join(repo, "runr.yaml")
		if _, err := os.Stat(repoConfig); err == nil {
			path = repoConfig
		} else if globalPath, err := config.Path(); err == nil {
			path = globalPath
		}
	}
	return config.Load(path)
}

// newLogger builds the structured logger for this invocation, applying any
// --log-level/--log-format override on top of the environment defaults.
func newLogger() *slog.Logger {
	cfg := log.FromEnv()
	if flagLogLevel != "" {
		cfg.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Format = log.Format(flagLogFormat)
	}
	return log.New(cfg)
}

// newMasker builds a secrets.Masker seeded from the calling process's own
// environment, so an operator's exported tokens never reach the timeline
// or a stop handoff even if the worker echoes them back.
func newMasker() *secrets.Masker {
	m := secrets.NewMasker()
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			env[kv[:idx]] = kv[idx+1:]
		}
	}
	m.AddSecretsFromEnv(env)
	return m
}

// supervisorDeps wires one run's durable store, checkpoint index and repo
// gateway into a full supervisor.Deps. The gateway is always rooted at the
// supervised repository, never the run's isolated worktree: it is the
// gateway itself that creates and operates that worktree by path argument.
func supervisorDeps(repo string, store *runstore.Store, cfg model.Config, logger *slog.Logger) supervisor.Deps {
	checkpoints := checkpoint.New(store.CheckpointRoot())
	gw := repogateway.New(repo, nil)
	w := worker.New(cfg.WorkerBinary, cfg.FallbackWorkerBinary, store, nil)
	w.OnFallback = func(from, to string) {
		_, _ = store.AppendEvent(model.Event{
			Type:    model.EventWorkerFallback,
			Source:  model.SourceWorker,
			Payload: map[string]any{"from": from, "to": to},
		})
	}

	return supervisor.Deps{
		Store:         store,
		Checkpoints:   checkpoints,
		Gateway:       gw,
		Worker:        w,
		Masker:        newMasker(),
		PhaseBoundary: log.NewPhaseBoundary(logger),
	}
}

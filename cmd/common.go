/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"

	"github.com/meriley/lingua-nexus-sub001/internal/backend"
	"github.com/meriley/lingua-nexus-sub001/internal/cache"
	"github.com/meriley/lingua-nexus-sub001/internal/chunker"
	"github.com/meriley/lingua-nexus-sub001/internal/config"
	"github.com/meriley/lingua-nexus-sub001/internal/controller"
	"github.com/meriley/lingua-nexus-sub001/internal/detector"
	"github.com/meriley/lingua-nexus-sub001/internal/embedder"
	"github.com/meriley/lingua-nexus-sub001/internal/kv"
	"github.com/meriley/lingua-nexus-sub001/internal/language"
	"github.com/meriley/lingua-nexus-sub001/internal/optimizer"
	"github.com/meriley/lingua-nexus-sub001/internal/orchestrator"
	"github.com/meriley/lingua-nexus-sub001/internal/quality"
	"github.com/meriley/lingua-nexus-sub001/internal/registry"
	"github.com/meriley/lingua-nexus-sub001/internal/telemetry"
)

// core bundles the wired components shared by the serve and translate
// commands.
type core struct {
	Config     *config.Config
	Controller *controller.Controller
	Registry   *registry.Registry
	Languages  *language.Registry
	Cache      *cache.Cache
	KV         kv.Store
	Metrics    *prometheus.Registry
	Logger     *slog.Logger

	closers []func() error
}

func (c *core) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.Logger.Warn("shutdown error", "error", err)
		}
	}
}

// buildCore wires every injected dependency from configuration. Nothing
// is global: tests and commands construct their own instance.
func buildCore() (*core, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	promReg := prometheus.NewRegistry()
	tel := telemetry.NewPrometheus(promReg)

	var store kv.Store
	if cfg.KVURL == "" {
		store = kv.NewMemory()
	} else {
		sqlite, err := kv.NewSqlite(cfg.KVURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open kv store: %w", err)
		}
		store = sqlite
	}

	ca, err := cache.New(cache.DefaultL1Size, store, cfg.DefaultTTLDuration(), tel, logger)
	if err != nil {
		return nil, err
	}

	langs := language.NewRegistry()
	reg := registry.New(logger)

	// A model version change both refreshes the language mapping and
	// purges the backend's cached translations.
	reg.OnModelChanged = func(name string) {
		if caps, err := reg.Capabilities(name); err == nil {
			langs.RegisterBackend(name, caps.Languages)
		} else {
			langs.DeregisterBackend(name)
		}
		ca.InvalidateBackend(context.Background(), name)
	}

	for _, name := range cfg.LoadedBackends {
		desc, err := buildDescriptor(name, cfg)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(desc); err != nil {
			return nil, err
		}
	}

	det := detector.New()

	var emb embedder.Embedder
	if cfg.EmbedderEnabled {
		emb = embedder.NewOllamaEmbedder(cfg.EmbedderURL, cfg.EmbedderModel)
	}

	ctrl := controller.New(controller.Config{
		DefaultBackend:    cfg.DefaultBackend,
		MaxTextChars:      cfg.MaxTextChars,
		FastPathThreshold: cfg.FastPathThreshold,
		DefaultChunkSize:  cfg.DefaultChunkSize,
		QualityThreshold:  cfg.QualityThreshold,
	}, controller.Deps{
		Registry:  reg,
		Languages: langs,
		Cache:     ca,
		Chunker:   chunker.New(),
		Assessor:  quality.New(det, emb),
		Optimizer: optimizer.New(optimizer.Config{MaxProbeConcurrency: cfg.MaxProbeConcurrency}, logger),
		Orch:      orchestrator.New(orchestrator.Config{MaxConcurrency: cfg.MaxChunkConcurrency}, tel, logger),
		Detector:  det,
		Telemetry: tel,
		Logger:    logger,
	})

	return &core{
		Config:     cfg,
		Controller: ctrl,
		Registry:   reg,
		Languages:  langs,
		Cache:      ca,
		KV:         store,
		Metrics:    promReg,
		Logger:     logger,
		closers:    []func() error{store.Close},
	}, nil
}

// buildDescriptor maps a configured backend name onto its descriptor.
// Names may carry a model suffix, e.g. "ollama:llama3.2".
func buildDescriptor(name string, cfg *config.Config) (backend.Descriptor, error) {
	family := name
	model := ""
	if i := strings.IndexByte(name, ':'); i > 0 {
		family, model = name[:i], name[i+1:]
	}

	switch family {
	case "google":
		return backend.GoogleDescriptor(name, cfg.Credentials), nil
	case "ollama":
		return backend.OllamaDescriptor(name, cfg.OllamaURL, model), nil
	case "openrouter":
		return backend.OpenRouterDescriptor(name, cfg.OpenRouterKey, model), nil
	case "mock":
		return backend.MockDescriptor(name), nil
	default:
		return backend.Descriptor{}, fmt.Errorf("unknown backend %q", name)
	}
}

// loadConfiguredBackends brings every configured backend to Ready,
// tolerating individual failures.
func loadConfiguredBackends(ctx context.Context, c *core) {
	for _, name := range c.Config.LoadedBackends {
		if err := c.Registry.Load(ctx, name); err != nil {
			c.Logger.Warn("backend failed to load", "backend", name, "error", err)
		}
	}
}

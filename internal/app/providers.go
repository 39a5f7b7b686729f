package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/podmark/internal/config"
	"github.com/MrWong99/podmark/internal/observe"
	"github.com/MrWong99/podmark/internal/resilience"
)

// BuildProviders instantiates every provider named in cfg using the registry.
// When fallbacks are configured for a kind, the primary and its fallbacks are
// wrapped in a resilience group with one circuit breaker each.
//
// A provider whose name has no registered factory is skipped with a debug
// log, leaving its slot nil; any other factory error is returned.
func BuildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*Providers, error) {
	ps := &Providers{}
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Providers.CircuitBreaker.MaxFailures,
			ResetTimeout: cfg.Providers.CircuitBreaker.ResetTimeout,
		},
		Metrics: metrics,
	}

	if entry := cfg.Providers.Transcription; entry.Name != "" {
		p, err := create("transcription", entry, reg.CreateTranscription)
		if err != nil {
			return nil, err
		}
		if p != nil {
			fallbacks := cfg.Providers.Fallbacks.Transcription
			if len(fallbacks) == 0 {
				ps.Transcription = p
			} else {
				fb := resilience.NewTranscriptionFallback(p, entry.Name, fbCfg)
				for i, e := range fallbacks {
					sp, err := create("transcription", e, reg.CreateTranscription)
					if err != nil {
						return nil, err
					}
					if sp != nil {
						fb.AddFallback(fmt.Sprintf("%s#%d", e.Name, i+1), sp)
					}
				}
				ps.Transcription = fb
			}
		}
	}

	if entry := cfg.Providers.Embeddings; entry.Name != "" {
		p, err := create("embeddings", entry, reg.CreateEmbeddings)
		if err != nil {
			return nil, err
		}
		if p != nil {
			fallbacks := cfg.Providers.Fallbacks.Embeddings
			if len(fallbacks) == 0 {
				ps.Embeddings = p
			} else {
				fb := resilience.NewEmbeddingsFallback(p, entry.Name, fbCfg)
				for i, e := range fallbacks {
					sp, err := create("embeddings", e, reg.CreateEmbeddings)
					if err != nil {
						return nil, err
					}
					if sp == nil {
						continue
					}
					if sp.ModelID() != p.ModelID() {
						return nil, fmt.Errorf("embeddings fallback %q serves model %q, primary serves %q", e.Name, sp.ModelID(), p.ModelID())
					}
					fb.AddFallback(fmt.Sprintf("%s#%d", e.Name, i+1), sp)
				}
				ps.Embeddings = fb
			}
		}
	}

	return ps, nil
}

// create runs one registry factory. An unregistered name yields a nil
// provider and no error.
func create[T any](kind string, entry config.ProviderEntry, factory func(config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	p, err := factory(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Debug("provider not registered, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return p, nil
}

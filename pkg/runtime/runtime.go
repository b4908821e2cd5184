// Package runtime assembles a working engine from configuration:
// provider clients, stores, the pipeline components, the orchestrator
// and the HTTP server, built in dependency order. Close releases
// everything that holds a connection.
package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magpielabs/magpie/pkg/blob"
	"github.com/magpielabs/magpie/pkg/chunker"
	"github.com/magpielabs/magpie/pkg/citations"
	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/converter"
	"github.com/magpielabs/magpie/pkg/embedders"
	"github.com/magpielabs/magpie/pkg/generator"
	"github.com/magpielabs/magpie/pkg/grounding"
	"github.com/magpielabs/magpie/pkg/index"
	"github.com/magpielabs/magpie/pkg/ingest"
	"github.com/magpielabs/magpie/pkg/llms"
	"github.com/magpielabs/magpie/pkg/observability"
	"github.com/magpielabs/magpie/pkg/ocr"
	"github.com/magpielabs/magpie/pkg/parser"
	"github.com/magpielabs/magpie/pkg/planner"
	"github.com/magpielabs/magpie/pkg/search"
	"github.com/magpielabs/magpie/pkg/section"
	"github.com/magpielabs/magpie/pkg/server"
	"github.com/magpielabs/magpie/pkg/state"
	"github.com/magpielabs/magpie/pkg/storage"
	"github.com/magpielabs/magpie/pkg/tokenizer"
	"github.com/magpielabs/magpie/pkg/vector"
)

// Runtime owns every constructed component. The HTTP server is built
// but not started; callers that serve traffic drive its lifecycle and
// call Close afterwards to release the stores.
type Runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	obs     *observability.Manager
	db      *sql.DB
	vectors vector.Store
	states  state.Store

	engine   *ingest.Engine
	sections *section.Orchestrator
	server   *server.Server
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// New builds the engine the configuration describes. A nil or zero
// config gets the full defaults: chromem in memory, memory state,
// sqlite storage, filesystem blobs. Construction does not dial the
// LLM or embedding providers; the first pipeline call does.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	r := &Runtime{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}

	obs, err := observability.New(ctx, &cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	r.obs = obs

	llm, err := llms.New(&cfg.LLM)
	if err != nil {
		return nil, r.abort(fmt.Errorf("llm client: %w", err))
	}
	embedder, err := embedders.New(&cfg.Embedder)
	if err != nil {
		return nil, r.abort(fmt.Errorf("embedder client: %w", err))
	}

	r.vectors, err = vector.New(&cfg.Vector)
	if err != nil {
		return nil, r.abort(fmt.Errorf("vector store: %w", err))
	}
	r.states, err = state.New(&cfg.State)
	if err != nil {
		return nil, r.abort(fmt.Errorf("state store: %w", err))
	}
	r.db, err = storage.Open(&cfg.Storage)
	if err != nil {
		return nil, r.abort(fmt.Errorf("file store: %w", err))
	}
	files := storage.NewFileStore(r.db, cfg.Storage.Driver)
	if err := files.Init(ctx); err != nil {
		return nil, r.abort(fmt.Errorf("file store schema: %w", err))
	}
	blobs, err := blob.New(ctx, &cfg.Blob)
	if err != nil {
		return nil, r.abort(fmt.Errorf("blob store: %w", err))
	}

	codec, err := tokenizer.ForEncoding(cfg.Pipeline.TokenizerEncoding)
	if err != nil {
		return nil, r.abort(fmt.Errorf("tokenizer: %w", err))
	}

	parseOpts := []parser.Option{
		parser.WithLogger(r.logger),
		parser.WithTableLimits(cfg.Pipeline.TableMaxRowsToScan, cfg.Pipeline.TableEmptyRowThreshold),
	}
	if cfg.OCR.Enabled() {
		oc, err := ocr.New(&cfg.OCR)
		if err != nil {
			return nil, r.abort(fmt.Errorf("ocr client: %w", err))
		}
		parseOpts = append(parseOpts, parser.WithOCR(oc))
	}

	var conv *converter.Client
	if cfg.Converter.Enabled() {
		conv, err = converter.New(&cfg.Converter)
		if err != nil {
			return nil, r.abort(fmt.Errorf("converter client: %w", err))
		}
		if !conv.Healthy(ctx) {
			r.logger.Warn("converter endpoint not responding, legacy office formats will fail",
				"endpoint", cfg.Converter.Endpoint)
		}
	}

	gen := generator.New(llm, generator.WithLogger(r.logger))

	r.engine, err = ingest.New(ingest.Deps{
		Files:     files,
		Blobs:     blobs,
		Parser:    parser.New(parseOpts...),
		Chunker: chunker.New(codec, chunker.WithLogger(r.logger), chunker.WithLimits(
			cfg.Pipeline.ParseMaxTokens,
			cfg.Pipeline.ParseOverlapTokens,
			cfg.Pipeline.TableMaxTokensPerChunk,
		)),
		Generator: gen,
		Indexer: index.New(r.vectors, embedder,
			index.WithLogger(r.logger),
			index.WithBatchSize(cfg.Pipeline.IndexBatchSize)),
		Converter: conv,
	},
		ingest.WithLogger(r.logger),
		ingest.WithConcurrency(cfg.Pipeline.FileConcurrency),
		ingest.WithTimeout(cfg.Pipeline.FileTimeout),
	)
	if err != nil {
		return nil, r.abort(fmt.Errorf("ingest engine: %w", err))
	}

	r.sections, err = section.New(section.Deps{
		Planner: planner.New(llm, planner.WithLogger(r.logger)),
		Search: search.New(r.vectors, embedder,
			search.WithLogger(r.logger),
			search.WithTopK(cfg.Pipeline.TopKPerQuery)),
		Context: grounding.New(
			grounding.WithLogger(r.logger),
			grounding.WithMaxTokens(cfg.Pipeline.ContextMaxTokens)),
		Generator: gen,
		Citations: citations.New(embedder,
			citations.WithLogger(r.logger),
			citations.WithBoost(cfg.Pipeline.NumberMatchBoost)),
		Files: files,
		State: r.states,
	},
		section.WithLogger(r.logger),
		section.WithConcurrency(cfg.Pipeline.SectionConcurrency),
		section.WithTimeout(cfg.Pipeline.SectionTimeout),
		section.WithRetrievalTimeout(cfg.Pipeline.RetrievalTimeout),
		section.WithTTL(cfg.State.TTL),
	)
	if err != nil {
		return nil, r.abort(fmt.Errorf("section orchestrator: %w", err))
	}

	r.server, err = server.New(
		server.Deps{Sections: r.sections, Ingest: r.engine},
		&cfg.Server,
		server.WithLogger(r.logger),
		server.WithObservability(obs),
	)
	if err != nil {
		return nil, r.abort(fmt.Errorf("http server: %w", err))
	}

	r.logger.Info("runtime assembled",
		"llm", cfg.LLM.Provider,
		"embedder", cfg.Embedder.Provider,
		"vector", cfg.Vector.Provider,
		"state", cfg.State.Backend,
		"blob", cfg.Blob.Backend,
		"ocr", cfg.OCR.Enabled(),
		"converter", cfg.Converter.Enabled(),
	)
	return r, nil
}

// Config returns the effective configuration after defaults.
func (r *Runtime) Config() *config.Config { return r.cfg }

// Server returns the HTTP server, built but not started.
func (r *Runtime) Server() *server.Server { return r.server }

// Ingest returns the file pipeline engine.
func (r *Runtime) Ingest() *ingest.Engine { return r.engine }

// Sections returns the section orchestrator.
func (r *Runtime) Sections() *section.Orchestrator { return r.sections }

// Observability returns the metrics and tracing manager.
func (r *Runtime) Observability() *observability.Manager { return r.obs }

// abort releases whatever New had opened before failing.
func (r *Runtime) abort(err error) error {
	if closeErr := r.Close(); closeErr != nil {
		r.logger.Warn("cleanup after failed start", "error", closeErr)
	}
	return err
}

// Close releases the stores and flushes observability. It does not
// stop the HTTP server; callers that started it shut it down first.
func (r *Runtime) Close() error {
	var errs []error
	if r.vectors != nil {
		if err := r.vectors.Close(); err != nil {
			errs = append(errs, fmt.Errorf("vector store: %w", err))
		}
	}
	if r.states != nil {
		if err := r.states.Close(); err != nil {
			errs = append(errs, fmt.Errorf("state store: %w", err))
		}
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("file store: %w", err))
		}
	}
	if r.obs != nil {
		if err := r.obs.Shutdown(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("observability: %w", err))
		}
	}
	return errors.Join(errs...)
}

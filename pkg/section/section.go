// Package section runs the retrieval-augmented pipeline for one
// template section: plan queries, search the index, build a numbered
// context, generate the grounded answer, then score citations and
// audit evidence quality in parallel. Runs are admitted through a
// semaphore, bounded by a wall clock, and publish progress events to
// stream subscribers. The job record lives in the state store so any
// replica can serve a reconnect or an abort.
package section

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/magpielabs/magpie/pkg/citations"
	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
	"github.com/magpielabs/magpie/pkg/generator"
	"github.com/magpielabs/magpie/pkg/grounding"
	"github.com/magpielabs/magpie/pkg/planner"
	"github.com/magpielabs/magpie/pkg/response"
	"github.com/magpielabs/magpie/pkg/search"
	"github.com/magpielabs/magpie/pkg/state"
	"github.com/magpielabs/magpie/pkg/storage"
)

const op = "section"

// Stage values carried by events. The first five are in-flight
// milestones; the last three are terminal.
const (
	StagePlanning   = "planning"
	StageSearching  = "searching"
	StageRetrieving = "retrieving"
	StageGenerating = "generating"
	StageFinalizing = "finalizing"
	StageComplete   = "complete"
	StageError      = "error"
	StageCancelled  = "cancelled"
)

// Request describes one section to process.
type Request struct {
	SectionID           string               `json:"section_id"`
	SectionName         string               `json:"section_name"`
	SectionDescription  string               `json:"section_description"`
	TemplateDescription string               `json:"template_description,omitempty"`
	ProjectDescription  string               `json:"project_description,omitempty"`
	FileIDs             []string             `json:"file_ids"`
	Format              response.Format      `json:"format,omitempty"`
	Previous            []generator.Previous `json:"previous,omitempty"`
	Namespace           string               `json:"namespace"`
}

// Stats summarizes a finished run.
type Stats struct {
	Duration float64 `json:"duration_seconds"`
	Chunks   int     `json:"chunks"`
	Queries  int     `json:"queries"`
}

// Outcome is the result of a completed run.
type Outcome struct {
	Response  *response.Response            `json:"response"`
	Citations map[string]citations.Citation `json:"citations"`
	Analysis  generator.Analysis            `json:"analysis"`
	Stats     Stats                         `json:"stats"`
}

// Event is one progress or terminal notification for a section.
type Event struct {
	SectionID   string    `json:"section_id"`
	SectionName string    `json:"section_name,omitempty"`
	Stage       string    `json:"stage"`
	Progress    int       `json:"progress"`
	Message     string    `json:"message"`
	Error       string    `json:"error,omitempty"`
	Result      *Outcome  `json:"result,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Terminal reports whether no further events follow this one.
func (e Event) Terminal() bool {
	return e.Stage == StageComplete || e.Stage == StageError || e.Stage == StageCancelled
}

// State is the durable job record. Result, Error and Cancelled record
// the terminal outcome so reconnecting clients can be answered without
// a live run.
type State struct {
	SectionID    string    `json:"section_id"`
	ProcessingID string    `json:"processing_id"`
	Namespace    string    `json:"namespace"`
	Request      Request   `json:"request"`
	Cancelled    bool      `json:"cancelled"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Result       *Outcome  `json:"result,omitempty"`
}

func stateKey(sectionID string) string { return "job:section:" + sectionID }

// Deps are the pipeline components an Orchestrator drives. All fields
// are required.
type Deps struct {
	Planner   *planner.Planner
	Search    *search.Executor
	Context   *grounding.Builder
	Generator *generator.Generator
	Citations *citations.Scorer
	Files     *storage.FileStore
	State     state.Store
}

// runHandle pairs a live run's cancel func with the processing id that
// owns it, so a finished run never unregisters its successor.
type runHandle struct {
	processingID string
	cancel       context.CancelFunc
}

// Orchestrator coordinates section runs.
type Orchestrator struct {
	deps      Deps
	logger    *slog.Logger
	sem       *semaphore.Weighted
	timeout   time.Duration
	retrieval time.Duration
	ttl       time.Duration

	mu      sync.Mutex
	cancels map[string]runHandle

	subsMu sync.RWMutex
	subs   map[string][]chan Event
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithConcurrency bounds simultaneous section runs.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithTimeout bounds one run end to end.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRetrievalTimeout bounds the search stage within a run.
func WithRetrievalTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.retrieval = d
		}
	}
}

// WithTTL sets the lifetime of job records in the state store.
func WithTTL(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// New creates the orchestrator.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	if deps.Planner == nil || deps.Search == nil || deps.Context == nil ||
		deps.Generator == nil || deps.Citations == nil || deps.Files == nil || deps.State == nil {
		return nil, fault.New(fault.KindValidation, "section orchestrator is missing a required component")
	}

	o := &Orchestrator{
		deps:      deps,
		logger:    slog.Default(),
		sem:       semaphore.NewWeighted(int64(config.DefaultSectionConcurrency)),
		timeout:   config.DefaultSectionTimeout,
		retrieval: config.DefaultRetrievalTimeout,
		ttl:       config.DefaultStateTTL,
		cancels:   map[string]runHandle{},
		subs:      map[string][]chan Event{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Init records a new job for the section and returns its processing
// id. Initializing a section that is already running cancels the old
// run; the new job owns the record from here on.
func (o *Orchestrator) Init(ctx context.Context, req Request) (string, error) {
	if err := validate(req); err != nil {
		return "", err
	}
	if req.Format == "" {
		req.Format = response.FormatText
	}

	o.cancelRun(req.SectionID)

	st := &State{
		SectionID:    req.SectionID,
		ProcessingID: uuid.NewString(),
		Namespace:    req.Namespace,
		Request:      req,
		Timestamp:    time.Now(),
	}
	if err := o.saveState(ctx, st); err != nil {
		return "", err
	}

	o.logger.Info("section processing initialized",
		"section_id", req.SectionID, "processing_id", st.ProcessingID)
	return st.ProcessingID, nil
}

func validate(req Request) error {
	switch {
	case strings.TrimSpace(req.SectionID) == "":
		return fault.New(fault.KindValidation, "section id is required")
	case strings.TrimSpace(req.SectionName) == "":
		return fault.New(fault.KindValidation, "section name is required")
	case strings.TrimSpace(req.SectionDescription) == "":
		return fault.New(fault.KindValidation, "section description is required")
	case req.Namespace == "":
		return fault.New(fault.KindValidation, "namespace is required")
	case len(req.FileIDs) == 0:
		return fault.New(fault.KindValidation, "at least one file id is required")
	}
	return nil
}

// Run executes a previously initialized job and blocks until it
// reaches a terminal state. Exactly one terminal event is published
// per run. The caller owns ctx; it should outlive the request that
// triggered the run.
func (o *Orchestrator) Run(ctx context.Context, sectionID, namespace string) error {
	st, found, err := o.loadState(ctx, sectionID)
	if err != nil {
		return err
	}
	if !found {
		return fault.Newf(fault.KindValidation, "no processing request found for section %s", sectionID)
	}
	if st.Namespace != namespace {
		return fault.New(fault.KindAuth, "access denied")
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return fault.Wrap(fault.KindCancelled, op, err)
	}
	defer o.sem.Release(1)

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	o.registerCancel(st.SectionID, st.ProcessingID, cancel)
	defer o.releaseCancel(st.SectionID, st.ProcessingID)

	started := time.Now()
	outcome, err := o.process(runCtx, st)

	switch {
	case err == nil:
		outcome.Stats.Duration = time.Since(started).Seconds()
		o.persistTerminal(ctx, st, func(cur *State) { cur.Result = outcome })
		o.publish(Event{
			SectionID:   st.SectionID,
			SectionName: st.Request.SectionName,
			Stage:       StageComplete,
			Progress:    100,
			Message:     "Done",
			Result:      outcome,
			Timestamp:   time.Now(),
		})
		o.logger.Info("section processing complete", "section_id", st.SectionID,
			"queries", outcome.Stats.Queries, "chunks", outcome.Stats.Chunks,
			"duration", outcome.Stats.Duration)
		return nil

	case isCancelled(err):
		o.persistTerminal(ctx, st, func(cur *State) { cur.Cancelled = true })
		o.publish(Event{
			SectionID:   st.SectionID,
			SectionName: st.Request.SectionName,
			Stage:       StageCancelled,
			Progress:    0,
			Message:     "Cancelled",
			Timestamp:   time.Now(),
		})
		o.logger.Info("section processing cancelled", "section_id", st.SectionID)
		return err

	default:
		msg := err.Error()
		// runCtx keeps its deadline error until the deferred cancel
		// runs, so this distinguishes the wall clock from stage errors.
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("processing timeout after %s", o.timeout)
		}
		o.persistTerminal(ctx, st, func(cur *State) { cur.Error = msg })
		o.publish(Event{
			SectionID:   st.SectionID,
			SectionName: st.Request.SectionName,
			Stage:       StageError,
			Progress:    -1,
			Message:     "Failed",
			Error:       msg,
			Timestamp:   time.Now(),
		})
		o.logger.Error("section processing failed", "section_id", st.SectionID, "error", err)
		return err
	}
}

func (o *Orchestrator) process(ctx context.Context, st *State) (*Outcome, error) {
	req := st.Request

	if err := o.checkpoint(ctx, st); err != nil {
		return nil, err
	}
	o.emit(st, StagePlanning, 10, "Planning")
	queries, err := o.deps.Planner.Plan(ctx, planner.Request{
		SectionName:         req.SectionName,
		SectionDescription:  req.SectionDescription,
		TemplateDescription: req.TemplateDescription,
		ProjectDescription:  req.ProjectDescription,
	})
	if err != nil {
		return nil, err
	}

	if err := o.checkpoint(ctx, st); err != nil {
		return nil, err
	}
	o.emit(st, StageSearching, 25, "Searching")
	searchCtx, cancel := context.WithTimeout(ctx, o.retrieval)
	matches, err := o.deps.Search.Run(searchCtx, queries, req.FileIDs, st.Namespace)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fault.Wrapf(fault.KindRetrieval, op, err, "retrieval stage exceeded %s", o.retrieval)
		}
		return nil, err
	}

	if err := o.checkpoint(ctx, st); err != nil {
		return nil, err
	}
	o.emit(st, StageRetrieving, 40, "Gathering")
	contextText, sources := o.deps.Context.Build(matches, o.loadSheets(ctx, matches, st.Namespace))
	if strings.TrimSpace(contextText) == "" {
		return nil, fault.Newf(fault.KindRetrieval, "no relevant content found for section %q", req.SectionName)
	}

	if err := o.checkpoint(ctx, st); err != nil {
		return nil, err
	}
	o.emit(st, StageGenerating, 50, "Generating")
	raw, err := o.deps.Generator.Generate(ctx, generator.Request{
		Context:             contextText,
		SectionName:         req.SectionName,
		SectionDescription:  req.SectionDescription,
		TemplateDescription: req.TemplateDescription,
		ProjectDescription:  req.ProjectDescription,
		Format:              req.Format,
		PreviousSections:    req.Previous,
	})
	if err != nil {
		return nil, err
	}
	resp := response.Parse(raw, req.Format)
	if resp.Empty() {
		return nil, fault.New(fault.KindAI, "model response has no content")
	}

	if err := o.checkpoint(ctx, st); err != nil {
		return nil, err
	}
	o.emit(st, StageFinalizing, 75, "Citing")
	var (
		scored  map[string]citations.Citation
		verdict generator.Analysis
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scored = o.deps.Citations.Score(gctx, resp, sources)
		return nil
	})
	g.Go(func() error {
		verdict = o.deps.Generator.Analyze(gctx, generator.AnalysisRequest{
			Context:             contextText,
			SectionName:         req.SectionName,
			SectionDescription:  req.SectionDescription,
			TemplateDescription: req.TemplateDescription,
			ProjectDescription:  req.ProjectDescription,
			Response:            resp.Render(),
		})
		return nil
	})
	// Both finalizers degrade internally instead of failing; Wait only
	// synchronizes them.
	_ = g.Wait()

	if err := o.checkpoint(ctx, st); err != nil {
		return nil, err
	}

	return &Outcome{
		Response:  resp,
		Citations: scored,
		Analysis:  verdict,
		Stats:     Stats{Chunks: len(matches), Queries: len(queries)},
	}, nil
}

// checkpoint runs between stages. It surfaces context cancellation and
// reloads the durable record so an abort or a superseding init from
// any replica stops the run at the next boundary.
func (o *Orchestrator) checkpoint(ctx context.Context, st *State) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return fault.Wrap(fault.KindCancelled, op, err)
		}
		return err
	}

	cur, found, err := o.loadState(ctx, st.SectionID)
	if err != nil {
		// A state store hiccup must not kill a healthy run; the next
		// boundary checks again.
		o.logger.Warn("job state read failed at stage boundary",
			"section_id", st.SectionID, "error", err)
		return nil
	}
	if !found {
		return nil
	}
	if cur.ProcessingID != st.ProcessingID {
		return fault.New(fault.KindCancelled, "superseded by a newer processing session")
	}
	if cur.Cancelled {
		return fault.New(fault.KindCancelled, "cancelled by user")
	}
	return nil
}

// loadSheets fetches the full sheets behind truncated table matches so
// the context builder can expand them. Load failures leave the chunk
// truncated rather than failing the run.
func (o *Orchestrator) loadSheets(ctx context.Context, matches []search.Match, namespace string) grounding.SheetSet {
	set := grounding.SheetSet{}
	for _, m := range matches {
		if !m.Truncated || m.File.ID == "" {
			continue
		}
		if _, ok := set[m.File.ID]; ok {
			continue
		}
		sheets, err := o.deps.Files.Sheets(ctx, m.File.ID, namespace)
		if err != nil {
			o.logger.Error("full sheet load failed",
				"file_id", m.File.ID, "error", err)
			continue
		}
		if len(sheets) > 0 {
			set[m.File.ID] = sheets
		}
	}
	return set
}

// Abort stops an in-flight run. The processing id must match the live
// session; a stale id from a superseded client is rejected without
// touching the newer run.
func (o *Orchestrator) Abort(ctx context.Context, sectionID, processingID, namespace string) error {
	st, found, err := o.loadState(ctx, sectionID)
	if err != nil {
		return err
	}
	if !found {
		return fault.Newf(fault.KindValidation, "no active processing found for section %s", sectionID)
	}
	if st.Namespace != namespace {
		return fault.New(fault.KindAuth, "access denied")
	}
	if st.ProcessingID != processingID {
		return fault.New(fault.KindValidation, "processing session no longer active")
	}

	st.Cancelled = true
	if err := o.saveState(ctx, st); err != nil {
		return err
	}
	o.cancelRun(sectionID)

	o.logger.Info("section processing aborted",
		"section_id", sectionID, "processing_id", processingID)
	return nil
}

// persistTerminal applies a terminal mutation to the stored record if
// this run still owns it. A newer session's record is left alone.
func (o *Orchestrator) persistTerminal(ctx context.Context, st *State, mutate func(*State)) {
	ctx = context.WithoutCancel(ctx)
	cur, found, err := o.loadState(ctx, st.SectionID)
	if err != nil {
		o.logger.Error("failed to load job state for terminal update",
			"section_id", st.SectionID, "error", err)
		return
	}
	if !found {
		return
	}
	if cur.ProcessingID != st.ProcessingID {
		o.logger.Info("skipping terminal update, newer session started",
			"section_id", st.SectionID)
		return
	}
	mutate(cur)
	if err := o.saveState(ctx, cur); err != nil {
		o.logger.Error("failed to persist terminal job state",
			"section_id", st.SectionID, "error", err)
	}
}

func (o *Orchestrator) loadState(ctx context.Context, sectionID string) (*State, bool, error) {
	data, found, err := o.deps.State.Get(ctx, stateKey(sectionID))
	if err != nil || !found {
		return nil, false, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, false, fault.Wrapf(fault.KindStorage, op, err, "stored job for section %s is unreadable", sectionID)
	}
	return &st, true, nil
}

func (o *Orchestrator) saveState(ctx context.Context, st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fault.Wrap(fault.KindInternal, op, err)
	}
	return o.deps.State.Set(ctx, stateKey(st.SectionID), data, o.ttl)
}

func (o *Orchestrator) registerCancel(sectionID, processingID string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if prev, ok := o.cancels[sectionID]; ok {
		prev.cancel()
	}
	o.cancels[sectionID] = runHandle{processingID: processingID, cancel: cancel}
}

func (o *Orchestrator) releaseCancel(sectionID, processingID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cur, ok := o.cancels[sectionID]; ok && cur.processingID == processingID {
		delete(o.cancels, sectionID)
	}
}

func (o *Orchestrator) cancelRun(sectionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cur, ok := o.cancels[sectionID]; ok {
		cur.cancel()
	}
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || fault.IsKind(err, fault.KindCancelled)
}

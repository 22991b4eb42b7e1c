// Package pipeline drives one pathology report through classification,
// generic structuring and the organ extractor fan-out.
//
// A report moves through START, CLASSIFYING, then either NOT_ELIGIBLE or
// ELIGIBLE, STRUCTURING, FAN_OUT and DONE. Only a classification failure
// aborts a report. A structuring failure degrades to an empty document and
// each extractor failure is isolated and recorded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"registrar/internal/config"
	"registrar/internal/domain"
	"registrar/internal/normalize"
	"registrar/internal/port"
	"registrar/internal/registry"
	"registrar/internal/signature"
)

// State is a step of the per-report state machine.
type State string

const (
	StateStart       State = "START"
	StateClassifying State = "CLASSIFYING"
	StateNotEligible State = "NOT_ELIGIBLE"
	StateEligible    State = "ELIGIBLE"
	StateStructuring State = "STRUCTURING"
	StateFanOut      State = "FAN_OUT"
	StateDone        State = "DONE"
)

// ClassificationError wraps the fatal failure of the eligibility stage.
type ClassificationError struct {
	Err error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed: %v", e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// Config is the immutable pipeline configuration.
type Config struct {
	AllowUnresolved bool
	Normalize       normalize.Options
}

// ConfigFrom derives the pipeline configuration from process config.
func ConfigFrom(cfg config.PipelineConfig) Config {
	opts := normalize.DefaultOptions()
	opts.Strict = cfg.Strict
	return Config{AllowUnresolved: cfg.AllowUnresolved, Normalize: opts}
}

// Result is the outcome of one Run.
type Result struct {
	Document *domain.OutputDocument
	Elapsed  time.Duration
	State    State
	Trace    []State
	Failures []domain.ExtractorFailure
}

func (r *Result) enter(s State) {
	r.State = s
	r.Trace = append(r.Trace, s)
}

// step is one resolved registry entry. ext is nil for an id that was allowed
// to stay unresolved.
type step struct {
	id  string
	ext Extractor
}

// Pipeline is safe for concurrent use; it holds no per-report state.
type Pipeline struct {
	cfg     Config
	backend port.Backend
	steps   map[domain.Category][]step
	logger  *slog.Logger
}

// New resolves every registry id against table. Unknown ids fail construction
// unless cfg.AllowUnresolved, in which case they are skipped on every run.
func New(cfg Config, b port.Backend, table Table, reg *registry.Registry, logger *slog.Logger) (*Pipeline, error) {
	if err := reg.Resolve(table); err != nil {
		if !cfg.AllowUnresolved {
			return nil, fmt.Errorf("resolving extractor registry: %w", err)
		}
		logger.Warn("pipeline.registry.unresolved", "error", err)
	}

	steps := make(map[domain.Category][]step)
	for cat, ids := range reg.Entries() {
		list := make([]step, 0, len(ids))
		for _, id := range ids {
			list = append(list, step{id: id, ext: table[id]})
		}
		steps[cat] = list
	}
	return &Pipeline{cfg: cfg, backend: b, steps: steps, logger: logger}, nil
}

var blankLine = regexp.MustCompile(`\r?\n\s*\n`)

// SplitParagraphs splits a report on blank lines, trimming each paragraph and
// dropping empty ones.
func SplitParagraphs(report string) []string {
	var out []string
	for _, p := range blankLine.Split(report, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Run processes one report. name tags log records only. The returned error is
// a *ClassificationError or domain.ErrInvalidReport. When ctx ends during the
// fan-out the document built so far is returned and every extractor not yet
// run is recorded as a failure.
func (p *Pipeline) Run(ctx context.Context, report, name string) (*Result, error) {
	start := time.Now()
	log := p.logger.With("report", name)
	res := &Result{}
	res.enter(StateStart)

	paragraphs := SplitParagraphs(report)
	if len(paragraphs) == 0 {
		return nil, domain.ErrInvalidReport
	}

	res.enter(StateClassifying)
	log.Info("pipeline.classify.start", "paragraphs", len(paragraphs))
	cls, err := p.classify(ctx, log, paragraphs)
	if err != nil {
		log.Error("pipeline.classify.failed", "error", err)
		return nil, &ClassificationError{Err: err}
	}

	if !cls.Eligible {
		res.enter(StateNotEligible)
		res.Document = domain.NewIneligibleDocument()
		res.Elapsed = time.Since(start)
		log.Info("pipeline.done", "eligible", false, "elapsed", res.Elapsed)
		return res, nil
	}

	res.enter(StateEligible)
	category := *cls.Category
	log = log.With("category", string(category))

	res.enter(StateStructuring)
	structured := p.structure(ctx, log, paragraphs, category)

	res.enter(StateFanOut)
	doc := domain.NewEligibleDocument(cls)
	p.fanOut(ctx, log, report, structured, category, doc, res)
	res.Document = doc

	res.enter(StateDone)
	res.Elapsed = time.Since(start)
	log.Info("pipeline.done",
		"eligible", true,
		"fields", len(doc.CancerData),
		"failures", len(res.Failures),
		"elapsed", res.Elapsed,
	)
	return res, nil
}

func (p *Pipeline) classify(ctx context.Context, log *slog.Logger, paragraphs []string) (domain.Classification, error) {
	pred, err := p.backend.Invoke(ctx, signature.ClassifierID, map[string]any{"report": paragraphs})
	if err != nil {
		return domain.Classification{}, err
	}
	eligible, err := pred.Bool("cancer_excision_report")
	if err != nil {
		return domain.Classification{}, err
	}
	if !eligible {
		return domain.Classification{}, nil
	}

	raw, err := pred.OptionalString("cancer_category")
	if err != nil {
		return domain.Classification{}, err
	}
	if raw == nil {
		return domain.Classification{}, errors.New("eligible report without a cancer category")
	}
	desc, err := pred.OptionalString("cancer_category_others_description")
	if err != nil {
		return domain.Classification{}, err
	}

	cat, err := domain.ParseCategory(*raw)
	if err != nil {
		// An organ outside the enumerated set is "others", described by the raw value.
		log.Warn("pipeline.classify.unknown_category", "category", *raw)
		cat = domain.CategoryOthers
		if desc == nil {
			desc = raw
		}
	}
	return domain.Classification{Eligible: true, Category: &cat, OtherDescription: desc}.Normalize(), nil
}

func (p *Pipeline) structure(ctx context.Context, log *slog.Logger, paragraphs []string, cat domain.Category) map[string]any {
	pred, err := p.backend.Invoke(ctx, signature.StructurerID, map[string]any{
		"report":          paragraphs,
		"cancer_category": string(cat),
	})
	if err != nil {
		log.Warn("pipeline.structure.failed", "error", err)
		return map[string]any{}
	}
	out, ok := pred.Get("output")
	if !ok || out == nil {
		return map[string]any{}
	}
	doc, err := normalize.Dump(out, p.cfg.Normalize)
	if err != nil {
		log.Warn("pipeline.structure.failed", "error", err)
		return map[string]any{}
	}
	m, ok := doc.(map[string]any)
	if !ok {
		log.Warn("pipeline.structure.failed", "error", fmt.Sprintf("output is %T, not an object", doc))
		return map[string]any{}
	}
	return m
}

func (p *Pipeline) fanOut(ctx context.Context, log *slog.Logger, report string, structured map[string]any,
	cat domain.Category, doc *domain.OutputDocument, res *Result) {
	if cat == domain.CategoryOthers {
		log.Info("pipeline.fanout.unsupported", "reason", "no organ extractors for others")
		return
	}
	steps, ok := p.steps[cat]
	if !ok {
		log.Info("pipeline.fanout.unmapped")
		return
	}

	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			log.Warn("pipeline.fanout.aborted", "extractor", s.id, "skipped", len(steps)-i, "error", err)
			for _, rest := range steps[i:] {
				res.Failures = append(res.Failures, domain.ExtractorFailure{Extractor: rest.id, Error: err.Error()})
			}
			return
		}
		if s.ext == nil {
			log.Error("pipeline.extractor.unresolved", "extractor", s.id)
			res.Failures = append(res.Failures, domain.ExtractorFailure{Extractor: s.id, Error: "unresolved extractor"})
			continue
		}

		started := time.Now()
		out, err := s.ext.Extract(ctx, report, structured)
		if err != nil {
			log.Warn("pipeline.extractor.failed", "extractor", s.id, "error", err)
			res.Failures = append(res.Failures, domain.ExtractorFailure{Extractor: s.id, Error: err.Error()})
			continue
		}
		for k, v := range out {
			doc.CancerData[k] = v
		}
		log.Debug("pipeline.extractor.ok", "extractor", s.id, "fields", len(out), "elapsed", time.Since(started))
	}
}

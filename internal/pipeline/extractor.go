package pipeline

import (
	"context"
	"sort"

	"registrar/internal/normalize"
	"registrar/internal/port"
)

// Input field names organ extractors are invoked with.
const (
	InputReport     = "report"
	InputStructured = "report_jsonized"
)

// Extractor runs one organ-specific facet extraction over a report.
type Extractor interface {
	ID() string
	Extract(ctx context.Context, report string, structured map[string]any) (map[string]any, error)
}

// SignatureExtractor invokes a backend signature and normalizes the result.
type SignatureExtractor struct {
	id      string
	backend port.Backend
	opts    normalize.Options
}

// NewSignatureExtractor returns an extractor bound to one signature id.
func NewSignatureExtractor(id string, b port.Backend, opts normalize.Options) *SignatureExtractor {
	return &SignatureExtractor{id: id, backend: b, opts: opts}
}

func (e *SignatureExtractor) ID() string { return e.id }

func (e *SignatureExtractor) Extract(ctx context.Context, report string, structured map[string]any) (map[string]any, error) {
	pred, err := e.backend.Invoke(ctx, e.id, map[string]any{
		InputReport:     report,
		InputStructured: structured,
	})
	if err != nil {
		return nil, err
	}
	return normalize.PlainWith(pred, e.opts)
}

// Table is the extractor lookup injected into a Pipeline, keyed by id.
type Table map[string]Extractor

// Has reports whether id has a handle.
func (t Table) Has(id string) bool {
	_, ok := t[id]
	return ok
}

// IDs returns the table keys sorted.
func (t Table) IDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NewSignatureTable builds a SignatureExtractor for every id.
func NewSignatureTable(ids []string, b port.Backend, opts normalize.Options) Table {
	t := make(Table, len(ids))
	for _, id := range ids {
		t[id] = NewSignatureExtractor(id, b, opts)
	}
	return t
}

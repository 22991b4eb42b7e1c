package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Classification is the outcome of the eligibility stage for one report.
type Classification struct {
	Eligible         bool
	Category         *Category
	OtherDescription *string
}

// Normalize enforces the classification invariants: an ineligible report has
// no category, and a description is present exactly when the category is
// "others". A missing description for "others" becomes the empty string.
func (c Classification) Normalize() Classification {
	if !c.Eligible {
		return Classification{}
	}
	out := Classification{Eligible: true, Category: c.Category}
	if c.Category == nil || *c.Category != CategoryOthers {
		return out
	}
	desc := ""
	if c.OtherDescription != nil {
		desc = *c.OtherDescription
	}
	out.OtherDescription = &desc
	return out
}

// OutputDocument is the per-report artifact handed to callers for persistence.
type OutputDocument struct {
	CancerExcisionReport bool
	CancerCategory       *string
	OthersDescription    *string
	CancerData           map[string]any
}

// NewIneligibleDocument returns the document for a report that does not qualify.
func NewIneligibleDocument() *OutputDocument {
	return &OutputDocument{CancerData: map[string]any{}}
}

// NewEligibleDocument starts the document for an eligible report.
func NewEligibleDocument(c Classification) *OutputDocument {
	doc := &OutputDocument{
		CancerExcisionReport: true,
		OthersDescription:    c.OtherDescription,
		CancerData:           map[string]any{},
	}
	if c.Category != nil {
		s := string(*c.Category)
		doc.CancerCategory = &s
	}
	return doc
}

// MarshalJSON emits cancer_category_others_description only for eligible reports.
func (d OutputDocument) MarshalJSON() ([]byte, error) {
	data := d.CancerData
	if data == nil {
		data = map[string]any{}
	}
	if !d.CancerExcisionReport {
		return marshalText(struct {
			CancerExcisionReport bool           `json:"cancer_excision_report"`
			CancerCategory       *string        `json:"cancer_category"`
			CancerData           map[string]any `json:"cancer_data"`
		}{false, nil, data})
	}
	return marshalText(struct {
		CancerExcisionReport bool           `json:"cancer_excision_report"`
		CancerCategory       *string        `json:"cancer_category"`
		OthersDescription    *string        `json:"cancer_category_others_description"`
		CancerData           map[string]any `json:"cancer_data"`
	}{true, d.CancerCategory, d.OthersDescription, data})
}

// marshalText is json.Marshal without HTML escaping; report text such as
// "margin <1 mm" is kept as written.
func marshalText(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// UnmarshalJSON accepts both document shapes.
func (d *OutputDocument) UnmarshalJSON(b []byte) error {
	var raw struct {
		CancerExcisionReport bool           `json:"cancer_excision_report"`
		CancerCategory       *string        `json:"cancer_category"`
		OthersDescription    *string        `json:"cancer_category_others_description"`
		CancerData           map[string]any `json:"cancer_data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d.CancerExcisionReport = raw.CancerExcisionReport
	d.CancerCategory = raw.CancerCategory
	d.OthersDescription = raw.OthersDescription
	d.CancerData = raw.CancerData
	if d.CancerData == nil {
		d.CancerData = map[string]any{}
	}
	return nil
}

// ExtractorFailure records one isolated extractor failure within a run.
type ExtractorFailure struct {
	Extractor string `json:"extractor"`
	Error     string `json:"error"`
}

// ExtractionRecord is a persisted pipeline run.
type ExtractionRecord struct {
	ID         uuid.UUID          `json:"id"`
	Name       string             `json:"name"`
	Model      string             `json:"model"`
	Document   *OutputDocument    `json:"document"`
	Failures   []ExtractorFailure `json:"failures"`
	ElapsedMS  int64              `json:"elapsed_ms"`
	StorageKey string             `json:"storage_key,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Elapsed returns the recorded wall-clock duration.
func (r *ExtractionRecord) Elapsed() time.Duration {
	return time.Duration(r.ElapsedMS) * time.Millisecond
}

// Package prediction holds the structured value returned by a generative
// backend for one signature invocation.
package prediction

import (
	"fmt"
	"strings"
)

// Keys under which a Prediction keeps backend bookkeeping next to the output
// fields. They never reach normalized output.
const (
	KeyUsage       = "_lm_usage"
	KeyInputs      = "_inputs"
	KeyCompletions = "_completions"
)

// Usage is token accounting reported by a backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Prediction is the field store produced by one backend call.
type Prediction struct {
	store map[string]any
}

// New creates a Prediction over a copy of fields.
func New(fields map[string]any) *Prediction {
	store := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		store[k] = v
	}
	return &Prediction{store: store}
}

// Store exposes the internal field store, bookkeeping keys included.
func (p *Prediction) Store() map[string]any {
	if p == nil {
		return nil
	}
	return p.store
}

// Set stores a field value.
func (p *Prediction) Set(key string, value any) {
	p.store[key] = value
}

// Get returns a field value.
func (p *Prediction) Get(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.store[key]
	return v, ok
}

// WithUsage records token usage.
func (p *Prediction) WithUsage(u Usage) *Prediction {
	p.store[KeyUsage] = u
	return p
}

// WithInputs records the inputs the prediction was produced from.
func (p *Prediction) WithInputs(inputs map[string]any) *Prediction {
	p.store[KeyInputs] = inputs
	return p
}

// WithCompletion records the raw completion text.
func (p *Prediction) WithCompletion(raw string) *Prediction {
	p.store[KeyCompletions] = []string{raw}
	return p
}

// Fields returns the output field names, bookkeeping excluded.
func (p *Prediction) Fields() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.store))
	for k := range p.store {
		if !strings.HasPrefix(k, "_") {
			out = append(out, k)
		}
	}
	return out
}

// Bool reads a boolean output field. Missing or null reads as false; string
// forms "true"/"yes" are accepted because small models emit them.
func (p *Prediction) Bool(key string) (bool, error) {
	v, ok := p.Get(key)
	if !ok || v == nil {
		return false, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1":
			return true, nil
		case "false", "no", "0", "", "null", "none":
			return false, nil
		}
	}
	return false, fmt.Errorf("field %s: expected boolean, got %T", key, v)
}

// OptionalString reads a nullable string output field. Null, empty and the
// literal strings "null"/"none" read as nil.
func (p *Prediction) OptionalString(key string) (*string, error) {
	v, ok := p.Get(key)
	if !ok || v == nil {
		return nil, nil
	}
	s, isStr := v.(string)
	if !isStr {
		return nil, fmt.Errorf("field %s: expected string, got %T", key, v)
	}
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "null", "none":
		return nil, nil
	}
	return &s, nil
}

// Map reads an object output field; anything else reads as nil.
func (p *Prediction) Map(key string) map[string]any {
	v, _ := p.Get(key)
	m, _ := v.(map[string]any)
	return m
}

// Package signature holds the declarative input/output definitions that each
// backend call is made against.
package signature

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Well-known signature ids used by the pipeline outside the organ registry.
const (
	ClassifierID = "is_cancer"
	StructurerID = "ReportJsonize"
)

//go:embed signatures.yaml
var embedded []byte

// FieldType is the declared type of an input or output field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
)

func (t FieldType) valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeObject, TypeArray:
		return true
	}
	return false
}

// Field describes one named input or output of a signature.
type Field struct {
	Name       string    `yaml:"name" json:"name"`
	Desc       string    `yaml:"desc" json:"desc,omitempty"`
	Type       FieldType `yaml:"type" json:"type"`
	Items      FieldType `yaml:"items,omitempty" json:"items,omitempty"`
	Enum       []string  `yaml:"enum,omitempty" json:"enum,omitempty"`
	Nullable   bool      `yaml:"nullable,omitempty" json:"nullable,omitempty"`
	// Open marks Enum as guidance for the model only; Validate accepts other strings.
	Open       bool      `yaml:"open,omitempty" json:"open,omitempty"`
	Properties []Field   `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// Signature declares what one extraction task receives and must return.
type Signature struct {
	ID           string  `yaml:"id" json:"id"`
	Instructions string  `yaml:"instructions" json:"instructions"`
	Inputs       []Field `yaml:"inputs" json:"inputs"`
	Outputs      []Field `yaml:"outputs" json:"outputs"`

	once     sync.Once
	compiled *jsonschema.Schema
	compErr  error
}

// OutputNames returns the declared output field names in order.
func (s *Signature) OutputNames() []string {
	names := make([]string, len(s.Outputs))
	for i, f := range s.Outputs {
		names[i] = f.Name
	}
	return names
}

// OutputSchema renders the outputs as a JSON schema object. Every declared
// output is required; nullable outputs accept null.
func (s *Signature) OutputSchema() map[string]any {
	return objectSchema(s.Outputs, false)
}

// validationSchema is OutputSchema without the enums of open fields.
func (s *Signature) validationSchema() map[string]any {
	return objectSchema(s.Outputs, true)
}

func objectSchema(fields []Field, validating bool) map[string]any {
	props := make(map[string]any, len(fields))
	required := make([]string, 0, len(fields))
	for _, f := range fields {
		props[f.Name] = fieldSchema(f, validating)
		required = append(required, f.Name)
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func fieldSchema(f Field, validating bool) map[string]any {
	var out map[string]any
	switch {
	case f.Type == TypeObject && len(f.Properties) > 0:
		out = objectSchema(f.Properties, validating)
	case f.Type == TypeArray && f.Items != "":
		out = map[string]any{"type": "array", "items": map[string]any{"type": string(f.Items)}}
	default:
		out = map[string]any{"type": string(f.Type)}
	}
	if f.Nullable {
		out["type"] = []string{out["type"].(string), "null"}
	}
	if len(f.Enum) > 0 && !(validating && f.Open) {
		enum := make([]any, 0, len(f.Enum)+1)
		for _, e := range f.Enum {
			enum = append(enum, e)
		}
		if f.Nullable {
			enum = append(enum, nil)
		}
		out["enum"] = enum
	}
	if f.Desc != "" {
		out["description"] = f.Desc
	}
	return out
}

// Validate checks a decoded JSON object against the output schema. The value
// must come from encoding/json decoding (float64 numbers, []any, map[string]any).
func (s *Signature) Validate(fields map[string]any) error {
	s.once.Do(s.compile)
	if s.compErr != nil {
		return s.compErr
	}
	if err := s.compiled.Validate(fields); err != nil {
		return fmt.Errorf("signature %s: %w", s.ID, err)
	}
	return nil
}

func (s *Signature) compile() {
	raw, err := json.Marshal(s.validationSchema())
	if err != nil {
		s.compErr = fmt.Errorf("signature %s: encoding schema: %w", s.ID, err)
		return
	}
	url := "mem://signatures/" + s.ID + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		s.compErr = fmt.Errorf("signature %s: adding schema: %w", s.ID, err)
		return
	}
	s.compiled, s.compErr = c.Compile(url)
	if s.compErr != nil {
		s.compErr = fmt.Errorf("signature %s: compiling schema: %w", s.ID, s.compErr)
	}
}

// Catalog is a read-only set of signatures keyed by id.
type Catalog struct {
	byID  map[string]*Signature
	order []string
}

type catalogFile struct {
	Signatures []*Signature `yaml:"signatures"`
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(embedded)
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signatures file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and checks a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decoding signatures: %w", err)
	}
	c := &Catalog{byID: make(map[string]*Signature, len(file.Signatures))}
	for i, sig := range file.Signatures {
		if sig == nil || strings.TrimSpace(sig.ID) == "" {
			return nil, fmt.Errorf("signature %d: missing id", i)
		}
		if _, dup := c.byID[sig.ID]; dup {
			return nil, fmt.Errorf("signature %s: duplicate id", sig.ID)
		}
		if len(sig.Outputs) == 0 {
			return nil, fmt.Errorf("signature %s: no outputs", sig.ID)
		}
		if err := checkFields(sig.ID, sig.Inputs); err != nil {
			return nil, err
		}
		if err := checkFields(sig.ID, sig.Outputs); err != nil {
			return nil, err
		}
		c.byID[sig.ID] = sig
		c.order = append(c.order, sig.ID)
	}
	return c, nil
}

func checkFields(id string, fields []Field) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return fmt.Errorf("signature %s: field without name", id)
		}
		if seen[f.Name] {
			return fmt.Errorf("signature %s: duplicate field %s", id, f.Name)
		}
		seen[f.Name] = true
		if !f.Type.valid() {
			return fmt.Errorf("signature %s: field %s has unknown type %q", id, f.Name, f.Type)
		}
		if f.Items != "" && !f.Items.valid() {
			return fmt.Errorf("signature %s: field %s has unknown item type %q", id, f.Name, f.Items)
		}
		if err := checkFields(id, f.Properties); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the signature with the given id.
func (c *Catalog) Get(id string) (*Signature, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// Has reports whether the catalog defines id.
func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// IDs returns every signature id in file order.
func (c *Catalog) IDs() []string {
	return append([]string(nil), c.order...)
}

// Len returns the number of signatures.
func (c *Catalog) Len() int { return len(c.order) }

package backend

import (
	"encoding/json"
	"fmt"
	"strings"

	"registrar/internal/signature"
)

// Request is the provider-neutral form of one signature invocation.
type Request struct {
	SchemaID string
	System   string
	User     string
	Schema   map[string]any
}

// BuildRequest renders the prompt for sig over inputs. Every declared input
// must be present; extra inputs are ignored.
func BuildRequest(sig *signature.Signature, inputs map[string]any) (Request, error) {
	var sys strings.Builder
	sys.WriteString(strings.TrimSpace(sig.Instructions))
	sys.WriteString("\n\nYour input fields are:\n")
	writeFields(&sys, sig.Inputs)
	sys.WriteString("\nYour output fields are:\n")
	writeFields(&sys, sig.Outputs)
	sys.WriteString("\nRespond with a single JSON object whose keys are exactly: ")
	sys.WriteString(strings.Join(sig.OutputNames(), ", "))
	sys.WriteString(". Use null for values the report does not state. ")
	sys.WriteString("Return ONLY the JSON object, with no markdown formatting and no explanation.")

	var user strings.Builder
	for i, f := range sig.Inputs {
		v, ok := inputs[f.Name]
		if !ok {
			return Request{}, fmt.Errorf("missing input %q for %s", f.Name, sig.ID)
		}
		text, err := renderInput(v)
		if err != nil {
			return Request{}, fmt.Errorf("rendering input %q: %w", f.Name, err)
		}
		if i > 0 {
			user.WriteString("\n\n")
		}
		fmt.Fprintf(&user, "## %s\n%s", f.Name, text)
	}

	return Request{
		SchemaID: sig.ID,
		System:   sys.String(),
		User:     user.String(),
		Schema:   sig.OutputSchema(),
	}, nil
}

func writeFields(b *strings.Builder, fields []signature.Field) {
	for i, f := range fields {
		typ := string(f.Type)
		if f.Type == signature.TypeArray && f.Items != "" {
			typ = "array of " + string(f.Items)
		}
		if f.Nullable {
			typ += " or null"
		}
		fmt.Fprintf(b, "%d. `%s` (%s)", i+1, f.Name, typ)
		if len(f.Enum) > 0 {
			fmt.Fprintf(b, " one of: %s", strings.Join(f.Enum, ", "))
		}
		if f.Desc != "" {
			fmt.Fprintf(b, ": %s", strings.TrimSpace(f.Desc))
		}
		b.WriteByte('\n')
	}
}

func renderInput(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case string:
		return x, nil
	default:
		b, err := json.MarshalIndent(x, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// DecodeObject extracts the JSON object from a completion. Markdown fences and
// text around the outermost braces are tolerated.
func DecodeObject(text string) (map[string]any, error) {
	s := strings.TrimSpace(text)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object (raw: %s)", ErrMalformedOutput, truncate(s, 500))
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("%w: %v (raw: %s)", ErrMalformedOutput, err, truncate(s, 500))
	}
	return out, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

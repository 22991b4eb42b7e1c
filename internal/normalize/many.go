package normalize

import (
	"encoding/json"
	"fmt"
)

// KeyFunc names the i-th value in a DumpMany batch. Returning false leaves the
// value out of the keyed document.
type KeyFunc func(v any, i int) (string, bool)

// DumpMany normalizes a batch of predictions into one indented JSON document:
// an array by default, or an object keyed by keyFn when one is given.
func DumpMany(values []any, keyFn KeyFunc, opts Options) ([]byte, error) {
	dumped := make([]any, len(values))
	for i, v := range values {
		d, err := Dump(v, opts)
		if err != nil {
			return nil, fmt.Errorf("normalizing value %d: %w", i, err)
		}
		dumped[i] = d
	}

	if keyFn == nil {
		return json.MarshalIndent(dumped, "", "  ")
	}

	keyed := make(map[string]any, len(values))
	for i, v := range values {
		if k, ok := keyFn(v, i); ok {
			keyed[k] = dumped[i]
		}
	}
	return json.MarshalIndent(keyed, "", "  ")
}

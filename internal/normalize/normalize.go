// Package normalize converts prediction results of arbitrary shape into plain,
// JSON-safe values: nil, bool, numbers, strings, []any and map[string]any.
//
// Dispatch order for a value:
//
//  1. nil and built-in scalars are returned unchanged.
//  2. A FieldStore (a prediction) becomes a mapping over its stored fields,
//     without bookkeeping keys and keys carrying the private prefix.
//  3. Maps become map[string]any with private keys dropped and values normalized.
//  4. Slices, arrays and sets become []any in iteration order.
//  5. A Normalizable is exported with ToPlain and the result normalized again;
//     when the export fails, dispatch continues with rule 6.
//  6. Known scalar kinds are coerced (time, big numbers, named numeric types,
//     structs). Anything left is an UnsupportedValueError in strict mode and is
//     passed through otherwise.
package normalize

import (
	"encoding"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"registrar/internal/prediction"
)

// PrivatePrefix marks keys that are implementation bookkeeping.
const PrivatePrefix = "_"

// maxDepth bounds recursion so that self-referencing values fail instead of
// overflowing the stack.
const maxDepth = 128

// InternalKeys are the prediction bookkeeping keys dropped from every store.
var InternalKeys = []string{prediction.KeyUsage, prediction.KeyInputs, prediction.KeyCompletions}

// FieldStore is implemented by prediction-like values that keep their output
// fields in an internal store.
type FieldStore interface {
	Store() map[string]any
}

// Normalizable is implemented by values that know how to export themselves
// to a plain value.
type Normalizable interface {
	ToPlain() (any, error)
}

// ErrTooDeep is returned when a value nests deeper than the recursion bound.
var ErrTooDeep = errors.New("value nests too deeply")

// UnsupportedValueError reports a value with no JSON-safe representation.
type UnsupportedValueError struct {
	Path string
	Type string
}

func (e *UnsupportedValueError) Error() string {
	return fmt.Sprintf("unsupported value of type %s at %s", e.Type, e.Path)
}

// Options control the extended variant of the normalizer.
type Options struct {
	// ExcludePrivate drops string keys starting with PrivatePrefix.
	ExcludePrivate bool
	// ExcludeKeys are dropped from every mapping regardless of prefix.
	ExcludeKeys []string
	// Predicate vetoes a mapping entry when it returns false.
	Predicate func(key string, value any) bool
	// Strict turns unsupported leftovers into UnsupportedValueError.
	Strict bool
}

// DefaultOptions returns the options used by Plain.
func DefaultOptions() Options {
	return Options{
		ExcludePrivate: true,
		ExcludeKeys:    append([]string(nil), InternalKeys...),
		Strict:         true,
	}
}

// Plain normalizes v with the default options and always returns a mapping;
// a non-mapping result is wrapped as {"value": result}.
func Plain(v any) (map[string]any, error) {
	return PlainWith(v, DefaultOptions())
}

// PlainWith is Plain with caller-supplied options.
func PlainWith(v any, opts Options) (map[string]any, error) {
	out, err := Dump(v, opts)
	if err != nil {
		return nil, err
	}
	if m, ok := out.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"value": out}, nil
}

// Dump normalizes v without the top-level mapping wrap.
func Dump(v any, opts Options) (any, error) {
	n := &normalizer{opts: opts, exclude: make(map[string]struct{}, len(opts.ExcludeKeys))}
	for _, k := range opts.ExcludeKeys {
		n.exclude[k] = struct{}{}
	}
	return n.value(v, "$", 0)
}

type normalizer struct {
	opts    Options
	exclude map[string]struct{}
}

var (
	timeType          = reflect.TypeOf(time.Time{})
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
)

func (n *normalizer) value(v any, path string, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%s: %w", path, ErrTooDeep)
	}

	switch t := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return v, nil
	case float64:
		return n.float(t, v, path)
	case float32:
		return n.float(float64(t), v, path)
	case FieldStore:
		if isNilPointer(v) {
			return nil, nil
		}
		return n.mapping(t.Store(), path, depth)
	case map[string]any:
		return n.mapping(t, path, depth)
	case []any:
		return n.sequence(reflect.ValueOf(t), path, depth)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Elem().Kind() == reflect.Struct && rv.Type().Elem().NumField() == 0 {
			return n.set(rv, path, depth)
		}
		return n.reflectMapping(rv, path, depth)
	case reflect.Slice, reflect.Array:
		if !selfEncoding(rv.Type()) && !isByteSlice(rv) {
			return n.sequence(rv, path, depth)
		}
	}

	if nz, ok := v.(Normalizable); ok && !isNilPointer(v) {
		if plain, err := nz.ToPlain(); err == nil {
			return n.value(plain, path, depth+1)
		}
	}

	return n.coerce(v, rv, path, depth)
}

func (n *normalizer) keep(key string, value any) bool {
	if _, ok := n.exclude[key]; ok {
		return false
	}
	if n.opts.ExcludePrivate && strings.HasPrefix(key, PrivatePrefix) {
		return false
	}
	if n.opts.Predicate != nil && !n.opts.Predicate(key, value) {
		return false
	}
	return true
}

func (n *normalizer) mapping(m map[string]any, path string, depth int) (any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if !n.keep(k, v) {
			continue
		}
		nv, err := n.value(v, path+"."+k, depth+1)
		if err != nil {
			return nil, err
		}
		out[k] = nv
	}
	return out, nil
}

func (n *normalizer) reflectMapping(rv reflect.Value, path string, depth int) (any, error) {
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, isString, err := n.mapKey(iter.Key(), path)
		if err != nil {
			return nil, err
		}
		val := iter.Value().Interface()
		// Only string keys are subject to exclusion; other keys are stringified as-is.
		if isString && !n.keep(key, val) {
			continue
		}
		nv, err := n.value(val, path+"."+key, depth+1)
		if err != nil {
			return nil, err
		}
		out[key] = nv
	}
	return out, nil
}

func (n *normalizer) mapKey(k reflect.Value, path string) (string, bool, error) {
	if k.Kind() == reflect.Interface {
		k = k.Elem()
	}
	if !k.IsValid() {
		return "", false, &UnsupportedValueError{Path: path, Type: "nil map key"}
	}
	if k.Kind() == reflect.String {
		return k.String(), true, nil
	}
	if k.Type().Implements(textMarshalerType) {
		b, err := k.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return "", false, fmt.Errorf("%s: marshaling map key: %w", path, err)
		}
		return string(b), false, nil
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), false, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10), false, nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(k.Float(), 'g', -1, 64), false, nil
	case reflect.Bool:
		return strconv.FormatBool(k.Bool()), false, nil
	}
	return "", false, &UnsupportedValueError{Path: path, Type: "map key " + k.Type().String()}
}

func (n *normalizer) sequence(rv reflect.Value, path string, depth int) (any, error) {
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		return []any{}, nil
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		nv, err := n.value(rv.Index(i).Interface(), path+"["+strconv.Itoa(i)+"]", depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = nv
	}
	return out, nil
}

// set flattens a map[T]struct{} into a sequence of its keys. Go maps have no
// order, so the elements are sorted by their printed form.
func (n *normalizer) set(rv reflect.Value, path string, depth int) (any, error) {
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
	})
	out := make([]any, len(keys))
	for i, k := range keys {
		nv, err := n.value(k.Interface(), path+"["+strconv.Itoa(i)+"]", depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = nv
	}
	return out, nil
}

func (n *normalizer) float(f float64, orig any, path string) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return n.unsupported(orig, path)
	}
	return orig, nil
}

func (n *normalizer) coerce(v any, rv reflect.Value, path string, depth int) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.Format(time.RFC3339Nano), nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return t.Format(time.RFC3339Nano), nil
	case time.Duration:
		return t.Seconds(), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return n.unsupported(v, path)
		}
		return n.float(f, f, path)
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(t, &decoded); err != nil {
			return n.unsupported(v, path)
		}
		return n.value(decoded, path, depth+1)
	case []byte:
		return base64.StdEncoding.EncodeToString(t), nil
	case *big.Int:
		if t == nil {
			return nil, nil
		}
		if t.IsInt64() {
			return t.Int64(), nil
		}
		f, _ := new(big.Float).SetInt(t).Float64()
		return f, nil
	case *big.Float:
		if t == nil {
			return nil, nil
		}
		f, _ := t.Float64()
		return n.float(f, f, path)
	case *big.Rat:
		if t == nil {
			return nil, nil
		}
		f, _ := t.Float64()
		return f, nil
	}

	if rv.IsValid() && selfEncoding(rv.Type()) {
		return n.selfEncoded(v, path, depth)
	}

	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return n.float(f, f, path)
	case reflect.Slice:
		if isByteSlice(rv) {
			return base64.StdEncoding.EncodeToString(rv.Bytes()), nil
		}
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return n.value(rv.Elem().Interface(), path, depth+1)
	case reflect.Struct:
		return n.structValue(rv, path, depth)
	}
	return n.unsupported(v, path)
}

// structValue exports a struct to a mapping keyed by its json tag names,
// following encoding/json field rules for exported, skipped, omitempty and
// embedded fields.
func (n *normalizer) structValue(rv reflect.Value, path string, depth int) (any, error) {
	fields := map[string]any{}
	collectFields(rv, fields)
	return n.mapping(fields, path, depth)
}

func collectFields(rv reflect.Value, out map[string]any) {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		fv := rv.Field(i)
		name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" && opts == "" {
			continue
		}
		if f.Anonymous && name == "" {
			if fv.Kind() == reflect.Pointer {
				if fv.IsNil() {
					continue
				}
				fv = fv.Elem()
			}
			if fv.Kind() == reflect.Struct {
				collectFields(fv, out)
				continue
			}
		}
		if !f.IsExported() || !fv.CanInterface() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if strings.Contains(opts, "omitempty") && fv.IsZero() {
			continue
		}
		out[name] = fv.Interface()
	}
}

// selfEncoded handles types that declare their own JSON or text form.
func (n *normalizer) selfEncoded(v any, path string, depth int) (any, error) {
	if m, ok := v.(json.Marshaler); ok {
		b, err := m.MarshalJSON()
		if err != nil {
			return n.unsupported(v, path)
		}
		var decoded any
		if err := json.Unmarshal(b, &decoded); err != nil {
			return n.unsupported(v, path)
		}
		return n.value(decoded, path, depth+1)
	}
	if m, ok := v.(encoding.TextMarshaler); ok {
		b, err := m.MarshalText()
		if err != nil {
			return n.unsupported(v, path)
		}
		return string(b), nil
	}
	return n.unsupported(v, path)
}

func (n *normalizer) unsupported(v any, path string) (any, error) {
	if n.opts.Strict {
		return nil, &UnsupportedValueError{Path: path, Type: fmt.Sprintf("%T", v)}
	}
	return v, nil
}

// selfEncoding reports whether t declares its own JSON or text encoding, which
// takes precedence over structural handling of arrays (uuid.UUID) and structs.
func selfEncoding(t reflect.Type) bool {
	return t != timeType && (t.Implements(jsonMarshalerType) || t.Implements(textMarshalerType))
}

func isByteSlice(rv reflect.Value) bool {
	return rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

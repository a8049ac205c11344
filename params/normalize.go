// Package params canonicalizes request parameters into an order-independent form
// suitable for structural cache key comparison.
package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// Params is a request parameter object: string keys mapped to scalars, arrays
// or nested objects.
type Params map[string]any

type omitted struct{}

// Omit marks a key as absent. Keys holding Omit are dropped during
// normalization, while a nil value is kept as an explicit JSON null.
var Omit = omitted{}

// Set is an order-irrelevant array, such as a filter set. Its elements are
// sorted by their canonical encoding during normalization. Plain slices are
// order-relevant and keep their element order.
type Set []any

// maxExactInteger is the largest magnitude an integer may have and still
// survive the float64 number model of canonical JSON.
const maxExactInteger = 1 << 53

// SetOf builds a Set from typed items.
func SetOf[T any](items ...T) Set {
	s := make(Set, len(items))
	for i, item := range items {
		s[i] = item
	}
	return s
}

var rawMessageType = reflect.TypeOf(json.RawMessage(nil))

// Normalize returns the canonical form of p. The result is deterministic:
// semantically equal params (same keys and values, any insertion order)
// always produce identical canonical encodings.
func Normalize(p Params) (Normalized, error) {
	tree, err := normalizeValue(reflect.ValueOf(map[string]any(p)), "")
	if err != nil {
		return Normalized{}, err
	}
	if tree == nil {
		tree = map[string]any{}
	}
	canonical, err := canonicalize(tree)
	if err != nil {
		return Normalized{}, err
	}
	return Normalized{canonical: string(canonical)}, nil
}

// canonicalize encodes v as RFC 8785 JSON so that numerically equal values
// (12, 12.0, int64(12)) and differently escaped strings encode identically.
func canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &InvalidParamError{Reason: err.Error()}
	}
	out, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return nil, &InvalidParamError{Reason: fmt.Sprintf("canonicalize: %v", err)}
	}
	return out, nil
}

func normalizeValue(v reflect.Value, path string) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}

	switch val := v.Interface().(type) {
	case omitted:
		return nil, invalid(path, "omitted value outside of an object")
	case Set:
		return normalizeSet(val, path)
	case json.Number:
		if _, err := strconv.ParseFloat(string(val), 64); err != nil {
			return nil, invalid(path, "malformed number %q", string(val))
		}
		if !strings.ContainsAny(string(val), ".eE") {
			i, err := strconv.ParseInt(string(val), 10, 64)
			if err != nil || i > maxExactInteger || i < -maxExactInteger {
				return nil, invalid(path, "integer %s exceeds 2^53", string(val))
			}
		}
		return val, nil
	}

	if v.Type() == rawMessageType {
		var decoded any
		dec := json.NewDecoder(bytes.NewReader(v.Bytes()))
		dec.UseNumber()
		if err := dec.Decode(&decoded); err != nil {
			return nil, invalid(path, "malformed raw JSON: %v", err)
		}
		return normalizeValue(reflect.ValueOf(decoded), path)
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil, nil
		}
		return normalizeValue(v.Elem(), path)
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.String:
		return v.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i := v.Int()
		if i > maxExactInteger || i < -maxExactInteger {
			return nil, invalid(path, "integer %d exceeds 2^53", i)
		}
		return i, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := v.Uint()
		if u > maxExactInteger {
			return nil, invalid(path, "integer %d exceeds 2^53", u)
		}
		return u, nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, invalid(path, "non-finite number %v", f)
		}
		return f, nil
	case reflect.Slice:
		if v.IsNil() {
			return nil, nil
		}
		return normalizeList(v, path)
	case reflect.Array:
		return normalizeList(v, path)
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, invalid(path, "map key type %s is not a string", v.Type().Key())
		}
		if v.IsNil() {
			return nil, nil
		}
		return normalizeMap(v, path)
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, invalid(path, "%s values are not serializable", v.Kind())
	default:
		return nil, invalid(path, "unsupported type %s", v.Type())
	}
}

func normalizeMap(v reflect.Value, path string) (any, error) {
	out := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		name := iter.Key().String()
		elem := iter.Value()
		if elem.Kind() == reflect.Interface && !elem.IsNil() {
			elem = elem.Elem()
		}
		if elem.IsValid() && elem.Type() == reflect.TypeOf(Omit) {
			continue
		}
		child, err := normalizeValue(elem, joinKey(path, name))
		if err != nil {
			return nil, err
		}
		out[name] = child
	}
	return out, nil
}

func normalizeList(v reflect.Value, path string) (any, error) {
	out := make([]any, v.Len())
	for i := range v.Len() {
		child, err := normalizeValue(v.Index(i), fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out[i] = child
	}
	return out, nil
}

func normalizeSet(s Set, path string) (any, error) {
	type member struct {
		value   any
		encoded []byte
	}
	members := make([]member, len(s))
	for i, item := range s {
		child, err := normalizeValue(reflect.ValueOf(item), fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		encoded, err := canonicalize(child)
		if err != nil {
			return nil, err
		}
		members[i] = member{value: child, encoded: encoded}
	}
	sort.SliceStable(members, func(i, j int) bool {
		return bytes.Compare(members[i].encoded, members[j].encoded) < 0
	})
	out := make([]any, len(members))
	for i, m := range members {
		out[i] = m.value
	}
	return out, nil
}

func joinKey(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

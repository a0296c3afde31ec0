// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// canonicalize converts a caller-supplied plain value into the JSON
// data model used throughout the tree: nil, bool, float64, string,
// []any and map[string]any. The result never aliases the input.
//
// Live nodes are rejected anywhere inside the value; callers check for
// a top-level node before calling.
func canonicalize(value any) (any, error) {
	return canonicalizeAt("", value)
}

func canonicalizeAt(path string, value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case Node:
		return nil, &InvalidValueError{Path: path, Reason: fmt.Sprintf("live %s nested inside a plain value", v.Type())}
	case bool, string:
		return v, nil
	case float64:
		return finite(path, v)
	case float32:
		return finite(path, float64(v))
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, &InvalidValueError{Path: path, Reason: fmt.Sprintf("number %q: %v", v, err)}
		}
		return finite(path, f)
	case []any:
		out := make([]any, len(v))
		for i, element := range v {
			converted, err := canonicalizeAt(path+"["+strconv.Itoa(i)+"]", element)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, element := range v {
			converted, err := canonicalizeAt(joinPath(path, key), element)
			if err != nil {
				return nil, err
			}
			out[key] = converted
		}
		return out, nil
	}
	return canonicalizeReflect(path, value)
}

// canonicalizeReflect handles typed slices, typed maps with string
// keys, and anything else encoding/json can marshal (structs, types
// with MarshalJSON).
func canonicalizeReflect(path string, value any) (any, error) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			break // []byte marshals as base64, same as encoding/json
		}
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			converted, err := canonicalizeAt(path+"["+strconv.Itoa(i)+"]", rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, &InvalidValueError{Path: path, Reason: fmt.Sprintf("map key type %s is not a string", rv.Type().Key())}
		}
		if rv.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			converted, err := canonicalizeAt(joinPath(path, key), iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[key] = converted
		}
		return out, nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return nil, &InvalidValueError{Path: path, Reason: fmt.Sprintf("%T is not JSON-compatible", value)}
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, &InvalidValueError{Path: path, Reason: err.Error()}
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, &InvalidValueError{Path: path, Reason: err.Error()}
	}
	return decoded, nil
}

func finite(path string, f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &InvalidValueError{Path: path, Reason: "number is not finite"}
	}
	return f, nil
}

func joinPath(path, key string) string {
	if path == "" {
		return strconv.Quote(key)
	}
	return path + "." + strconv.Quote(key)
}

// deepCopy copies a canonical value. Values decoded by encoding/json
// are canonical.
func deepCopy(value any) any {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, element := range v {
			out[i] = deepCopy(element)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, element := range v {
			out[key] = deepCopy(element)
		}
		return out
	default:
		return v
	}
}

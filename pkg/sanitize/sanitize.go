// Package sanitize converts arbitrary values into the plain, storage-safe shape
// written to the local store and to the remote document store.
package sanitize

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/celerix-dev/socialboost-store/pkg/sdk"
)

// MaxDepth bounds how deep Value walks nested maps and slices.
const MaxDepth = 64

// ISOLayout is the canonical date form: UTC, millisecond precision.
const ISOLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	// ErrTooDeep is returned when a value nests deeper than MaxDepth,
	// which in practice means it references itself.
	ErrTooDeep = errors.New("sanitize: value nests too deeply (reference cycle?)")
	// ErrNotObject is returned by Document when the value is not an object.
	ErrNotObject = errors.New("sanitize: value is not an object")
)

var (
	marshalerType     = reflect.TypeFor[json.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

// Timestamp is implemented by remote-store timestamp wrappers.
type Timestamp interface {
	AsTime() time.Time
}

// FormatTime renders t in the canonical ISO-8601 form.
func FormatTime(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// Value returns the storage-safe form of v.
//
// Scalars pass through, dates become ISO strings, slices are walked in order,
// and map keys starting with "_" are dropped at every depth, including inside
// structs. Struct fields use their encoding/json names.
func Value(v any) (any, error) {
	return walk(v, 0)
}

// Document sanitizes v and requires the result to be an object.
func Document(v any) (sdk.Document, error) {
	out, err := Value(v)
	if err != nil {
		return nil, err
	}
	doc, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotObject, out)
	}
	return doc, nil
}

func walk(v any, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, ErrTooDeep
	}

	switch val := v.(type) {
	case nil:
		return nil, nil
	case string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val, nil
	case json.Number:
		return number(val)
	case time.Time:
		return FormatTime(val), nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return FormatTime(*val), nil
	case Timestamp:
		return FormatTime(val.AsTime()), nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			clean, err := walk(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = clean
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for key, item := range val {
			if strings.HasPrefix(key, "_") {
				continue
			}
			clean, err := walk(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[key] = clean
		}
		return out, nil
	}

	return typed(reflect.ValueOf(v), depth)
}

// typed walks structs, typed maps, slices and pointers by reflection, keeping
// the encoding/json field names so nested dates still reach walk.
func typed(rv reflect.Value, depth int) (any, error) {
	if rv.Type().Implements(marshalerType) || rv.Type().Implements(textMarshalerType) {
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return nil, nil
		}
		plain, err := normalize(rv.Interface())
		if err != nil {
			return nil, err
		}
		return walk(plain, depth)
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return walk(rv.Elem().Interface(), depth+1)
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Struct:
		return walkStruct(rv, depth)
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Key().Kind() != reflect.String {
			plain, err := normalize(rv.Interface())
			if err != nil {
				return nil, err
			}
			return walk(plain, depth)
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			if strings.HasPrefix(key, "_") {
				continue
			}
			clean, err := walk(iter.Value().Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			out[key] = clean
		}
		return out, nil
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return normalize(rv.Interface())
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			clean, err := walk(rv.Index(i).Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = clean
		}
		return out, nil
	}
	return nil, fmt.Errorf("sanitize: unsupported type %s", rv.Type())
}

// walkStruct follows encoding/json naming: tag names, "-", omitempty and
// promoted fields of untagged embedded structs. Direct fields win over
// promoted ones.
func walkStruct(rv reflect.Value, depth int) (any, error) {
	out := make(map[string]any)
	var embedded []reflect.Value

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := rv.Field(i)

		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				if fv.Kind() == reflect.Pointer {
					if fv.IsNil() {
						continue
					}
					fv = fv.Elem()
				}
				embedded = append(embedded, fv)
				continue
			}
		}
		if !f.IsExported() || !fv.CanInterface() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if strings.HasPrefix(name, "_") {
			continue
		}
		if strings.Contains(","+opts+",", ",omitempty,") && isEmpty(fv) {
			continue
		}

		clean, err := walk(fv.Interface(), depth+1)
		if err != nil {
			return nil, err
		}
		out[name] = clean
	}

	for _, ev := range embedded {
		promoted, err := walkStruct(ev, depth+1)
		if err != nil {
			return nil, err
		}
		for k, v := range promoted.(map[string]any) {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}
	return out, nil
}

func isEmpty(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Interface, reflect.Pointer:
		return v.IsZero()
	}
	return false
}

// normalize flattens a value that encodes itself to its JSON shape. Numbers
// are decoded as json.Number so large integers keep their precision.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("sanitize: encode %T: %w", v, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var plain any
	if err := dec.Decode(&plain); err != nil {
		return nil, fmt.Errorf("sanitize: decode %T: %w", v, err)
	}
	return plain, nil
}

// number converts a decoded json.Number to int64 when it is integral and
// fits, and to float64 otherwise.
func number(n json.Number) (any, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("sanitize: number %q: %w", n, err)
	}
	return f, nil
}

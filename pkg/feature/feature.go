// Package feature defines the canonical feature map passed between the
// contract parser, the scheduler, and the sandbox boundary. A Set maps
// feature names to values; the reserved keys "t", "m", and "e" carry the
// time-series itself.
package feature

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Reserved keys of a feature set. Every dataset carries times under "t"
// and measurements under "m"; the per-point measurement errors under "e"
// are optional.
const (
	KeyTime        = "t"
	KeyMeasurement = "m"
	KeyError       = "e"
)

// Set is a string-keyed feature map. Values are scalars (float64, int64,
// string, bool) or nested sequences of those.
type Set map[string]any

// Reserved reports whether key is one of the reserved time-series keys.
func Reserved(key string) bool {
	return key == KeyTime || key == KeyMeasurement || key == KeyError
}

// Clone returns a copy of the set with a fresh top-level map. Values are
// shared; callers must not mutate nested sequences of a clone.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge copies every entry of src into s. On key collision src wins.
func (s Set) Merge(src Set) {
	for k, v := range src {
		s[k] = v
	}
}

// Has reports whether the set contains key.
func (s Set) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Keys returns the set's keys in sorted order.
func (s Set) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Float coerces a scalar value to float64. It accepts the numeric types
// produced by Go literals, JSON decoding, and CBOR decoding.
func Float(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	}
	return 0, fmt.Errorf("not a number: %T", v)
}

// Floats coerces a sequence value to []float64. It accepts []float64
// directly and []any whose elements coerce via Float.
func Floats(v any) ([]float64, error) {
	switch seq := v.(type) {
	case []float64:
		out := make([]float64, len(seq))
		copy(out, seq)
		return out, nil
	case []any:
		out := make([]float64, len(seq))
		for i, el := range seq {
			f, err := Float(el)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = f
		}
		return out, nil
	}
	return nil, fmt.Errorf("not a numeric sequence: %T", v)
}

// Series is the aligned numeric triple of a time-series dataset.
// E may be empty when the source carried no measurement errors.
type Series struct {
	T []float64
	M []float64
	E []float64
}

// Validate checks that the series is non-empty and aligned.
func (s Series) Validate() error {
	if len(s.T) == 0 {
		return errors.New("series has no points")
	}
	if len(s.M) != len(s.T) {
		return fmt.Errorf("series length mismatch: %d times, %d measurements", len(s.T), len(s.M))
	}
	if len(s.E) != 0 && len(s.E) != len(s.T) {
		return fmt.Errorf("series length mismatch: %d times, %d errors", len(s.T), len(s.E))
	}
	return nil
}

// Apply writes the series into the set under the reserved keys. The
// error column is written only when present.
func (s Series) Apply(set Set) {
	set[KeyTime] = s.T
	set[KeyMeasurement] = s.M
	if len(s.E) > 0 {
		set[KeyError] = s.E
	}
}

// SeriesFrom extracts the aligned triple from a set's reserved keys.
func SeriesFrom(set Set) (Series, error) {
	var out Series
	t, ok := set[KeyTime]
	if !ok {
		return out, errors.New("set has no time column")
	}
	m, ok := set[KeyMeasurement]
	if !ok {
		return out, errors.New("set has no measurement column")
	}
	var err error
	if out.T, err = Floats(t); err != nil {
		return out, fmt.Errorf("time column: %w", err)
	}
	if out.M, err = Floats(m); err != nil {
		return out, fmt.Errorf("measurement column: %w", err)
	}
	if e, ok := set[KeyError]; ok {
		if out.E, err = Floats(e); err != nil {
			return out, fmt.Errorf("error column: %w", err)
		}
	}
	if err := out.Validate(); err != nil {
		return out, err
	}
	return out, nil
}

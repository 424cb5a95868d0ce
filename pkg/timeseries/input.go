package timeseries

import (
	"fmt"

	"github.com/cepheid-ml/cepheid/pkg/feature"
)

// Input is one dataset in any of the accepted shapes. Known carries
// metadata (and may itself be the source when it already holds the
// reserved keys); at most one of the series sources may be populated.
type Input struct {
	Path  string      `json:"path,omitempty"`
	Text  string      `json:"text,omitempty"`
	Rows  [][]float64 `json:"rows,omitempty"`
	Known feature.Set `json:"known,omitempty"`
}

// Resolve normalizes an input into the canonical feature map. Exactly
// one time-series source must be usable: a file path, CSV text, nested
// rows, or a pre-built set already holding both t and m. Zero or
// several sources fail with ErrMissingInput. Metadata from Known is
// carried over in every case.
func Resolve(in Input) (feature.Set, error) {
	out := in.Known.Clone()

	sources := 0
	if in.Path != "" {
		sources++
	}
	if in.Text != "" {
		sources++
	}
	if len(in.Rows) > 0 {
		sources++
	}
	prebuilt := out.Has(feature.KeyTime) && out.Has(feature.KeyMeasurement)
	if prebuilt {
		sources++
	}

	if sources == 0 {
		return nil, fmt.Errorf("dataset carries no time-series source: %w", ErrMissingInput)
	}
	if sources > 1 {
		return nil, fmt.Errorf("dataset carries %d time-series sources, want exactly one: %w", sources, ErrMissingInput)
	}

	var s feature.Series
	var err error
	switch {
	case in.Path != "":
		s, err = ParseFile(in.Path)
	case in.Text != "":
		s, err = ParseText(in.Text)
	case len(in.Rows) > 0:
		s, err = FromRows(in.Rows)
	default:
		// Pre-built set: validate alignment of the reserved keys.
		if _, err := feature.SeriesFrom(out); err != nil {
			return nil, &FormatError{Reason: err.Error()}
		}
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, &FormatError{Reason: err.Error()}
	}

	// Parsed columns fill only the reserved keys the set does not
	// already carry; a partially pre-built set keeps its own columns.
	if !out.Has(feature.KeyTime) {
		out[feature.KeyTime] = s.T
	}
	if !out.Has(feature.KeyMeasurement) {
		out[feature.KeyMeasurement] = s.M
	}
	if len(s.E) > 0 && !out.Has(feature.KeyError) {
		out[feature.KeyError] = s.E
	}
	if _, err := feature.SeriesFrom(out); err != nil {
		return nil, &FormatError{Reason: err.Error()}
	}
	return out, nil
}

// ResolveBatch normalizes a batch of datasets, positionally. The first
// failing dataset aborts the batch with its index in the error.
func ResolveBatch(inputs []Input) ([]feature.Set, error) {
	sets := make([]feature.Set, len(inputs))
	for i, in := range inputs {
		s, err := Resolve(in)
		if err != nil {
			return nil, fmt.Errorf("dataset %d: %w", i, err)
		}
		sets[i] = s
	}
	return sets, nil
}

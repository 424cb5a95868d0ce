package api

import (
	"strings"
	"testing"
)

// validRegister returns a minimal valid RegisterScriptRequest.
func validRegister() *RegisterScriptRequest {
	return &RegisterScriptRequest{
		Name:   "my-features",
		Source: "@myFeature(requires=['t'], provides=['n'])\ndef n(t):\n    return {'n': len(t)}\n",
	}
}

// validExtraction returns a minimal valid CreateExtractionRequest.
func validExtraction() *CreateExtractionRequest {
	return &CreateExtractionRequest{
		ScriptID: "fd_abcdefghijklmnopqrstuvwx",
		Series: []SeriesInput{
			{T: []float64{1, 2, 3}, M: []float64{10, 11, 12}},
		},
	}
}

func TestValidateRegisterScript(t *testing.T) {
	cfg := DefaultValidationConfig()

	tests := []struct {
		name      string
		modify    func(r *RegisterScriptRequest)
		wantErr   bool
		wantParam string
	}{
		{
			name:    "valid request accepted",
			modify:  func(r *RegisterScriptRequest) {},
			wantErr: false,
		},
		{
			name:      "missing name rejected",
			modify:    func(r *RegisterScriptRequest) { r.Name = "" },
			wantErr:   true,
			wantParam: "name",
		},
		{
			name:      "name with spaces rejected",
			modify:    func(r *RegisterScriptRequest) { r.Name = "my features" },
			wantErr:   true,
			wantParam: "name",
		},
		{
			name:      "name starting with digit rejected",
			modify:    func(r *RegisterScriptRequest) { r.Name = "9features" },
			wantErr:   true,
			wantParam: "name",
		},
		{
			name:      "overlong name rejected",
			modify:    func(r *RegisterScriptRequest) { r.Name = "a" + strings.Repeat("b", cfg.MaxNameLength) },
			wantErr:   true,
			wantParam: "name",
		},
		{
			name:      "missing source rejected",
			modify:    func(r *RegisterScriptRequest) { r.Source = "" },
			wantErr:   true,
			wantParam: "source",
		},
		{
			name:      "oversized source rejected",
			modify:    func(r *RegisterScriptRequest) { r.Source = strings.Repeat("x", cfg.MaxSourceSize+1) },
			wantErr:   true,
			wantParam: "source",
		},
		{
			name:    "underscores and hyphens accepted",
			modify:  func(r *RegisterScriptRequest) { r.Name = "freq_analysis-v2" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRegister()
			tt.modify(req)

			apiErr := ValidateRegisterScript(req, cfg)

			if !tt.wantErr {
				if apiErr != nil {
					t.Errorf("ValidateRegisterScript() unexpected error: %v", apiErr)
				}
				return
			}
			if apiErr == nil {
				t.Fatal("ValidateRegisterScript() expected error, got nil")
			}
			if apiErr.Type != ErrorTypeInvalidRequest {
				t.Errorf("error type = %q, want %q", apiErr.Type, ErrorTypeInvalidRequest)
			}
			if apiErr.Param != tt.wantParam {
				t.Errorf("error param = %q, want %q", apiErr.Param, tt.wantParam)
			}
		})
	}
}

func TestValidateCreateExtraction(t *testing.T) {
	cfg := DefaultValidationConfig()

	tests := []struct {
		name    string
		modify  func(r *CreateExtractionRequest)
		wantErr bool
	}{
		{
			name:    "valid request accepted",
			modify:  func(r *CreateExtractionRequest) {},
			wantErr: false,
		},
		{
			name: "neither script_id nor source rejected",
			modify: func(r *CreateExtractionRequest) {
				r.ScriptID = ""
				r.Source = ""
			},
			wantErr: true,
		},
		{
			name: "both script_id and source rejected",
			modify: func(r *CreateExtractionRequest) {
				r.Source = "def f(): pass"
			},
			wantErr: true,
		},
		{
			name: "malformed script_id rejected",
			modify: func(r *CreateExtractionRequest) {
				r.ScriptID = "fd_short"
			},
			wantErr: true,
		},
		{
			name: "inline source accepted",
			modify: func(r *CreateExtractionRequest) {
				r.ScriptID = ""
				r.Source = "def f(): pass"
			},
			wantErr: false,
		},
		{
			name: "empty series rejected",
			modify: func(r *CreateExtractionRequest) {
				r.Series = nil
			},
			wantErr: true,
		},
		{
			name: "csv series accepted",
			modify: func(r *CreateExtractionRequest) {
				r.Series = []SeriesInput{{CSV: "1,10\n2,11\n"}}
			},
			wantErr: false,
		},
		{
			name: "series with both csv and arrays rejected",
			modify: func(r *CreateExtractionRequest) {
				r.Series[0].CSV = "1,10\n"
			},
			wantErr: true,
		},
		{
			name: "series with neither csv nor arrays rejected",
			modify: func(r *CreateExtractionRequest) {
				r.Series = []SeriesInput{{Known: map[string]any{"coords": 2}}}
			},
			wantErr: true,
		},
		{
			name: "mismatched t and m lengths rejected",
			modify: func(r *CreateExtractionRequest) {
				r.Series[0].M = []float64{10}
			},
			wantErr: true,
		},
		{
			name: "mismatched e length rejected",
			modify: func(r *CreateExtractionRequest) {
				r.Series[0].E = []float64{0.1}
			},
			wantErr: true,
		},
		{
			name: "matching e length accepted",
			modify: func(r *CreateExtractionRequest) {
				r.Series[0].E = []float64{0.1, 0.2, 0.3}
			},
			wantErr: false,
		},
		{
			name: "negative timeout rejected",
			modify: func(r *CreateExtractionRequest) {
				r.TimeoutSeconds = -1
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validExtraction()
			tt.modify(req)

			apiErr := ValidateCreateExtraction(req, cfg)

			if tt.wantErr && apiErr == nil {
				t.Error("ValidateCreateExtraction() expected error, got nil")
			}
			if !tt.wantErr && apiErr != nil {
				t.Errorf("ValidateCreateExtraction() unexpected error: %v", apiErr)
			}
		})
	}
}

func TestValidateCreateExtractionLimits(t *testing.T) {
	cfg := ValidationConfig{MaxSeries: 2, MaxPoints: 5, MaxSourceSize: 100}

	req := &CreateExtractionRequest{
		Source: "def f(): pass",
		Series: []SeriesInput{
			{T: []float64{1}, M: []float64{1}},
			{T: []float64{1}, M: []float64{1}},
			{T: []float64{1}, M: []float64{1}},
		},
	}
	if apiErr := ValidateCreateExtraction(req, cfg); apiErr == nil {
		t.Error("expected series-count limit error, got nil")
	}

	req.Series = req.Series[:1]
	req.Series[0] = SeriesInput{
		T: []float64{1, 2, 3, 4, 5, 6},
		M: []float64{1, 2, 3, 4, 5, 6},
	}
	if apiErr := ValidateCreateExtraction(req, cfg); apiErr == nil {
		t.Error("expected point-count limit error, got nil")
	}
}

func TestValidateCreateVerification(t *testing.T) {
	cfg := DefaultValidationConfig()

	if apiErr := ValidateCreateVerification(&CreateVerificationRequest{}, cfg); apiErr == nil {
		t.Error("empty request: expected error, got nil")
	}

	ok := &CreateVerificationRequest{Source: "def f(): pass"}
	if apiErr := ValidateCreateVerification(ok, cfg); apiErr != nil {
		t.Errorf("source-only request: unexpected error: %v", apiErr)
	}

	both := &CreateVerificationRequest{ScriptID: "fd_abcdefghijklmnopqrstuvwx", Source: "x"}
	if apiErr := ValidateCreateVerification(both, cfg); apiErr == nil {
		t.Error("both fields: expected error, got nil")
	}
}

func TestValidateScriptName(t *testing.T) {
	valid := []string{"a", "lomb-scargle", "freq_analysis", "V2", "a1-b2_c3"}
	for _, name := range valid {
		if !ValidateScriptName(name) {
			t.Errorf("ValidateScriptName(%q) = false, want true", name)
		}
	}

	invalid := []string{"", "1abc", "-abc", "_abc", "has space", "has.dot", "ünïcode"}
	for _, name := range invalid {
		if ValidateScriptName(name) {
			t.Errorf("ValidateScriptName(%q) = true, want false", name)
		}
	}
}

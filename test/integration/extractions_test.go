package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/cepheid-ml/cepheid/pkg/api"
)

func TestExtractionInlineArrays(t *testing.T) {
	resp := postJSON(t, testEnv.BaseURL()+"/v1/extractions", map[string]any{
		"source": avgScript,
		"series": []map[string]any{
			{"t": []float64{1, 2, 3}, "m": []float64{10, 11, 12}},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp))
	}

	var ext api.Extraction
	decodeJSON(t, resp, &ext)

	if !strings.HasPrefix(ext.ID, "ext_") {
		t.Errorf("expected ext_ prefix on ID, got %q", ext.ID)
	}
	if ext.Object != api.ObjectExtraction {
		t.Errorf("expected object %q, got %q", api.ObjectExtraction, ext.Object)
	}
	if ext.Mode != "sandboxed" {
		t.Errorf("expected sandboxed mode, got %q", ext.Mode)
	}
	if len(ext.Results) != 1 {
		t.Fatalf("expected 1 result set, got %d", len(ext.Results))
	}
	if got, ok := ext.Results[0]["avg_m"].(float64); !ok || got != 11.0 {
		t.Errorf("expected avg_m 11.0, got %v", ext.Results[0]["avg_m"])
	}
}

func TestExtractionCSVText(t *testing.T) {
	resp := postJSON(t, testEnv.BaseURL()+"/v1/extractions", map[string]any{
		"source": avgScript,
		"series": []map[string]any{
			{"csv": "1,10\n2,11\n3,12\n"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp))
	}

	var ext api.Extraction
	decodeJSON(t, resp, &ext)
	if len(ext.Results) != 1 {
		t.Fatalf("expected 1 result set, got %d", len(ext.Results))
	}
	if got, ok := ext.Results[0]["avg_m"].(float64); !ok || got != 11.0 {
		t.Errorf("expected avg_m 11.0, got %v", ext.Results[0]["avg_m"])
	}
}

func TestExtractionMultipleSeries(t *testing.T) {
	resp := postJSON(t, testEnv.BaseURL()+"/v1/extractions", map[string]any{
		"source": avgScript,
		"series": []map[string]any{
			{"t": []float64{1, 2, 3}, "m": []float64{10, 11, 12}},
			{"t": []float64{1, 2, 3}, "m": []float64{20, 22, 24}},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp))
	}

	var ext api.Extraction
	decodeJSON(t, resp, &ext)
	if len(ext.Results) != 2 {
		t.Fatalf("expected 2 result sets, got %d", len(ext.Results))
	}
	if got := ext.Results[0]["avg_m"].(float64); got != 11.0 {
		t.Errorf("dataset 0: expected avg_m 11.0, got %v", got)
	}
	if got := ext.Results[1]["avg_m"].(float64); got != 22.0 {
		t.Errorf("dataset 1: expected avg_m 22.0, got %v", got)
	}
}

func TestExtractionByScriptID(t *testing.T) {
	id := registerScript(t, "extract-chained", chainedScript)

	resp := postJSON(t, testEnv.BaseURL()+"/v1/extractions", map[string]any{
		"script_id": id,
		"series": []map[string]any{
			{"t": []float64{1, 2, 3}, "m": []float64{10, 11, 12}},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp))
	}

	var ext api.Extraction
	decodeJSON(t, resp, &ext)
	if ext.ScriptID != id {
		t.Errorf("expected script_id %q echoed, got %q", id, ext.ScriptID)
	}
	if len(ext.Results) != 1 {
		t.Fatalf("expected 1 result set, got %d", len(ext.Results))
	}
	if got := ext.Results[0]["avg_m"].(float64); got != 11.0 {
		t.Errorf("expected avg_m 11.0, got %v", got)
	}
	if bright, ok := ext.Results[0]["bright"].(bool); !ok || !bright {
		t.Errorf("expected bright true from the dependent function, got %v", ext.Results[0]["bright"])
	}
}

func TestExtractionUnknownScript(t *testing.T) {
	resp := postJSON(t, testEnv.BaseURL()+"/v1/extractions", map[string]any{
		"script_id": "fd_aaaaaaaaaaaaaaaaaaaaaaaa",
		"series": []map[string]any{
			{"t": []float64{1}, "m": []float64{10}},
		},
	})
	apiErr := decodeError(t, resp, http.StatusNotFound)
	if apiErr.Type != api.ErrorTypeNotFound {
		t.Errorf("expected not_found error, got %q", apiErr.Type)
	}
}

func TestExtractionScriptFailure(t *testing.T) {
	resp := postJSON(t, testEnv.BaseURL()+"/v1/extractions", map[string]any{
		"source": failingScript,
		"series": []map[string]any{
			{"t": []float64{1}, "m": []float64{10}},
		},
	})
	apiErr := decodeError(t, resp, http.StatusInternalServerError)
	if apiErr.Code != "script_execution_error" {
		t.Errorf("expected script_execution_error code, got %q", apiErr.Code)
	}
	if !strings.Contains(apiErr.Message, "synthetic failure") {
		t.Errorf("expected the script's failure in the message, got %q", apiErr.Message)
	}
}

func TestExtractionMismatchedArrays(t *testing.T) {
	resp := postJSON(t, testEnv.BaseURL()+"/v1/extractions", map[string]any{
		"source": avgScript,
		"series": []map[string]any{
			{"t": []float64{1, 2}, "m": []float64{10, 11, 12}},
		},
	})
	apiErr := decodeError(t, resp, http.StatusBadRequest)
	if apiErr.Param != "series[0]" {
		t.Errorf("expected param series[0], got %q", apiErr.Param)
	}
}

func TestExtractionInlineAndCSVExclusive(t *testing.T) {
	resp := postJSON(t, testEnv.BaseURL()+"/v1/extractions", map[string]any{
		"source": avgScript,
		"series": []map[string]any{
			{"t": []float64{1}, "m": []float64{10}, "csv": "1,10\n"},
		},
	})
	apiErr := decodeError(t, resp, http.StatusBadRequest)
	if !strings.Contains(apiErr.Message, "mutually exclusive") {
		t.Errorf("unexpected message: %q", apiErr.Message)
	}
}

func TestExtractionBothScriptRefs(t *testing.T) {
	resp := postJSON(t, testEnv.BaseURL()+"/v1/extractions", map[string]any{
		"script_id": "fd_aaaaaaaaaaaaaaaaaaaaaaaa",
		"source":    avgScript,
		"series": []map[string]any{
			{"t": []float64{1}, "m": []float64{10}},
		},
	})
	apiErr := decodeError(t, resp, http.StatusBadRequest)
	if apiErr.Param != "script_id" {
		t.Errorf("expected param script_id, got %q", apiErr.Param)
	}
}

func TestExtractionNoSeries(t *testing.T) {
	resp := postJSON(t, testEnv.BaseURL()+"/v1/extractions", map[string]any{
		"source": avgScript,
		"series": []map[string]any{},
	})
	apiErr := decodeError(t, resp, http.StatusBadRequest)
	if apiErr.Param != "series" {
		t.Errorf("expected param series, got %q", apiErr.Param)
	}
}

func TestExtractionMalformedCSV(t *testing.T) {
	resp := postJSON(t, testEnv.BaseURL()+"/v1/extractions", map[string]any{
		"source": avgScript,
		"series": []map[string]any{
			{"csv": "1,abc\n"},
		},
	})
	apiErr := decodeError(t, resp, http.StatusBadRequest)
	if apiErr.Param != "series" {
		t.Errorf("expected param series, got %q", apiErr.Param)
	}
	if !strings.Contains(apiErr.Message, "non-numeric") {
		t.Errorf("unexpected message: %q", apiErr.Message)
	}
}

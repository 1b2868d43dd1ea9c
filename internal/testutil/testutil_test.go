package testutil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
)

func TestAssertHelpers(t *testing.T) {
	t.Parallel()

	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertNoError(t, nil)
	AssertError(t, errors.New("boom"))
}

func TestNewTestRequest(t *testing.T) {
	t.Parallel()

	req := NewTestRequest(http.MethodGet, "/api/runs")
	if req.Method != http.MethodGet {
		t.Errorf("method = %s, want GET", req.Method)
	}
	if req.URL.Path != "/api/runs" {
		t.Errorf("path = %s, want /api/runs", req.URL.Path)
	}
	if req.Body != nil {
		body, _ := io.ReadAll(req.Body)
		if len(body) != 0 {
			t.Errorf("body = %q, want empty", body)
		}
	}
}

func TestNewJSONRequest(t *testing.T) {
	t.Parallel()

	body := `{"kind":"timescales","lagtimes":"1,2,5"}`
	req := NewJSONRequest(http.MethodPost, "/api/sweep", body)

	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	data, err := io.ReadAll(req.Body)
	AssertNoError(t, err)
	if string(data) != body {
		t.Errorf("body = %q, want %q", data, body)
	}

	var decoded map[string]string
	AssertNoError(t, json.Unmarshal(data, &decoded))
	if decoded["kind"] != "timescales" {
		t.Errorf("kind = %q, want timescales", decoded["kind"])
	}
}

func TestNewTestRecorder(t *testing.T) {
	t.Parallel()

	rec := NewTestRecorder()
	rec.WriteHeader(http.StatusTeapot)
	AssertStatusCode(t, rec.Code, http.StatusTeapot)
}

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding envelope from %q: %v", w.Body.String(), err)
	}
	return env
}

func TestWriteJSON(t *testing.T) {
	t.Run("wraps payload in data", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeJSON(w, http.StatusCreated, map[string]string{"number": "5551234"})

		if w.Code != http.StatusCreated {
			t.Errorf("status = %d, want 201", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}

		env := decodeEnvelope(t, w)
		if env.Error != "" {
			t.Errorf("error = %q, want empty", env.Error)
		}
		data, ok := env.Data.(map[string]any)
		if !ok || data["number"] != "5551234" {
			t.Errorf("data = %#v", env.Data)
		}
	})

	t.Run("nil data stays null", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeJSON(w, http.StatusOK, nil)
		if env := decodeEnvelope(t, w); env.Data != nil {
			t.Errorf("data = %v, want nil", env.Data)
		}
	})

	t.Run("error field omitted on success", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeJSON(w, http.StatusOK, "ok")
		if strings.Contains(w.Body.String(), `"error"`) {
			t.Errorf("error field present in %s", w.Body.String())
		}
	})
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusBadRequest, "target is required")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	env := decodeEnvelope(t, w)
	if env.Error != "target is required" {
		t.Errorf("error = %q", env.Error)
	}
	if env.Data != nil {
		t.Errorf("data = %v, want nil", env.Data)
	}
}

func TestReadJSON(t *testing.T) {
	t.Run("decodes valid body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"target":"5551234","action":"ordinary"}`))
		var dst struct {
			Target string `json:"target"`
			Action string `json:"action"`
		}
		if msg := readJSON(r, &dst); msg != "" {
			t.Fatalf("readJSON() = %q, want empty", msg)
		}
		if dst.Target != "5551234" || dst.Action != "ordinary" {
			t.Errorf("decoded %+v", dst)
		}
	})

	badBodies := []struct {
		name string
		body string
		want string
	}{
		{"empty body", "", "request body must not be empty"},
		{"malformed json", "{bad", "malformed json"},
		{"trailing object", `{"a":1}{"a":2}`, "request body must contain a single json object"},
	}
	for _, tt := range badBodies {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst struct {
				A int `json:"a"`
			}
			if msg := readJSON(r, &dst); msg != tt.want {
				t.Errorf("readJSON() = %q, want %q", msg, tt.want)
			}
		})
	}

	t.Run("unknown field is named", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"target":"x","bogus":1}`))
		var dst struct {
			Target string `json:"target"`
		}
		if msg := readJSON(r, &dst); !strings.HasPrefix(msg, "unknown field") {
			t.Errorf("readJSON() = %q, want unknown field error", msg)
		}
	})

	t.Run("wrong type is named", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"retention_days":"ninety"}`))
		var dst struct {
			RetentionDays int `json:"retention_days"`
		}
		msg := readJSON(r, &dst)
		if !strings.Contains(msg, "retention_days") {
			t.Errorf("readJSON() = %q, want the field named", msg)
		}
	})
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
		wantErr    string
	}{
		{"defaults", "", defaultLimit, 0, ""},
		{"explicit values", "?limit=50&offset=10", 50, 10, ""},
		{"limit clamped", "?limit=500", maxLimit, 0, ""},
		{"zero offset", "?offset=0", defaultLimit, 0, ""},
		{"limit zero", "?limit=0", 0, 0, "limit must be a positive integer"},
		{"limit negative", "?limit=-5", 0, 0, "limit must be a positive integer"},
		{"limit garbage", "?limit=abc", 0, 0, "limit must be a positive integer"},
		{"offset negative", "?offset=-1", 0, 0, "offset must be a non-negative integer"},
		{"offset garbage", "?offset=abc", 0, 0, "offset must be a non-negative integer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/history"+tt.query, nil)
			p, msg := parsePagination(r)
			if msg != tt.wantErr {
				t.Fatalf("error = %q, want %q", msg, tt.wantErr)
			}
			if tt.wantErr != "" {
				return
			}
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("got limit=%d offset=%d, want %d/%d", p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestPaginatedResponseShape(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  []string{"a", "b"},
		Total:  10,
		Limit:  20,
		Offset: 0,
	})

	env := decodeEnvelope(t, w)
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T", env.Data)
	}
	if data["total"] != float64(10) || data["limit"] != float64(20) || data["offset"] != float64(0) {
		t.Errorf("pagination fields = %v", data)
	}
	items, ok := data["items"].([]any)
	if !ok || len(items) != 2 {
		t.Errorf("items = %#v", data["items"])
	}
}

package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResponseBuilder_Envelope(t *testing.T) {
	w := httptest.NewRecorder()

	NewResponse().
		Status(http.StatusCreated).
		Data(map[string]string{"id": "e1"}).
		Notice("heads up").
		Header("X-Test", "1").
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusCreated)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := w.Header().Get("X-Test"); got != "1" {
		t.Errorf("X-Test = %q, want 1", got)
	}

	var body struct {
		Data   map[string]string `json:"data"`
		Notice string            `json:"notice"`
		Error  *string           `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Data["id"] != "e1" || body.Notice != "heads up" {
		t.Errorf("body = %+v", body)
	}
	if body.Error != nil {
		t.Errorf("error field present on success: %q", *body.Error)
	}
}

func TestResponseBuilder_EmptyListStaysAList(t *testing.T) {
	w := httptest.NewRecorder()
	NewResponse().Data([]entryDTO{}).Write(w)

	if got, want := w.Body.String(), "{\"data\":[]}\n"; got != want {
		t.Errorf("Body = %q, want %q", got, want)
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name   string
		build  *ResponseBuilder
		status int
		header string
	}{
		{"bad request", BadRequestError("amount: invalid amount"), http.StatusBadRequest, ""},
		{"unauthorized", UnauthorizedError(), http.StatusUnauthorized, "WWW-Authenticate"},
		{"not found", NotFoundError("Entry not found"), http.StatusNotFound, ""},
		{"unavailable", ServiceUnavailableError(), http.StatusServiceUnavailable, "Retry-After"},
		{"internal", InternalServerError(), http.StatusInternalServerError, ""},
		{"rate limited", TooManyRequestsError(), http.StatusTooManyRequests, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.build.Write(w)

			if w.Code != tt.status {
				t.Errorf("Status code = %d, want %d", w.Code, tt.status)
			}
			if tt.header != "" && w.Header().Get(tt.header) == "" {
				t.Errorf("%s header not set", tt.header)
			}
			var body envelope
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body.Error == "" {
				t.Error("error message missing")
			}
		})
	}
}

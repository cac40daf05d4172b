package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func runCORS(allowed []string, method, origin string) *httptest.ResponseRecorder {
	handler := CORS(allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(method, "/api/v1/sessions", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestCORSExplicitOriginGetsCredentials(t *testing.T) {
	rr := runCORS([]string{"https://app.example.com"}, http.MethodGet, "https://app.example.com")

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q, want true for an explicit origin", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, Last-Event-ID" {
		t.Errorf("Allow-Headers = %q", got)
	}
	if rr.Code != http.StatusTeapot {
		t.Errorf("status = %d, want the wrapped handler's response", rr.Code)
	}
}

func TestCORSWildcardNeverGrantsCredentials(t *testing.T) {
	rr := runCORS([]string{"*"}, http.MethodGet, "https://anywhere.example.com")

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://anywhere.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("Allow-Credentials = %q, want unset under wildcard", got)
	}
}

func TestCORSUnknownOriginGetsNoHeaders(t *testing.T) {
	rr := runCORS([]string{"https://app.example.com"}, http.MethodGet, "https://evil.example.com")

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want unset for unknown origin", got)
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	rr := runCORS([]string{"https://app.example.com"}, http.MethodOptions, "https://app.example.com")

	if rr.Code != http.StatusOK {
		t.Errorf("preflight status = %d, want 200", rr.Code)
	}
	if rr.Code == http.StatusTeapot {
		t.Error("preflight reached the wrapped handler")
	}
}

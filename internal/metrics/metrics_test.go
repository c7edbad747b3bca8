package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// Websocket upgrades need the instrumented writer to keep exposing the
// underlying connection.
func TestInstrumentHandlerPreservesHijacker(t *testing.T) {
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("response writer does not expose http.Hijacker")
			return
		}
		conn, buf, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		defer conn.Close()
		buf.WriteString("HTTP/1.1 204 No Content\r\nConnection: close\r\n\r\n")
		buf.Flush()
	}))

	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
}

func TestCanonicalPath(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"/", "/"},
		{"/healthz", "/healthz"},
		{"/api", "/api"},
		{"/api/modules", "/api/modules"},
		{"/api/modules/products/load", "/api/modules"},
		{"/frame/billing/invoices/7", "/frame"},
	}
	for _, tc := range cases {
		if got := canonicalPath(tc.raw); got != tc.want {
			t.Errorf("canonicalPath(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/microshell/shell_host/internal/errors"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) Token(context.Context) (string, error) { return s.token, s.err }

func TestClientAttachesBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{
		BaseURL: srv.URL,
		Tokens:  staticTokens{token: "abc123"},
	})

	var out struct {
		OK bool `json:"ok"`
	}
	if err := client.GetJSON(context.Background(), "/items", &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if gotAuth != "Bearer abc123" {
		t.Errorf("Authorization = %q, want Bearer abc123", gotAuth)
	}
	if !out.OK {
		t.Error("response not decoded")
	}
}

func TestClientOmitsHeaderWithoutToken(t *testing.T) {
	cases := []struct {
		name   string
		tokens TokenSource
	}{
		{"no source", nil},
		{"empty token", staticTokens{}},
		{"source failure", staticTokens{err: fmt.Errorf("store offline")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var gotAuth string
			var called bool
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				gotAuth = r.Header.Get("Authorization")
				w.WriteHeader(http.StatusNoContent)
			}))
			defer srv.Close()

			client := NewClient(ClientConfig{BaseURL: srv.URL, Tokens: tc.tokens})
			resp, err := client.Get(context.Background(), "/items")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			resp.Body.Close()

			if !called {
				t.Fatal("request never reached the server")
			}
			if gotAuth != "" {
				t.Errorf("Authorization = %q, want empty", gotAuth)
			}
		})
	}
}

func TestClientResolvesTokenPerRequest(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	current := "first"
	client := NewClient(ClientConfig{
		BaseURL: srv.URL,
		Tokens: TokenSourceFunc(func(context.Context) (string, error) {
			return current, nil
		}),
	})

	for _, token := range []string{"first", "second"} {
		current = token
		resp, err := client.Get(context.Background(), "/items")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		resp.Body.Close()
	}

	want := []string{"Bearer first", "Bearer second"}
	if len(seen) != len(want) {
		t.Fatalf("got %d requests, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("request %d Authorization = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestClientPostEncodesBody(t *testing.T) {
	type item struct {
		Name string `json:"name"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var in item
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if in.Name != "widget" {
			t.Errorf("body name = %q", in.Name)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"name":"widget"}`)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	var out item
	if err := client.PostJSON(context.Background(), "/items", item{Name: "widget"}, &out); err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if out.Name != "widget" {
		t.Errorf("response name = %q", out.Name)
	}
}

func TestClientRawVerbsRejectNonSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	resp, err := client.Get(context.Background(), "/items")
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected failure for 500 response")
	}
	if resp != nil {
		t.Errorf("resp = %v, want nil on failure", resp)
	}
	svcErr := errors.GetServiceError(err)
	if svcErr == nil {
		t.Fatalf("error %T is not a service error", err)
	}
	if svcErr.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", svcErr.HTTPStatus)
	}
}

func TestDecodeResponseTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	err := client.GetJSON(context.Background(), "/items", &struct{}{})
	if err == nil {
		t.Fatal("expected failure for 502 response")
	}
	svcErr := errors.GetServiceError(err)
	if svcErr == nil {
		t.Fatalf("error %T is not a service error", err)
	}
	if svcErr.Code != errors.CodeTransportFailure {
		t.Errorf("code = %s, want %s", svcErr.Code, errors.CodeTransportFailure)
	}
	if svcErr.HTTPStatus != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", svcErr.HTTPStatus)
	}
}

func TestDecodeResponseEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	var out struct{ Name string }
	if err := client.DeleteJSON(context.Background(), "/items/1", &out); err != nil {
		t.Fatalf("DeleteJSON: %v", err)
	}
}

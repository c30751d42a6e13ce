package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProbe(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer healthy.Close()
	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	if code := probe(healthy.URL + "/healthz"); code != 0 {
		t.Fatalf("expected 0 for healthy server, got %d", code)
	}
	if code := probe(unhealthy.URL + "/healthz"); code != 1 {
		t.Fatalf("expected 1 for unhealthy server, got %d", code)
	}
	if code := probe("http://127.0.0.1:1/healthz"); code != 1 {
		t.Fatalf("expected 1 for unreachable server, got %d", code)
	}
}

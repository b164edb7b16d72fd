package validate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSettleWaitsForDelay(t *testing.T) {
	start := time.Now()
	if err := (Settle{Delay: 20 * time.Millisecond}).Check(context.Background()); err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("Settle returned after %v", elapsed)
	}
}

func TestSettleHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (Settle{Delay: time.Hour}).Check(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestChainStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	var ran []int
	chain := Chain{
		ProbeFunc(func(context.Context) error { ran = append(ran, 1); return nil }),
		ProbeFunc(func(context.Context) error { ran = append(ran, 2); return boom }),
		ProbeFunc(func(context.Context) error { ran = append(ran, 3); return nil }),
	}
	if err := chain.Check(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(ran) != 2 {
		t.Fatalf("expected two probes to run, got %v", ran)
	}
}

func TestClusterHealthRetriesUntilReady(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_cluster/health" {
			http.NotFound(w, r)
			return
		}
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"cluster_name":"mimir","status":"yellow"}`)
	}))
	defer srv.Close()

	probe := ClusterHealth{Endpoint: srv.URL + "/", Timeout: 5 * time.Second, Client: srv.Client()}
	if err := probe.Check(context.Background()); err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestClusterHealthGivesUpOnClientError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "no such index", http.StatusNotFound)
	}))
	defer srv.Close()

	probe := ClusterHealth{Endpoint: srv.URL, Timeout: 5 * time.Second, Client: srv.Client()}
	if err := probe.Check(context.Background()); err == nil {
		t.Fatal("expected error for 404")
	}
	if hits.Load() != 1 {
		t.Fatalf("client errors must not be retried, got %d attempts", hits.Load())
	}
}

func TestClusterHealthRedTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"red"}`)
	}))
	defer srv.Close()

	probe := ClusterHealth{Endpoint: srv.URL, Timeout: 300 * time.Millisecond, Client: srv.Client()}
	if err := probe.Check(context.Background()); !errors.Is(err, ErrRed) {
		t.Fatalf("expected ErrRed, got %v", err)
	}
}

package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"roamgo/pkg/config"
)

func TestOnline_CachesVerdict(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(config.ConnectivityConfig{
		ProbeURL: srv.URL,
		CacheFor: config.Duration(time.Minute),
		Timeout:  config.Duration(time.Second),
	})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if !c.Online(context.Background()) || !c.Online(context.Background()) {
		t.Fatal("expected online")
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("expected 1 probe, got %d", got)
	}

	now = now.Add(2 * time.Minute)
	c.Online(context.Background())
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("expected re-probe after window, got %d", got)
	}
}

func TestOnline_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(config.ConnectivityConfig{ProbeURL: url, Timeout: config.Duration(time.Second)})
	if c.Online(context.Background()) {
		t.Error("closed server should be offline")
	}
}

func TestForce(t *testing.T) {
	c := New(config.ConnectivityConfig{ProbeURL: "http://127.0.0.1:1", Timeout: config.Duration(100 * time.Millisecond)})
	off := false
	c.Force(&off)
	if c.Online(context.Background()) {
		t.Error("forced offline")
	}
	on := true
	c.Force(&on)
	if !c.Online(context.Background()) {
		t.Error("forced online")
	}
}

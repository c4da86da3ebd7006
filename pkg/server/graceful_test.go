package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestGracefulServer_Reload(t *testing.T) {
	gs := NewGracefulServer(":0", http.NotFoundHandler(), nil)

	// No reload function is not an error.
	if err := gs.Reload(); err != nil {
		t.Fatalf("Reload() without func error = %v", err)
	}

	called := 0
	gs.SetReloadFunc(func() error {
		called++
		return nil
	})
	if err := gs.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if called != 1 {
		t.Errorf("reload func called %d times, want 1", called)
	}

	want := errors.New("bad config")
	gs.SetReloadFunc(func() error { return want })
	if err := gs.Reload(); !errors.Is(err, want) {
		t.Errorf("Reload() error = %v, want %v", err, want)
	}
	if gs.IsShuttingDown() {
		t.Error("reload must not start a shutdown")
	}
}

func TestGracefulServer_ServeUntilCancelled(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	})
	gs := NewGracefulServer(l.Addr().String(), handler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gs.Serve(ctx, l, time.Second) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}

	if !gs.IsShuttingDown() {
		t.Error("IsShuttingDown() = false after cancel")
	}
	select {
	case <-gs.ShutdownChannel():
	default:
		t.Error("shutdown channel not closed")
	}
	// A second shutdown is a no-op.
	if err := gs.Shutdown(time.Second); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

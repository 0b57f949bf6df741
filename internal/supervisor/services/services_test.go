// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// mockHTTPServer blocks in ListenAndServe until Shutdown is called.
type mockHTTPServer struct {
	startErr error
	done     chan struct{}
	shutdown atomic.Bool
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{done: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	if m.startErr != nil {
		return m.startErr
	}
	<-m.done
	return nil
}

func (m *mockHTTPServer) Shutdown(_ context.Context) error {
	m.shutdown.Store(true)
	close(m.done)
	return nil
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	srv := newMockHTTPServer()
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop within deadline")
	}
	if !srv.shutdown.Load() {
		t.Error("expected Shutdown to be called")
	}
}

func TestHTTPServerServiceStartFailure(t *testing.T) {
	srv := newMockHTTPServer()
	srv.startErr = errors.New("port in use")
	svc := NewHTTPServerService(srv, time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, srv.startErr) {
		t.Errorf("expected wrapped start error, got %v", err)
	}
}

func TestHTTPServerServiceString(t *testing.T) {
	if got := NewHTTPServerService(newMockHTTPServer(), 0).String(); got != "http-server" {
		t.Errorf("unexpected name %q", got)
	}
}

// mockBroker reports configurable liveness.
type mockBroker struct {
	running  atomic.Bool
	shutdown atomic.Bool
}

func (m *mockBroker) IsRunning() bool { return m.running.Load() }

func (m *mockBroker) Shutdown(_ context.Context) error {
	m.shutdown.Store(true)
	return nil
}

func TestBrokerServiceShutsDownOnCancel(t *testing.T) {
	broker := &mockBroker{}
	broker.running.Store(true)

	svc := NewBrokerService(broker, time.Second)
	svc.checkInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop within deadline")
	}
	if !broker.shutdown.Load() {
		t.Error("expected broker Shutdown to be called")
	}
}

func TestBrokerServiceReportsDeadBroker(t *testing.T) {
	broker := &mockBroker{} // never running

	svc := NewBrokerService(broker, time.Second)
	svc.checkInterval = 10 * time.Millisecond

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(context.Background()) }()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected error for dead broker")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("dead broker not detected within deadline")
	}
	if broker.shutdown.Load() {
		t.Error("dead broker must not be shut down again")
	}
}

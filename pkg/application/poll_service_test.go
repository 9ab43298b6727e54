package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/offsync/pkg/application"
	"github.com/felixgeelhaar/offsync/pkg/domain/incident"
	"github.com/felixgeelhaar/offsync/pkg/domain/tracking"
)

type stubReconciler struct {
	mu        sync.Mutex
	calls     int
	snapshots []incident.Snapshot
	err       error
	ran       chan struct{}
}

func (r *stubReconciler) Reconcile(_ context.Context, s incident.Snapshot) (*application.CycleReport, error) {
	r.mu.Lock()
	r.calls++
	r.snapshots = append(r.snapshots, s)
	r.mu.Unlock()
	if r.ran != nil {
		select {
		case r.ran <- struct{}{}:
		default:
		}
	}
	return &application.CycleReport{}, r.err
}

func (r *stubReconciler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestPollService_RunOnce(t *testing.T) {
	provider := &fakeProvider{rec: &recorder{}, snapshot: incident.Snapshot{openIncident(1, "alice")}}
	engine := &stubReconciler{}
	p := application.NewPollService(provider, engine, 0, nil)

	var reports int
	p.OnReport(func(*application.CycleReport) { reports++ })

	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if engine.count() != 1 || len(engine.snapshots[0]) != 1 {
		t.Errorf("engine calls = %d, snapshots = %v", engine.count(), engine.snapshots)
	}
	if reports != 1 {
		t.Errorf("reports = %d", reports)
	}
	if p.Interval() != application.DefaultInterval {
		t.Errorf("interval = %v", p.Interval())
	}
}

func TestPollService_SnapshotFailureIsRecoverable(t *testing.T) {
	provider := &fakeProvider{rec: &recorder{}, listErr: errRemote}
	engine := &stubReconciler{}
	p := application.NewPollService(provider, engine, time.Second, nil)

	report, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned %v", err)
	}
	if !errors.Is(report.SnapshotErr, errRemote) || !report.HasFailures() {
		t.Errorf("report = %+v", report)
	}
	if engine.count() != 0 {
		t.Error("reconciled without a snapshot")
	}
}

func TestPollService_StoreFailureStopsRun(t *testing.T) {
	provider := &fakeProvider{rec: &recorder{}}
	engine := &stubReconciler{err: &tracking.StoreError{Op: "load", Err: errors.New("permission denied")}}
	p := application.NewPollService(provider, engine, time.Hour, nil)

	err := p.Run(context.Background())
	var storeErr *tracking.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreError, got %v", err)
	}
}

func TestPollService_RunStopsOnCancel(t *testing.T) {
	provider := &fakeProvider{rec: &recorder{}}
	engine := &stubReconciler{ran: make(chan struct{}, 1)}
	p := application.NewPollService(provider, engine, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	<-engine.ran
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestPollService_KickRunsExtraCycle(t *testing.T) {
	provider := &fakeProvider{rec: &recorder{}}
	engine := &stubReconciler{ran: make(chan struct{}, 1)}
	p := application.NewPollService(provider, engine, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	<-engine.ran
	p.Kick()
	select {
	case <-engine.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("kick did not trigger a cycle")
	}
	if got := engine.count(); got != 2 {
		t.Errorf("cycles = %d, want 2", got)
	}

	cancel()
	<-done
}

func TestPollService_SetInterval(t *testing.T) {
	p := application.NewPollService(&fakeProvider{rec: &recorder{}}, &stubReconciler{}, time.Hour, nil)
	p.SetInterval(0)
	if p.Interval() != time.Hour {
		t.Errorf("non-positive interval applied: %v", p.Interval())
	}
	p.SetInterval(5 * time.Second)
	if p.Interval() != 5*time.Second {
		t.Errorf("interval = %v", p.Interval())
	}
}

package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/agentshield/agentshield/internal/domain/approval"
)

// pendingApproval stores a REQUIRE_APPROVAL evaluation and returns its approval id.
func pendingApproval(t *testing.T, env *testEnv) string {
	t.Helper()
	resp, err := env.evals.Evaluate(context.Background(), env.tenant, "", shellRequest("rm -rf /"))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.ApprovalID == nil {
		t.Fatal("expected an approval request")
	}
	return *resp.ApprovalID
}

func TestApprovalService_ApproveThenConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env := newTestEnv(t, fastConfig())
	env.approvals.now = func() time.Time { return fixed }
	id := pendingApproval(t, env)

	got, err := env.approvals.Approve(ctx, env.tenant, id, "alice", ptr("looks fine"))
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if got.Status != approval.StatusApproved {
		t.Errorf("Status = %s, want APPROVED", got.Status)
	}
	if got.Approver == nil || *got.Approver != "alice" {
		t.Errorf("Approver = %v, want alice", got.Approver)
	}
	if got.Comment == nil || *got.Comment != "looks fine" {
		t.Errorf("Comment = %v", got.Comment)
	}
	if got.ResolvedAt == nil || !got.ResolvedAt.Equal(fixed) {
		t.Errorf("ResolvedAt = %v, want %v", got.ResolvedAt, fixed)
	}

	_, err = env.approvals.Deny(ctx, env.tenant, id, "bob", nil)
	var conflict *approval.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Deny after approve: err = %v, want ConflictError", err)
	}
	if conflict.Current != approval.StatusApproved {
		t.Errorf("Current = %s, want APPROVED", conflict.Current)
	}
	if !errors.Is(err, approval.ErrAlreadyResolved) {
		t.Error("ConflictError should match ErrAlreadyResolved")
	}

	// The first resolution is kept.
	stored, err := env.approvals.Get(ctx, env.tenant, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != approval.StatusApproved || *stored.Approver != "alice" {
		t.Errorf("stored = %+v", stored)
	}

	if got := testutil.ToFloat64(env.metrics.ApprovalResolutions.WithLabelValues("conflict")); got != 1 {
		t.Errorf("approval_resolutions_total{conflict} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(env.metrics.ApprovalsCreated); got != 1 {
		t.Errorf("approvals_created_total = %v, want 1", got)
	}
}

func TestApprovalService_InvalidAndMissing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, fastConfig())
	id := pendingApproval(t, env)

	if _, err := env.approvals.Get(ctx, env.tenant, "nope"); !errors.Is(err, approval.ErrInvalidInput) {
		t.Errorf("malformed id: err = %v, want ErrInvalidInput", err)
	}
	if _, err := env.approvals.Get(ctx, env.tenant, uuid.NewString()); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("unknown id: err = %v, want ErrNotFound", err)
	}
	if _, err := env.approvals.Get(ctx, uuid.NewString(), id); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("other tenant: err = %v, want ErrNotFound", err)
	}
	if _, err := env.approvals.Approve(ctx, env.tenant, id, "   ", nil); !errors.Is(err, approval.ErrInvalidInput) {
		t.Errorf("blank approver: err = %v, want ErrInvalidInput", err)
	}
	if _, err := env.approvals.Deny(ctx, env.tenant, uuid.NewString(), "bob", nil); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("deny unknown: err = %v, want ErrNotFound", err)
	}
	if _, err := env.approvals.AwaitResolution(ctx, env.tenant, uuid.NewString(), time.Second); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("await unknown: err = %v, want ErrNotFound", err)
	}
}

func TestApprovalService_ConcurrentResolutionSingleWinner(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, fastConfig())
	id := pendingApproval(t, env)

	const n = 10
	var (
		wg        sync.WaitGroup
		winners   atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = env.approvals.Approve(context.Background(), env.tenant, id, "alice", nil)
			} else {
				_, err = env.approvals.Deny(context.Background(), env.tenant, id, "bob", nil)
			}
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, approval.ErrAlreadyResolved):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if winners.Load() != 1 || conflicts.Load() != n-1 {
		t.Errorf("winners=%d conflicts=%d, want 1/%d", winners.Load(), conflicts.Load(), n-1)
	}
}

func TestApprovalService_AwaitAlreadyResolved(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, fastConfig())
	id := pendingApproval(t, env)
	if _, err := env.approvals.Deny(ctx, env.tenant, id, "bob", nil); err != nil {
		t.Fatalf("Deny: %v", err)
	}

	got, err := env.approvals.AwaitResolution(ctx, env.tenant, id, time.Second)
	if err != nil {
		t.Fatalf("AwaitResolution: %v", err)
	}
	if got == nil || got.Status != approval.StatusDenied {
		t.Errorf("got %+v, want DENIED", got)
	}
}

func TestApprovalService_AwaitWithoutNotifierPolls(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, fastConfig())
	id := pendingApproval(t, env)
	polling := NewApprovalService(env.store, nil, fastConfig(), discardLogger())

	done := make(chan error, 1)
	go func() {
		got, err := polling.AwaitResolution(ctx, env.tenant, id, 5*time.Second)
		if err == nil && (got == nil || got.Status != approval.StatusApproved) {
			err = errors.New("wait did not observe the approval")
		}
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := env.approvals.Approve(ctx, env.tenant, id, "alice", nil); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("polling waiter never returned")
	}
}

func TestApprovalService_AwaitTimeout(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, fastConfig())
	id := pendingApproval(t, env)

	got, err := env.approvals.AwaitResolution(context.Background(), env.tenant, id, 40*time.Millisecond)
	if err != nil || got != nil {
		t.Fatalf("AwaitResolution = %+v, %v; want nil, nil", got, err)
	}
	if n := env.notifier.Subscribers(id); n != 0 {
		t.Errorf("subscription leaked: %d", n)
	}
}

type failingNotifier struct{}

func (failingNotifier) Subscribe(context.Context, string) (<-chan struct{}, func(), error) {
	return nil, nil, errors.New("broker down")
}

func (failingNotifier) Publish(context.Context, string) error {
	return errors.New("broker down")
}

func TestApprovalService_NotifierFailuresDegradeToPolling(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, fastConfig())
	id := pendingApproval(t, env)
	svc := NewApprovalService(env.store, failingNotifier{}, fastConfig(), discardLogger())

	done := make(chan *approval.ApprovalRequest, 1)
	go func() {
		got, _ := svc.AwaitResolution(ctx, env.tenant, id, 5*time.Second)
		done <- got
	}()

	time.Sleep(30 * time.Millisecond)
	if _, err := svc.Approve(ctx, env.tenant, id, "alice", nil); err != nil {
		t.Fatalf("Approve should succeed when publish fails: %v", err)
	}

	select {
	case got := <-done:
		if got == nil || got.Status != approval.StatusApproved {
			t.Errorf("got %+v, want APPROVED", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never returned")
	}
}

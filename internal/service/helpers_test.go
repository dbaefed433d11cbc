package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentshield/agentshield/internal/adapter/outbound/memory"
	"github.com/agentshield/agentshield/internal/domain/evaluation"
	"github.com/agentshield/agentshield/internal/domain/policy"
	"github.com/agentshield/agentshield/internal/port/outbound"
)

type testEnv struct {
	tenant    string
	store     *memory.Store
	notifier  *memory.Notifier
	metrics   *Metrics
	approvals *ApprovalService
	evals     *EvaluationService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, cfg, nil)
}

// newTestEnvWithStore builds the services over wrap(store) when wrap is non-nil.
func newTestEnvWithStore(t *testing.T, cfg Config, wrap func(*memory.Store) outbound.Store) *testEnv {
	t.Helper()

	env := &testEnv{
		tenant:   uuid.NewString(),
		store:    memory.NewStore(),
		notifier: memory.NewNotifier(),
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	var store outbound.Store = env.store
	if wrap != nil {
		store = wrap(env.store)
	}

	logger := discardLogger()
	env.approvals = NewApprovalService(store, env.notifier, cfg, logger, WithApprovalMetrics(env.metrics))
	env.evals = NewEvaluationService(store, env.approvals, cfg, logger, WithEvaluationMetrics(env.metrics))

	if _, err := env.store.UpsertPolicy(context.Background(), env.tenant, policy.StarterPolicyName, true, policy.StarterDocument); err != nil {
		t.Fatalf("UpsertPolicy: %v", err)
	}
	return env
}

func fastConfig() Config {
	return Config{
		ApprovalThreshold: 60,
		WaitTimeout:       5 * time.Second,
		PollInterval:      20 * time.Millisecond,
	}
}

func ptr(s string) *string { return &s }

func shellRequest(cmd string) evaluation.Request {
	return evaluation.Request{
		ActionType: evaluation.ActionToolCall,
		ToolName:   ptr("shell"),
		ToolArgs:   map[string]any{"command": cmd},
	}
}

func iamRequest(op string) evaluation.Request {
	return evaluation.Request{
		ActionType:   evaluation.ActionAWSAPI,
		AWSService:   ptr("iam"),
		AWSOperation: ptr(op),
		Params:       map[string]any{"UserName": "x"},
	}
}

// waitForSubscriber blocks until someone waits on approval id.
func waitForSubscriber(t *testing.T, n *memory.Notifier, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for n.Subscribers(id) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no waiter subscribed to %s", id)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

package reconciler

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestReconcilerMetrics_NewInstance(t *testing.T) {
	metrics := NewReconcilerMetrics()
	if metrics == nil {
		t.Fatal("expected non-nil metrics instance")
	}
	if metrics.environments == nil {
		t.Error("expected environments map to be initialized")
	}
}

func TestReconcilerMetrics_RecordPass(t *testing.T) {
	metrics := NewReconcilerMetrics()

	metrics.RecordPass(Summary{Environment: "dev", Created: 2, Deleted: 1, Duration: 5 * time.Millisecond})
	metrics.RecordPass(Summary{Environment: "dev"})

	summary := metrics.GetSummary()
	if summary.TotalPasses != 2 {
		t.Errorf("expected TotalPasses=2, got %d", summary.TotalPasses)
	}
	if summary.TotalEventsEmitted != 3 {
		t.Errorf("expected TotalEventsEmitted=3, got %d", summary.TotalEventsEmitted)
	}
	if len(summary.Environments) != 1 {
		t.Fatalf("expected 1 environment, got %d", len(summary.Environments))
	}
	env := summary.Environments[0]
	if env.Passes != 2 || env.EventsEmitted != 3 {
		t.Errorf("unexpected environment metrics: %+v", env)
	}
	if env.LastSuccessAt.IsZero() {
		t.Error("expected LastSuccessAt to be set")
	}
}

func TestReconcilerMetrics_RecordFailure(t *testing.T) {
	metrics := NewReconcilerMetrics()

	metrics.RecordPass(Summary{Environment: "dev"})
	metrics.RecordFailure("dev", errors.New("engine unreachable"))

	summary := metrics.GetSummary()
	if summary.TotalFailures != 1 {
		t.Errorf("expected TotalFailures=1, got %d", summary.TotalFailures)
	}
	if summary.FailureRate != 0.5 {
		t.Errorf("expected FailureRate=0.5, got %f", summary.FailureRate)
	}
	if summary.Environments[0].LastFailureAt.IsZero() {
		t.Error("expected LastFailureAt to be set")
	}
}

func TestReconcilerMetrics_SortedEnvironments(t *testing.T) {
	metrics := NewReconcilerMetrics()
	metrics.RecordPass(Summary{Environment: "test"})
	metrics.RecordPass(Summary{Environment: "dev"})
	metrics.RecordPass(Summary{Environment: "prod"})

	envs := metrics.GetSummary().Environments
	if envs[0].Environment != "dev" || envs[1].Environment != "prod" || envs[2].Environment != "test" {
		t.Errorf("expected sorted environments, got %+v", envs)
	}
}

func TestReconcilerMetrics_Reset(t *testing.T) {
	metrics := NewReconcilerMetrics()
	metrics.RecordPass(Summary{Environment: "dev", Updated: 1})
	metrics.RecordSignal()

	metrics.Reset()

	summary := metrics.GetSummary()
	if summary.TotalPasses != 0 || summary.TotalSignals != 0 || len(summary.Environments) != 0 {
		t.Errorf("expected empty metrics after reset, got %+v", summary)
	}
}

func TestReconcilerMetrics_ConcurrentAccess(t *testing.T) {
	metrics := NewReconcilerMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				metrics.RecordPass(Summary{Environment: "dev", Updated: 1})
				metrics.RecordSignal()
				_ = metrics.GetSummary()
			}
		}()
	}
	wg.Wait()

	summary := metrics.GetSummary()
	if summary.TotalPasses != 1000 {
		t.Errorf("expected TotalPasses=1000, got %d", summary.TotalPasses)
	}
	if summary.TotalSignals != 1000 {
		t.Errorf("expected TotalSignals=1000, got %d", summary.TotalSignals)
	}
}

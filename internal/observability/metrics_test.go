package observability

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// metricsOnce guards the single call to NewMetrics() permitted per process:
// promauto registers against the default registry, so a second call would
// panic on duplicate collector registration.
var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

func testMetrics(t *testing.T) *Metrics {
	t.Helper()
	metricsOnce.Do(func() {
		sharedMetrics = NewMetrics()
	})
	return sharedMetrics
}

func TestNewMetrics(t *testing.T) {
	m := testMetrics(t)
	if m.LLMRequestCounter == nil || m.ToolExecutionCounter == nil || m.IterationCounter == nil {
		t.Fatal("expected NewMetrics to populate its collectors")
	}
}

func TestRecordLLMRequest(t *testing.T) {
	m := testMetrics(t)
	m.RecordLLMRequest("anthropic", "claude-3-opus", "success", 1.5, 100, 50)

	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude-3-opus", "success")); got < 1 {
		t.Errorf("expected at least 1 LLM request recorded, got %v", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-3-opus", "prompt")); got < 100 {
		t.Errorf("expected at least 100 prompt tokens recorded, got %v", got)
	}
}

func TestRecordLLMCost(t *testing.T) {
	m := testMetrics(t)
	m.RecordLLMCost("anthropic", "claude-3-opus", 0.02)

	if got := testutil.ToFloat64(m.LLMCostUSD.WithLabelValues("anthropic", "claude-3-opus")); got < 0.02 {
		t.Errorf("expected at least 0.02 USD recorded, got %v", got)
	}
}

func TestRecordToolExecution(t *testing.T) {
	m := testMetrics(t)
	m.RecordToolExecution("web_search", "success", 0.25)
	m.RecordToolExecution("web_search", "error", 0.10)

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("web_search", "success")); got < 1 {
		t.Errorf("expected at least 1 successful tool execution, got %v", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("web_search", "error")); got < 1 {
		t.Errorf("expected at least 1 failed tool execution, got %v", got)
	}
}

func TestRecordError(t *testing.T) {
	m := testMetrics(t)
	m.RecordError("executor", "llm_unavailable")
	m.RecordError("dispatcher", "tool_panic")

	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("executor", "llm_unavailable")); got < 1 {
		t.Errorf("expected at least 1 executor error recorded, got %v", got)
	}
}

func TestRecordIterationAndRunAttempt(t *testing.T) {
	m := testMetrics(t)
	m.RecordIteration("tool_calls")
	m.RecordIteration("completed")
	m.RecordRunAttempt("retry")
	m.RecordRunAttempt("success")

	if got := testutil.ToFloat64(m.IterationCounter.WithLabelValues("completed")); got < 1 {
		t.Errorf("expected at least 1 completed iteration, got %v", got)
	}
	if got := testutil.ToFloat64(m.RunAttempts.WithLabelValues("retry")); got < 1 {
		t.Errorf("expected at least 1 retry attempt, got %v", got)
	}
}

func TestRecordStuckDetectorAction(t *testing.T) {
	m := testMetrics(t)
	m.RecordStuckDetectorAction("nudge")

	if got := testutil.ToFloat64(m.StuckDetectorActions.WithLabelValues("nudge")); got < 1 {
		t.Errorf("expected at least 1 nudge action recorded, got %v", got)
	}
}

func TestCheckpointMetrics(t *testing.T) {
	m := testMetrics(t)
	m.RecordCheckpointOperation("save", "success")
	m.SetActiveCheckpoints(3)

	if got := testutil.ToFloat64(m.CheckpointOperations.WithLabelValues("save", "success")); got < 1 {
		t.Errorf("expected at least 1 checkpoint save recorded, got %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveCheckpoints); got != 3 {
		t.Errorf("expected 3 active checkpoints, got %v", got)
	}
}

func TestSubagentMetrics(t *testing.T) {
	m := testMetrics(t)
	before := testutil.ToFloat64(m.ActiveSubagents)

	m.RecordSubagentSpawn("researcher", "accepted")
	if got := testutil.ToFloat64(m.ActiveSubagents); got != before+1 {
		t.Errorf("expected active subagent gauge to increment, got %v want %v", got, before+1)
	}

	m.RecordSubagentCompletion("researcher", "completed")
	if got := testutil.ToFloat64(m.ActiveSubagents); got != before {
		t.Errorf("expected active subagent gauge to decrement back to %v, got %v", before, got)
	}
	if got := testutil.ToFloat64(m.SubagentCompleted.WithLabelValues("researcher", "completed")); got < 1 {
		t.Errorf("expected at least 1 completion recorded, got %v", got)
	}
}

func TestHistogramBuckets(t *testing.T) {
	registry := prometheus.NewRegistry()
	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_duration_seconds",
			Help:    "Test duration histogram",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0},
		},
		[]string{"operation"},
	)
	registry.MustRegister(histogram)

	durations := []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0}
	for _, duration := range durations {
		histogram.WithLabelValues("test").Observe(duration)
	}

	if testutil.CollectAndCount(histogram) < 1 {
		t.Error("expected histogram to have observations across buckets")
	}
}

func TestIterationCounterFormat(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_executor_iterations_total",
			Help: "Test iteration counter",
		},
		[]string{"outcome"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("completed").Inc()
	counter.WithLabelValues("completed").Inc()
	counter.WithLabelValues("failed").Inc()

	expected := `
		# HELP test_executor_iterations_total Test iteration counter
		# TYPE test_executor_iterations_total counter
		test_executor_iterations_total{outcome="completed"} 2
		test_executor_iterations_total{outcome="failed"} 1
	`
	if err := testutil.CollectAndCompare(counter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestConcurrentMetrics(t *testing.T) {
	m := testMetrics(t)
	done := make(chan bool)
	iterations := 100

	go func() {
		for i := 0; i < iterations; i++ {
			m.RecordToolExecution("concurrent_a", "success", 0.01)
			time.Sleep(time.Microsecond)
		}
		done <- true
	}()

	go func() {
		for i := 0; i < iterations; i++ {
			m.RecordToolExecution("concurrent_b", "success", 0.01)
			time.Sleep(time.Microsecond)
		}
		done <- true
	}()

	<-done
	<-done

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("concurrent_a", "success")); got < float64(iterations) {
		t.Errorf("expected %d concurrent_a executions, got %v", iterations, got)
	}
}

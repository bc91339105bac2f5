package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := &dto.Metric{}
	if err := (<-ch).Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	default:
		t.Fatalf("unsupported metric type: %+v", m)
		return 0
	}
}

func TestRecordLLMRequestIncrementsTokens(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordLLMRequest("gpt-4o-mini", "success", 1.2, 100, 50)

	prompt := counterValue(t, m.LLMTokensUsed.WithLabelValues("gpt-4o-mini", "prompt"))
	completion := counterValue(t, m.LLMTokensUsed.WithLabelValues("gpt-4o-mini", "completion"))
	if prompt != 100 {
		t.Fatalf("expected 100 prompt tokens, got %v", prompt)
	}
	if completion != 50 {
		t.Fatalf("expected 50 completion tokens, got %v", completion)
	}
}

func TestRecordToolExecutionIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordToolExecution("read_file", "success", 0.01)
	m.RecordToolExecution("read_file", "error", 0.02)

	successCount := counterValue(t, m.ToolExecutionCounter.WithLabelValues("read_file", "success"))
	errorCount := counterValue(t, m.ToolExecutionCounter.WithLabelValues("read_file", "error"))
	if successCount != 1 || errorCount != 1 {
		t.Fatalf("expected 1 success and 1 error, got %v %v", successCount, errorCount)
	}
}

func TestSubAgentGaugeTracksActiveCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SubAgentStarted()
	m.SubAgentStarted()
	m.SubAgentEnded()

	if got := counterValue(t, m.ActiveSubAgents); got != 1 {
		t.Fatalf("expected gauge at 1, got %v", got)
	}
}

func TestProcessGaugeTracksActiveCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ProcessStarted()
	m.ProcessStarted()
	m.ProcessStarted()
	m.ProcessEnded()

	if got := counterValue(t, m.ActiveProcesses); got != 2 {
		t.Fatalf("expected gauge at 2, got %v", got)
	}
}

func TestRecordLoopIterationIncrementsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordLoopIteration("terminal")
	m.RecordLoopIteration("terminal")
	m.RecordLoopIteration("max_iterations")

	terminal := counterValue(t, m.LoopIterations.WithLabelValues("terminal"))
	maxIter := counterValue(t, m.LoopIterations.WithLabelValues("max_iterations"))
	if terminal != 2 || maxIter != 1 {
		t.Fatalf("expected terminal=2 max_iterations=1, got %v %v", terminal, maxIter)
	}
}

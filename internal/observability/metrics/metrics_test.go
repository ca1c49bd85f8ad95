package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineReturnsSingleton(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	first := Pipeline()
	second := PipelineWithConfig(Config{ServiceName: "ignored-after-init"})
	assert.Same(t, first, second)
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *PipelineMetrics
	m.IncOrderItemProcessed("basic", "create")
	m.IncOrderItemErred("basic", "processor_not_found")
	m.IncRollupUpsert()
	m.IncJobRun("usage_rollup")
	m.IncJobError("usage_rollup")
	m.IncJobTimeout("usage_rollup")
	m.ObserveJobDuration("usage_rollup", time.Second)
}

func TestCountersIncrement(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newPipelineMetrics(registry, Config{ServiceName: "agora-test", Environment: "test"})

	m.IncOrderItemProcessed("basic", "create")
	m.IncOrderItemProcessed("basic", "create")
	m.IncJobRun("usage_rollup")
	m.ObserveJobDuration("usage_rollup", 250*time.Millisecond)

	families, err := registry.Gather()
	require.NoError(t, err)

	byName := map[string]float64{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			if counter := metric.GetCounter(); counter != nil {
				byName[family.GetName()] += counter.GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, byName["agora_order_items_processed_total"])
	assert.Equal(t, 1.0, byName["agora_scheduler_job_runs_total"])
}

func TestDuplicateRegistrationIsTolerated(t *testing.T) {
	registry := prometheus.NewRegistry()
	_ = newPipelineMetrics(registry, Config{})
	// Registering the same instruments again must not panic.
	_ = newPipelineMetrics(registry, Config{})
}

package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestPoolMetrics(t *testing.T) {
	m := Pool()
	if Pool() != m {
		t.Fatalf("expected singleton registry")
	}
	m.ObserveOperation("swap_from_pool", "ok", 5*time.Millisecond)
	m.ObserveOperation("swap_from_pool", "slippage_not_met", time.Millisecond)
	if got := testutil.ToFloat64(m.operations.WithLabelValues("swap_from_pool", "ok")); got != 1 {
		t.Fatalf("expected one successful swap, got %v", got)
	}

	m.RecordFee("0xasset", big.NewInt(10_000))
	m.RecordFee("0xasset", big.NewInt(0))
	if got := testutil.ToFloat64(m.fees.WithLabelValues("0xasset")); got != 10_000 {
		t.Fatalf("unexpected fee total %v", got)
	}

	m.SetSolvency("0xasset", big.NewInt(-5), big.NewInt(100))
	if got := testutil.ToFloat64(m.gap.WithLabelValues("0xasset")); got != -5 {
		t.Fatalf("unexpected gap %v", got)
	}

	m.RecordSwap("0xdst", big.NewInt(4_000))
	var metric dto.Metric
	observer, err := m.received.GetMetricWithLabelValues("0xdst")
	if err != nil {
		t.Fatalf("histogram: %v", err)
	}
	if err := observer.(interface{ Write(*dto.Metric) error }).Write(&metric); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	if metric.GetHistogram().GetSampleCount() != 1 || metric.GetHistogram().GetSampleSum() != 4_000 {
		t.Fatalf("unexpected histogram %v", metric.GetHistogram())
	}
}

func TestEventMetrics(t *testing.T) {
	Events().RecordEmitted("pool.deposit_to_pool")
	if got := testutil.ToFloat64(Events().emitted.WithLabelValues("deposit_to_pool")); got < 1 {
		t.Fatalf("expected deposit to be counted, got %v", got)
	}
	var nilMetrics *eventMetrics
	nilMetrics.RecordEmitted("ignored")
}

func TestToFloatSaturates(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 2000)
	if toFloat(huge) <= 0 || toFloat(new(big.Int).Neg(huge)) >= 0 {
		t.Fatalf("expected saturation to keep the sign")
	}
}

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveOrder(t *testing.T) {
	before := testutil.ToFloat64(Orders.WithLabelValues("open", "failed"))
	ObserveOrder("open", errors.New("rejected"))
	ObserveOrder("open", nil)
	if got := testutil.ToFloat64(Orders.WithLabelValues("open", "failed")); got != before+1 {
		t.Errorf("failed orders = %v, want %v", got, before+1)
	}
}

func TestObserveCycleOverrun(t *testing.T) {
	before := testutil.ToFloat64(CycleOverruns)
	ObserveCycle("running", 2*time.Second, true)
	ObserveCycle("running", time.Second, false)
	if got := testutil.ToFloat64(CycleOverruns); got != before+1 {
		t.Errorf("overruns = %v, want %v", got, before+1)
	}
}

func TestSetBook(t *testing.T) {
	SetBook(1500, 200, 2, 1)
	if got := testutil.ToFloat64(EquityGauge); got != 1500 {
		t.Errorf("equity = %v", got)
	}
	if got := testutil.ToFloat64(PositionsOpen.WithLabelValues("scalp")); got != 1 {
		t.Errorf("scalp positions = %v", got)
	}
}

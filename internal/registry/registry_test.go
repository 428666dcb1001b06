package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eljelink/dfo/internal/trbstate"
)

func triggerDecision(n uint64) trbstate.TriggerDecision {
	return trbstate.TriggerDecision{TriggerNumber: n, RunNumber: 1}
}

func twoWorkerSpecs() []AppSpec {
	return []AppSpec{
		{ConnectionName: "w1", BusyThreshold: 2, FreeThreshold: 2},
		{ConnectionName: "w2", BusyThreshold: 2, FreeThreshold: 2},
	}
}

// TestRoundRobinS1 mirrors seed scenario S1: two workers, B=F=2, four
// decisions round-robin W1<-1, W2<-2, W1<-3, W2<-4, both end up busy.
func TestRoundRobinS1(t *testing.T) {
	r := New()
	require.NoError(t, r.Configure(twoWorkerSpecs()))

	var order []string
	for i := 0; i < 4; i++ {
		w := r.SelectNext()
		require.NotNil(t, w)
		order = append(order, w.ConnectionName())
		require.NoError(t, w.AddAssignment(w.MakeAssignment(triggerDecision(uint64(i+1)))))
	}

	assert.Equal(t, []string{"w1", "w2", "w1", "w2"}, order)
	assert.False(t, r.HasAnySlot())
}

func TestSelectNextReturnsNilWhenAllBusy(t *testing.T) {
	r := New()
	require.NoError(t, r.Configure([]AppSpec{{ConnectionName: "w1", BusyThreshold: 1, FreeThreshold: 1}}))

	w := r.Get("w1")
	require.NoError(t, w.AddAssignment(w.MakeAssignment(triggerDecision(1))))

	assert.Nil(t, r.SelectNext())
	assert.False(t, r.HasAnySlot())
}

func TestConfigureRejectsInconsistentThresholds(t *testing.T) {
	r := New()
	err := r.Configure([]AppSpec{{ConnectionName: "w1", BusyThreshold: 1, FreeThreshold: 2}})
	require.Error(t, err)
}

func TestScrapClearsMembership(t *testing.T) {
	r := New()
	require.NoError(t, r.Configure(twoWorkerSpecs()))
	r.Scrap()
	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.Get("w1"))
}

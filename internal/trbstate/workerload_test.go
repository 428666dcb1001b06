package trbstate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decision(trigger uint64) TriggerDecision {
	return TriggerDecision{TriggerNumber: trigger, RunNumber: 1}
}

func TestNewWorkerLoadRejectsInconsistentThresholds(t *testing.T) {
	_, err := NewWorkerLoadWithThresholds("trb-1", 2, 3)
	require.Error(t, err)
	var target *ErrThresholdsNotConsistent
	require.ErrorAs(t, err, &target)
}

// TestHysteresis mirrors S3: single worker with B=3, F=1.
func TestHysteresis(t *testing.T) {
	w, err := NewWorkerLoadWithThresholds("trb-1", 3, 1)
	require.NoError(t, err)

	for _, tn := range []uint64{1, 2, 3} {
		require.NoError(t, w.AddAssignment(w.MakeAssignment(decision(tn))))
	}
	assert.True(t, w.IsBusy())
	assert.False(t, w.HasSlot())

	w.ExtractAssignment(2)
	assert.Equal(t, 2, w.InFlightCount())
	assert.True(t, w.IsBusy(), "size 2 is not below free_threshold 1")

	w.ExtractAssignment(1)
	assert.Equal(t, 1, w.InFlightCount())
	assert.True(t, w.IsBusy(), "size 1 is not below free_threshold 1")

	w.ExtractAssignment(3)
	assert.Equal(t, 0, w.InFlightCount())
	assert.False(t, w.IsBusy())
	assert.True(t, w.HasSlot())
}

func TestAddAssignmentRejectedWhenInError(t *testing.T) {
	w, err := NewWorkerLoad("trb-1", 5)
	require.NoError(t, err)
	w.SetInError(true)

	err = w.AddAssignment(w.MakeAssignment(decision(1)))
	require.Error(t, err)
	var target *ErrNoSlotsAvailable
	require.ErrorAs(t, err, &target)
	assert.False(t, w.HasSlot())
}

func TestCompleteAssignmentNotFound(t *testing.T) {
	w, err := NewWorkerLoad("trb-1", 5)
	require.NoError(t, err)

	_, err = w.CompleteAssignment(42, nil)
	require.Error(t, err)
	var target *ErrAssignmentNotFound
	require.ErrorAs(t, err, &target)
}

func TestCompleteAssignmentRecordsLatencyAndMetadata(t *testing.T) {
	w, err := NewWorkerLoad("trb-1", 5)
	require.NoError(t, err)
	require.NoError(t, w.AddAssignment(w.MakeAssignment(decision(1))))

	var calls int
	took, err := w.CompleteAssignment(1, func(md map[string]any) {
		calls++
		md["events"] = 1
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, took, time.Duration(0))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, w.LatencyWindowLen())
}

// TestAtMostOneExtraction mirrors testable property 3: two concurrent
// CompleteAssignment calls for the same trigger number yield exactly one
// success and one ErrAssignmentNotFound.
func TestAtMostOneExtraction(t *testing.T) {
	w, err := NewWorkerLoad("trb-1", 5)
	require.NoError(t, err)
	require.NoError(t, w.AddAssignment(w.MakeAssignment(decision(1))))

	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			_, err := w.CompleteAssignment(1, nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, notFound int
	for err := range results {
		if err == nil {
			successes++
		} else {
			notFound++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, notFound)
}

func TestLatencyWindowBounded(t *testing.T) {
	w, err := NewWorkerLoad("trb-1", 1<<20)
	require.NoError(t, err)

	for tn := uint64(0); tn < maxLatencyWindow+50; tn++ {
		require.NoError(t, w.AddAssignment(w.MakeAssignment(decision(tn))))
		_, err := w.CompleteAssignment(tn, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, maxLatencyWindow, w.LatencyWindowLen())
}

func TestAverageLatencyEmptyWindowIsZero(t *testing.T) {
	w, err := NewWorkerLoad("trb-1", 5)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), w.AverageLatency(time.Now().Add(-time.Hour)))
}

func TestAverageLatencyMatchesMean(t *testing.T) {
	w, err := NewWorkerLoad("trb-1", 5)
	require.NoError(t, err)

	since := time.Now()
	var sum time.Duration
	for _, tn := range []uint64{1, 2, 3} {
		a := w.MakeAssignment(decision(tn))
		a.AssignedTime = since.Add(-time.Duration(tn) * time.Millisecond)
		require.NoError(t, w.AddAssignment(a))
		took, err := w.CompleteAssignment(tn, nil)
		require.NoError(t, err)
		sum += took
	}

	avg := w.AverageLatency(since.Add(-time.Hour))
	assert.Greater(t, avg, time.Duration(0))
	assert.Equal(t, sum/3, avg)
}

func TestDuplicateTriggerNumberNotRejectedByWorker(t *testing.T) {
	w, err := NewWorkerLoad("trb-1", 5)
	require.NoError(t, err)
	require.NoError(t, w.AddAssignment(w.MakeAssignment(decision(7))))
	require.NoError(t, w.AddAssignment(w.MakeAssignment(decision(7))))

	first := w.ExtractAssignment(7)
	require.NotNil(t, first)
	second := w.ExtractAssignment(7)
	assert.NotNil(t, second, "both copies should still be extractable; the invariant is the dispatcher's responsibility to uphold, not the data structure's")
}

package orchestrator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eljelink/dfo/internal/config"
	"github.com/eljelink/dfo/internal/decisionsource"
	"github.com/eljelink/dfo/internal/trbstate"
	"github.com/eljelink/dfo/internal/transport"
)

func testConfig() config.Config {
	return config.Config{
		DataflowApplications: []config.DataflowApplication{
			{DecisionConnection: "trb-1", Capacity: 1},
		},
		GeneralQueueTimeoutMS: 10,
		TokenConnection:       "dfo-tokens",
		TDSendRetries:         1,
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	lb := transport.NewLoopback()
	source := decisionsource.NewChannel(8)
	d := New(lb, source, nil)

	var received trbstate.TriggerDecision
	lb.Handle("trb-1", func(payload []byte) error {
		return json.Unmarshal(payload, &received)
	})

	require.NoError(t, d.Conf(testConfig()))
	require.NoError(t, d.Start(1))
	assert.True(t, d.IsRunning())

	source.Push(trbstate.TriggerDecision{DecisionID: uuid.New(), TriggerNumber: 1, RunNumber: 1})

	require.Eventually(t, func() bool {
		return received.TriggerNumber == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, lb.DeliverToken("dfo-tokens", trbstate.CompletionToken{
		RunNumber: 1, TriggerNumber: 1, DecisionDestination: "trb-1",
	}))

	require.NoError(t, d.Stop())
	assert.False(t, d.IsRunning())

	snap := d.Snapshot()
	assert.Equal(t, int64(1), snap.DecisionsSent)
	assert.Equal(t, int64(1), snap.TokensReceived)

	require.NoError(t, d.Scrap())
}

func TestConfFailsWhileRunning(t *testing.T) {
	lb := transport.NewLoopback()
	source := decisionsource.NewChannel(8)
	d := New(lb, source, nil)

	lb.Handle("trb-1", func([]byte) error { return nil })

	require.NoError(t, d.Conf(testConfig()))
	require.NoError(t, d.Start(1))

	err := d.Conf(testConfig())
	assert.Error(t, err)

	require.NoError(t, d.Stop())
	require.NoError(t, d.Scrap())
}

func TestStartBeforeConfFails(t *testing.T) {
	lb := transport.NewLoopback()
	source := decisionsource.NewChannel(8)
	d := New(lb, source, nil)

	err := d.Start(1)
	assert.Error(t, err)
}

func TestStopIsIdempotent(t *testing.T) {
	lb := transport.NewLoopback()
	source := decisionsource.NewChannel(8)
	d := New(lb, source, nil)

	require.NoError(t, d.Stop())
}

func TestScrapFailsWhileRunning(t *testing.T) {
	lb := transport.NewLoopback()
	source := decisionsource.NewChannel(8)
	d := New(lb, source, nil)

	lb.Handle("trb-1", func([]byte) error { return nil })

	require.NoError(t, d.Conf(testConfig()))
	require.NoError(t, d.Start(1))

	assert.Error(t, d.Scrap())

	require.NoError(t, d.Stop())
	require.NoError(t, d.Scrap())
}

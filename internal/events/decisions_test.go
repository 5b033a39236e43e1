package events

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/observability"
)

func TestDecisionBroadcaster(t *testing.T) {
	b := NewDecisionBroadcaster(1)

	a := b.Subscribe()
	c := b.Subscribe()
	require.Equal(t, 2, b.Subscribers())

	b.Publish(domain.DecisionEvent{UserID: "alice", Action: "buy"})

	require.Equal(t, "alice", (<-a).UserID)
	require.Equal(t, "buy", (<-c).Action)

	b.Unsubscribe(a)
	_, open := <-a
	require.False(t, open)
	require.Equal(t, 1, b.Subscribers())

	// double unsubscribe is a no-op
	b.Unsubscribe(a)
}

func TestDecisionBroadcaster_DropsForSlowReaders(t *testing.T) {
	b := NewDecisionBroadcaster(1)
	ch := b.Subscribe()
	dropped := observability.DefaultMetrics.EventsDropped.WithLabelValues("decisions")
	before := testutil.ToFloat64(dropped)

	b.Publish(domain.DecisionEvent{Reason: "first"})
	b.Publish(domain.DecisionEvent{Reason: "second"})

	require.Equal(t, "first", (<-ch).Reason)
	require.Len(t, ch, 0)
	require.Equal(t, before+1, testutil.ToFloat64(dropped))
}

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransitionToRejectsIllegalMove(t *testing.T) {
	a := &Action{ID: "a", Status: StatusQueued}
	err := a.transitionTo(StatusSuccess, time.Now())
	require.Error(t, err)
	var wrongState *WrongState
	require.ErrorAs(t, err, &wrongState)
	require.Equal(t, StatusQueued, a.Status, "status must be unchanged after a rejected transition")
}

func TestTransitionToStampsStartedAndCompletedAt(t *testing.T) {
	a := &Action{ID: "a", Status: StatusQueued}
	require.NoError(t, a.transitionTo(StatusDispatched, time.Now()))
	require.NoError(t, a.transitionTo(StatusRunning, time.Now()))
	require.NotNil(t, a.StartedAt)

	require.NoError(t, a.transitionTo(StatusSuccess, time.Now()))
	require.NotNil(t, a.CompletedAt)
}

func TestSatisfiesUpstreamAcceptsSuccessAndSkippedOnly(t *testing.T) {
	require.True(t, StatusSuccess.satisfiesUpstream())
	require.True(t, StatusSkipped.satisfiesUpstream())
	require.False(t, StatusFailed.satisfiesUpstream())
	require.False(t, StatusRunning.satisfiesUpstream())
}

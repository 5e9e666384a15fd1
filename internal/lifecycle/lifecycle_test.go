package lifecycle

import (
	"errors"
	"sync"
	"testing"

	"github.com/BearBump/LoadTrack/internal/models"
	"github.com/stretchr/testify/require"
)

var expected = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:    {"assigned", "activated", "cancelled"},
	models.OrderStatusAssigned:   {"activated", "in_progress", "in_transit", "cancelled"},
	models.OrderStatusActivated:  {"in_progress", "in_transit", "arrived", "cancelled"},
	models.OrderStatusInProgress: {"in_transit", "arrived", "loading", "cancelled"},
	models.OrderStatusInTransit:  {"arrived", "loading", "unloading", "completed", "cancelled"},
	models.OrderStatusArrived:    {"loading", "loaded", "unloading", "cancelled"},
	models.OrderStatusLoading:    {"loaded", "unloading", "cancelled"},
	models.OrderStatusLoaded:     {"in_transit", "unloading", "completed", "cancelled"},
	models.OrderStatusUnloading:  {"completed", "cancelled"},
	models.OrderStatusCompleted:  {},
	models.OrderStatusCancelled:  {},
}

func contains(list []models.OrderStatus, s models.OrderStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestIsValidTransition_AllPairs(t *testing.T) {
	for _, cur := range models.AllOrderStatuses {
		for _, next := range models.AllOrderStatuses {
			want := contains(expected[cur], next)
			require.Equal(t, want, IsValidTransition(cur, next), "%s -> %s", cur, next)
		}
	}
}

func TestTerminalStatusesHaveNoEdges(t *testing.T) {
	for _, s := range []models.OrderStatus{models.OrderStatusCompleted, models.OrderStatusCancelled} {
		require.True(t, IsTerminal(s))
		require.Empty(t, NextAvailableActions(s))
		for _, next := range models.AllOrderStatuses {
			require.False(t, IsValidTransition(s, next))
		}
	}
	require.False(t, IsTerminal(models.OrderStatusLoaded))
}

func TestNoSelfLoopsAndOnlyOneBackwardEdge(t *testing.T) {
	rank := map[models.OrderStatus]int{}
	for i, s := range models.AllOrderStatuses {
		rank[s] = i
	}
	var backward [][2]models.OrderStatus
	for _, cur := range models.AllOrderStatuses {
		require.False(t, IsValidTransition(cur, cur), cur)
		for _, next := range expected[cur] {
			if rank[next] < rank[cur] {
				backward = append(backward, [2]models.OrderStatus{cur, next})
			}
		}
	}
	require.Equal(t, [][2]models.OrderStatus{{models.OrderStatusLoaded, models.OrderStatusInTransit}}, backward)
}

func TestUnknownStatusHasNoEdges(t *testing.T) {
	require.False(t, IsValidTransition("bogus", models.OrderStatusCancelled))
	require.False(t, IsValidTransition(models.OrderStatusPending, "bogus"))
	require.Empty(t, NextAvailableActions("bogus"))
}

func TestCheck_LoadingToArrivedRejected(t *testing.T) {
	err := Check(models.OrderStatusLoading, models.OrderStatusArrived)
	require.ErrorIs(t, err, ErrInvalidTransition)

	var ite *InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	require.Equal(t, models.OrderStatusLoading, ite.From)
	require.Equal(t, models.OrderStatusArrived, ite.To)
	require.Equal(t, "invalid status transition: loading -> arrived", err.Error())
}

func TestCheck_AssignedToInProgressAllowed(t *testing.T) {
	require.NoError(t, Check(models.OrderStatusAssigned, models.OrderStatusInProgress))
}

func TestNextAvailableActions_OrderedWithLabels(t *testing.T) {
	got := NextAvailableActions(models.OrderStatusLoaded)
	require.Equal(t, []Action{
		{Status: models.OrderStatusInTransit, Label: "In transit"},
		{Status: models.OrderStatusUnloading, Label: "Start unloading"},
		{Status: models.OrderStatusCompleted, Label: "Complete delivery"},
		{Status: models.OrderStatusCancelled, Label: "Cancel order"},
	}, got)

	for _, cur := range models.AllOrderStatuses {
		for _, a := range NextAvailableActions(cur) {
			require.NotEmpty(t, a.Label)
		}
	}
}

func TestConcurrentUse(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = IsValidTransition(models.OrderStatusInTransit, models.OrderStatusCompleted)
				_ = NextAvailableActions(models.OrderStatusArrived)
			}
		}()
	}
	wg.Wait()
}

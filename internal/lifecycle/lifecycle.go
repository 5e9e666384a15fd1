// Package lifecycle holds the order status transition graph. Everything here is pure
// and safe for concurrent use.
package lifecycle

import (
	"fmt"

	"github.com/BearBump/LoadTrack/internal/models"
	"github.com/pkg/errors"
)

var ErrInvalidTransition = errors.New("invalid status transition")

type InvalidTransitionError struct {
	From models.OrderStatus
	To   models.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

type Action struct {
	Status models.OrderStatus `json:"status"`
	Label  string             `json:"label"`
}

// Forward edges may skip intermediate steps, drivers miss taps in the field.
// loaded -> in_transit is the only lateral edge (second leg to the unloading point).
var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending: {
		models.OrderStatusAssigned, models.OrderStatusActivated, models.OrderStatusCancelled,
	},
	models.OrderStatusAssigned: {
		models.OrderStatusActivated, models.OrderStatusInProgress, models.OrderStatusInTransit, models.OrderStatusCancelled,
	},
	models.OrderStatusActivated: {
		models.OrderStatusInProgress, models.OrderStatusInTransit, models.OrderStatusArrived, models.OrderStatusCancelled,
	},
	models.OrderStatusInProgress: {
		models.OrderStatusInTransit, models.OrderStatusArrived, models.OrderStatusLoading, models.OrderStatusCancelled,
	},
	models.OrderStatusInTransit: {
		models.OrderStatusArrived, models.OrderStatusLoading, models.OrderStatusUnloading, models.OrderStatusCompleted, models.OrderStatusCancelled,
	},
	models.OrderStatusArrived: {
		models.OrderStatusLoading, models.OrderStatusLoaded, models.OrderStatusUnloading, models.OrderStatusCancelled,
	},
	models.OrderStatusLoading: {
		models.OrderStatusLoaded, models.OrderStatusUnloading, models.OrderStatusCancelled,
	},
	models.OrderStatusLoaded: {
		models.OrderStatusInTransit, models.OrderStatusUnloading, models.OrderStatusCompleted, models.OrderStatusCancelled,
	},
	models.OrderStatusUnloading: {
		models.OrderStatusCompleted, models.OrderStatusCancelled,
	},
	models.OrderStatusCompleted: {},
	models.OrderStatusCancelled: {},
}

var labels = map[models.OrderStatus]string{
	models.OrderStatusAssigned:   "Assign",
	models.OrderStatusActivated:  "Activate load",
	models.OrderStatusInProgress: "Start trip",
	models.OrderStatusInTransit:  "In transit",
	models.OrderStatusArrived:    "Arrived",
	models.OrderStatusLoading:    "Start loading",
	models.OrderStatusLoaded:     "Loaded",
	models.OrderStatusUnloading:  "Start unloading",
	models.OrderStatusCompleted:  "Complete delivery",
	models.OrderStatusCancelled:  "Cancel order",
}

func IsValidTransition(current, next models.OrderStatus) bool {
	for _, s := range transitions[current] {
		if s == next {
			return true
		}
	}
	return false
}

// Check returns *InvalidTransitionError when next is not reachable from current.
func Check(current, next models.OrderStatus) error {
	if !IsValidTransition(current, next) {
		return &InvalidTransitionError{From: current, To: next}
	}
	return nil
}

func NextAvailableActions(current models.OrderStatus) []Action {
	next := transitions[current]
	out := make([]Action, 0, len(next))
	for _, s := range next {
		out = append(out, Action{Status: s, Label: labels[s]})
	}
	return out
}

func IsTerminal(s models.OrderStatus) bool {
	return s == models.OrderStatusCompleted || s == models.OrderStatusCancelled
}

// Package checkout drives one purchase attempt from the shipping form
// through the simulated payment to order creation.
package checkout

import "errors"

type Stage string

const (
	StageCollecting       Stage = "collecting"
	StageAwaitingPayment  Stage = "awaiting-payment"
	StagePaidPendingOrder Stage = "paid-pending-order"
	StageConfirmed        Stage = "confirmed"
	StageAuthRequired     Stage = "auth-required"
	StageFailed           Stage = "failed"
)

var (
	ErrBusy         = errors.New("checkout is busy with a previous action")
	ErrInvalidStage = errors.New("action not allowed at this checkout stage")
	ErrClosed       = errors.New("checkout closed")
	ErrNotFound     = errors.New("checkout not found")
)

var transitions = map[Stage][]Stage{
	StageCollecting:       {StageAwaitingPayment},
	StageAwaitingPayment:  {StagePaidPendingOrder, StageCollecting, StageFailed},
	StagePaidPendingOrder: {StageConfirmed, StageAuthRequired},
}

// CanTransition reports whether the stage machine allows from -> to.
func CanTransition(from, to Stage) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Stage) Terminal() bool {
	return len(transitions[s]) == 0
}

type Action struct {
	Name   string `json:"name"`
	Target string `json:"target,omitempty"`
}

const (
	ordersPath = "/profile"
	homePath   = "/"
	authPath   = "/auth"
)

func actionsFor(stage Stage, busy bool) []Action {
	if busy {
		return nil
	}
	switch stage {
	case StageCollecting:
		return []Action{{Name: "update-shipping"}, {Name: "submit"}}
	case StageAwaitingPayment:
		return []Action{{Name: "confirm-payment"}, {Name: "cancel-payment"}}
	case StageConfirmed:
		return []Action{{Name: "view-orders", Target: ordersPath}, {Name: "return-home", Target: homePath}}
	case StageAuthRequired:
		return []Action{{Name: "sign-in", Target: authPath}}
	case StageFailed:
		return []Action{{Name: "return-home", Target: homePath}}
	}
	return nil
}

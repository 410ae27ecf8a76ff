package guard

import (
	"github.com/smallbiznis/pavetrack/internal/delivery/domain"
)

var transitions = map[domain.Status][]domain.Status{
	domain.StatusPending:    {domain.StatusDispatched, domain.StatusCancelled},
	domain.StatusDispatched: {domain.StatusCompleted},
	// Deleting application records can reopen a completed delivery.
	domain.StatusCompleted: {domain.StatusDispatched},
}

func CanTransition(from, to domain.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func EnsureCanRegisterLoad(commitment domain.Commitment, hasLoadTicket bool) error {
	if hasLoadTicket {
		return domain.ErrLoadAlreadyRegistered
	}
	if commitment.Status != domain.StatusPending {
		return domain.ErrInvalidTransition
	}
	return nil
}

// EvaluateCancellation applies the state rules of cancellation, first match wins.
// Actor permissions are checked separately.
func EvaluateCancellation(commitment domain.Commitment, hasLoadTicket bool) domain.Decision {
	switch commitment.Status {
	case domain.StatusDispatched, domain.StatusCompleted:
		return domain.Deny(domain.ReasonAlreadyDispatched)
	}
	if hasLoadTicket {
		return domain.Deny(domain.ReasonLoadRegistered)
	}
	if commitment.Status == domain.StatusCancelled {
		return domain.Deny(domain.ReasonAlreadyCancelled)
	}
	return domain.Allow()
}

// EnsureCanRecordApplication requires the truck to be on its way.
func EnsureCanRecordApplication(commitment domain.Commitment) error {
	if commitment.Status != domain.StatusDispatched {
		return domain.ErrInvalidTransition
	}
	return nil
}

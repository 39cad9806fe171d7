package sale

import (
	"time"

	"token-sale/sale-backend/pkg/workflows"
)

// Phase is the funding phase of a sale, derived from the clock.
type Phase string

const (
	PhasePending       Phase = "PENDING"
	PhaseFundingOpen   Phase = "FUNDING_OPEN"
	PhaseFundingClosed Phase = "FUNDING_CLOSED"
)

var lifecycle = workflows.NewStateMachine(map[string][]string{
	string(PhasePending):       {string(PhaseFundingOpen)},
	string(PhaseFundingOpen):   {string(PhaseFundingClosed)},
	string(PhaseFundingClosed): {},
})

// PhaseAt derives the phase of a sale at now. The funding window is
// inclusive at both ends.
func PhaseAt(cfg *SaleConfig, now time.Time) Phase {
	t := now.Unix()
	switch {
	case t < cfg.FundingStart.Unix():
		return PhasePending
	case t <= cfg.FundingEnd.Unix():
		return PhaseFundingOpen
	default:
		return PhaseFundingClosed
	}
}

// Next returns the phases reachable from p.
func (p Phase) Next() []Phase {
	allowed := lifecycle.GetAllowedTransitions(string(p))
	next := make([]Phase, 0, len(allowed))
	for _, s := range allowed {
		next = append(next, Phase(s))
	}
	return next
}

// Closed reports whether p is the final phase.
func (p Phase) Closed() bool {
	return lifecycle.IsTerminal(string(p))
}

// CanAdvanceTo reports whether a sale in phase p may later be in phase to.
// Phases never move backwards.
func (p Phase) CanAdvanceTo(to Phase) bool {
	if lifecycle.CanTransition(string(p), string(to)) {
		return true
	}
	for _, next := range p.Next() {
		if next.CanAdvanceTo(to) {
			return true
		}
	}
	return false
}

package domain

// Phase is the lifecycle stage of a checkout session.
type Phase string

const (
	// PhaseCheckout is the initial phase where forms and cart are editable.
	PhaseCheckout Phase = "checkout"
	// PhasePayment waits for an asynchronous payment (Pix, boleto or pending card).
	PhasePayment Phase = "payment"
	// PhaseSuccess is terminal until the session is reset.
	PhaseSuccess Phase = "success"
)

func (p Phase) String() string {
	return string(p)
}

// CanTransition reports whether the state machine allows moving from one phase to another.
// payment -> checkout is only reachable through the explicit back action.
func CanTransition(from, to Phase) bool {
	switch from {
	case PhaseCheckout:
		return to == PhasePayment || to == PhaseSuccess
	case PhasePayment:
		return to == PhaseSuccess || to == PhaseCheckout
	default:
		return false
	}
}

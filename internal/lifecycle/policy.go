package lifecycle

import "time"

// DefaultRenewBefore is how long before expiry a server certificate is replaced.
const DefaultRenewBefore = 72 * time.Hour

// Decision is the outcome of evaluating a certificate's remaining validity.
type Decision int

const (
	DecisionValid Decision = iota
	DecisionNearExpiry
	DecisionExpired
)

func (d Decision) String() string {
	switch d {
	case DecisionValid:
		return "valid"
	case DecisionNearExpiry:
		return "near-expiry"
	case DecisionExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Renew reports whether the certificate must be reissued.
func (d Decision) Renew() bool {
	return d != DecisionValid
}

// Evaluate classifies a certificate ending at notAfter, as seen at now, with
// a renewal window of window.
func Evaluate(notAfter, now time.Time, window time.Duration) Decision {
	switch {
	case notAfter.Before(now):
		return DecisionExpired
	case notAfter.Before(now.Add(window)):
		return DecisionNearExpiry
	default:
		return DecisionValid
	}
}

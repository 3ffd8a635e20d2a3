package classifier

import "fmt"

// SumTolerance is how far a probability distribution's sum may deviate from
// 1 before it counts as a contract violation. Deviations inside the
// tolerance are floating-point noise; deviations beyond it mean the backend
// returned something that is not a distribution, and the system reports it
// instead of renormalizing.
const SumTolerance = 1e-6

// ContractViolationError reports a probability distribution whose sum
// deviates from 1 beyond SumTolerance.
type ContractViolationError struct {
	Sum float64
}

// Error implements the error interface.
func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("classifier contract violation: probabilities sum to %g, want 1 within ±%g", e.Sum, SumTolerance)
}

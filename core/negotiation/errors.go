package negotiation

import "errors"

// ErrInfeasibleAllocation reports a consumer allocated more than its target
// once the restart budget is exhausted. The outcome is neither scored nor
// retried.
var ErrInfeasibleAllocation = errors.New("infeasible allocation")

// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package reconcile provides the check-then-apply primitive shared by
// every provisioning step: observe current external state, compare to
// the desired state, and mutate only on a difference. Re-running a
// pipeline of reconcilers converges to the same end state.
package reconcile

import (
	"context"

	"github.com/juju/errors"

	internallogger "github.com/cloudship/cloudship/internal/logger"
)

var logger = internallogger.GetLogger("cloudship.reconcile")

// Outcome reports how a reconcile step ended. Failure is carried in
// the error return, not here.
type Outcome int

const (
	// OutcomeUnknown means the step never ran.
	OutcomeUnknown Outcome = iota

	// AlreadySatisfied means the external state already matched the
	// desired state and no mutation was issued.
	AlreadySatisfied

	// Applied means exactly one mutating call was issued to converge
	// the external state.
	Applied
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case AlreadySatisfied:
		return "already satisfied"
	case Applied:
		return "applied"
	}
	return "unknown"
}

// Step is one idempotent unit of a provisioning pipeline. Run must
// treat absence of the target entity as a valid non-error state, and
// must map the provider's "already exists" conflict to AlreadySatisfied
// since re-runs and retries are expected.
type Step struct {
	// Name identifies the step in logs and error messages.
	Name string

	// Run performs the reconcile.
	Run func(ctx context.Context) (Outcome, error)
}

// Result records the outcome of a completed step.
type Result struct {
	Name    string
	Outcome Outcome
}

// Run executes the steps strictly in order, one external call at a
// time. The first failure halts the pipeline: later steps would be
// provisioning against an inconsistent base. Results for the steps
// that did complete are returned alongside the error. There is no
// rollback of applied steps; re-running converges.
func Run(ctx context.Context, steps []Step) ([]Result, error) {
	results := make([]Result, 0, len(steps))
	for _, step := range steps {
		outcome, err := step.Run(ctx)
		if err != nil {
			return results, errors.Annotatef(err, "reconciling %s", step.Name)
		}
		logger.Infof("%s: %s", step.Name, outcome)
		results = append(results, Result{Name: step.Name, Outcome: outcome})
	}
	return results, nil
}

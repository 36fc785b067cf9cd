// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package azure

import (
	"context"

	"github.com/juju/errors"

	"github.com/cloudship/cloudship/internal/reconcile"
)

const registeredState = "Registered"

// EnsureProviderRegistered reconciles the registration of one resource
// provider namespace. Registration is asynchronous on the ARM side; the
// mutation is fired once and ARM converges on its own, so a re-run while
// registration is still in flight reports Applied again rather than
// failing.
func (p *Provisioner) EnsureProviderRegistered(ctx context.Context, namespace string) (reconcile.Outcome, error) {
	current, err := p.providers.Get(ctx, namespace, nil)
	if err != nil {
		return reconcile.OutcomeUnknown, errors.Annotatef(err, "querying provider %q", namespace)
	}
	if current.RegistrationState != nil && *current.RegistrationState == registeredState {
		return reconcile.AlreadySatisfied, nil
	}
	logger.Debugf("registering resource provider %q", namespace)
	if _, err := p.providers.Register(ctx, namespace, nil); err != nil {
		return reconcile.OutcomeUnknown, errors.Annotatef(err, "registering provider %q", namespace)
	}
	return reconcile.Applied, nil
}

// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package azure

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v3"
	"github.com/juju/errors"
	"github.com/juju/retry"

	"github.com/cloudship/cloudship/internal/reconcile"
)

const (
	// Role assignments against a principal created moments ago can fail
	// while the directory change propagates.
	roleAssignmentMaxAttempts = 10
	roleAssignmentDelay       = 5 * time.Second
)

// RoleAssignmentParams is the desired state for the deployer's role
// assignment: the (principal, role, scope) identity triple.
type RoleAssignmentParams struct {
	PrincipalObjectID string
	RoleName          string
	ResourceGroup     string
}

// scope returns the exact resource group scope the assignment binds to.
func (a RoleAssignmentParams) scope(subscriptionID string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s", subscriptionID, a.ResourceGroup)
}

// EnsureRoleAssignment reconciles a role assignment at resource group
// scope. An assignment for the same (principal, role, scope) triple is
// never re-issued; a RoleAssignmentExists conflict from a concurrent or
// repeated run maps to AlreadySatisfied.
func (p *Provisioner) EnsureRoleAssignment(ctx context.Context, params RoleAssignmentParams) (reconcile.Outcome, error) {
	scope := params.scope(p.subscriptionID)

	roleDefinitionID, err := p.findRoleDefinition(ctx, scope, params.RoleName)
	if err != nil {
		return reconcile.OutcomeUnknown, errors.Trace(err)
	}

	assigned, err := p.roleAssigned(ctx, scope, params.PrincipalObjectID, roleDefinitionID)
	if err != nil {
		return reconcile.OutcomeUnknown, errors.Trace(err)
	}
	if assigned {
		return reconcile.AlreadySatisfied, nil
	}

	assignmentName, err := p.newUUID()
	if err != nil {
		return reconcile.OutcomeUnknown, errors.Trace(err)
	}
	logger.Debugf("assigning role %q to principal %q at %q", params.RoleName, params.PrincipalObjectID, scope)
	err = retry.Call(retry.CallArgs{
		Func: func() error {
			_, err := p.roleAssignments.Create(ctx, scope, assignmentName.String(),
				armauthorization.RoleAssignmentCreateParameters{
					Properties: &armauthorization.RoleAssignmentProperties{
						PrincipalID:      to.Ptr(params.PrincipalObjectID),
						RoleDefinitionID: to.Ptr(roleDefinitionID),
						PrincipalType:    to.Ptr(armauthorization.PrincipalTypeServicePrincipal),
					},
				}, nil)
			return err
		},
		// A newly created principal may not have propagated through the
		// directory yet; only that window is worth retrying.
		IsFatalError: func(err error) bool {
			return !hasErrorCode(err, "PrincipalNotFound")
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("role assignment attempt %d: %v", attempt, err)
		},
		Attempts: roleAssignmentMaxAttempts,
		Delay:    roleAssignmentDelay,
		Clock:    p.clock,
	})
	if retry.IsAttemptsExceeded(err) {
		err = retry.LastError(err)
	}
	if hasErrorCode(err, "RoleAssignmentExists") {
		return reconcile.AlreadySatisfied, nil
	}
	if err != nil {
		return reconcile.OutcomeUnknown, errors.Annotate(err, "creating role assignment")
	}
	return reconcile.Applied, nil
}

func (p *Provisioner) findRoleDefinition(ctx context.Context, scope, roleName string) (string, error) {
	pager := p.roleDefinitions.NewListPager(scope, &armauthorization.RoleDefinitionsClientListOptions{
		Filter: to.Ptr(fmt.Sprintf("roleName eq '%s'", roleName)),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return "", errors.Annotatef(err, "listing role definitions for %q", roleName)
		}
		for _, def := range page.Value {
			if def.Properties == nil || def.Properties.RoleName == nil {
				continue
			}
			if *def.Properties.RoleName == roleName && def.ID != nil {
				return *def.ID, nil
			}
		}
	}
	return "", errors.NotFoundf("role definition %q", roleName)
}

// roleAssigned reports whether the principal already holds the role at
// exactly the given scope. Assignments inherited from broader scopes do
// not count.
func (p *Provisioner) roleAssigned(ctx context.Context, scope, principalID, roleDefinitionID string) (bool, error) {
	pager := p.roleAssignments.NewListForScopePager(scope, &armauthorization.RoleAssignmentsClientListForScopeOptions{
		Filter: to.Ptr(fmt.Sprintf("principalId eq '%s'", principalID)),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return false, errors.Annotate(err, "listing role assignments")
		}
		for _, assignment := range page.Value {
			props := assignment.Properties
			if props == nil || props.RoleDefinitionID == nil || props.Scope == nil {
				continue
			}
			if *props.RoleDefinitionID == roleDefinitionID && *props.Scope == scope {
				return true, nil
			}
		}
	}
	return false, nil
}

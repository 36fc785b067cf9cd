// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package azure_test

import (
	"net/http"
	stdtesting "testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v3"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/juju/tc"

	"github.com/cloudship/cloudship/internal/azure"
	"github.com/cloudship/cloudship/internal/azure/azuretesting"
	"github.com/cloudship/cloudship/internal/reconcile"
)

const (
	fakeSubscriptionId = "22222222-2222-2222-2222-222222222222"
	fakePrincipalId    = "55555555-5555-5555-5555-555555555555"
	contributorRoleId  = "/subscriptions/" + fakeSubscriptionId + "/providers/Microsoft.Authorization/roleDefinitions/b24988ac"
	groupScope         = "/subscriptions/" + fakeSubscriptionId + "/resourceGroups/myapp-rg"
)

type provisionerSuite struct {
	clock   testclock.AdvanceableClock
	newUUID func() (uuid.UUID, error)
}

func TestProvisionerSuite(t *stdtesting.T) { tc.Run(t, &provisionerSuite{}) }

func (s *provisionerSuite) SetUpTest(c *tc.C) {
	s.clock = testclock.NewDilatedWallClock(10 * time.Millisecond)
	s.newUUID = func() (uuid.UUID, error) {
		return uuid.Parse("66666666-6666-6666-6666-666666666666")
	}
}

func (s *provisionerSuite) newProvisioner(c *tc.C, senders *azuretesting.Senders) *azure.Provisioner {
	p, err := azure.NewProvisioner(azure.ProvisionerParams{
		SubscriptionID: fakeSubscriptionId,
		Credential:     &azuretesting.FakeCredential{},
		Transporter:    senders,
		Clock:          s.clock,
		NewUUID:        s.newUUID,
	})
	c.Assert(err, tc.ErrorIsNil)
	return p
}

func providerSender(state string) *azuretesting.MockSender {
	sender := azuretesting.NewSenderWithValue(armresources.Provider{
		Namespace:         to.Ptr("Microsoft.App"),
		RegistrationState: to.Ptr(state),
	})
	sender.PathPattern = ".*/providers/Microsoft.App"
	return sender
}

func roleDefinitionListSender(name, id string) *azuretesting.MockSender {
	sender := azuretesting.NewSenderWithValue(armauthorization.RoleDefinitionListResult{
		Value: []*armauthorization.RoleDefinition{{
			ID:   to.Ptr(id),
			Name: to.Ptr("name-id"),
			Properties: &armauthorization.RoleDefinitionProperties{
				RoleName: to.Ptr(name),
			},
		}},
	})
	sender.PathPattern = ".*/roleDefinitions"
	return sender
}

func roleAssignmentListSender(assignments ...*armauthorization.RoleAssignment) *azuretesting.MockSender {
	sender := azuretesting.NewSenderWithValue(armauthorization.RoleAssignmentListResult{
		Value: assignments,
	})
	sender.PathPattern = ".*/roleAssignments"
	return sender
}

func roleAssignmentSender() *azuretesting.MockSender {
	return azuretesting.NewSenderWithValue(armauthorization.RoleAssignment{})
}

func errorSender(statusCode int, code string) *azuretesting.MockSender {
	sender := &azuretesting.MockSender{}
	body := azuretesting.NewBody(`{"error":{"code":"` + code + `", "message":"Odata v4 compliant message"}}`)
	sender.AppendResponse(azuretesting.NewResponseWithBodyAndStatus(body, statusCode, ""))
	return sender
}

func (s *provisionerSuite) TestProviderAlreadyRegistered(c *tc.C) {
	senders := &azuretesting.Senders{providerSender("Registered")}
	p := s.newProvisioner(c, senders)

	outcome, err := p.EnsureProviderRegistered(c.Context(), "Microsoft.App")
	c.Assert(err, tc.ErrorIsNil)
	c.Assert(outcome, tc.Equals, reconcile.AlreadySatisfied)
	c.Assert(*senders, tc.HasLen, 0)
}

func (s *provisionerSuite) TestProviderRegisters(c *tc.C) {
	senders := &azuretesting.Senders{
		providerSender("NotRegistered"),
		azuretesting.NewSenderWithValue(armresources.Provider{
			RegistrationState: to.Ptr("Registering"),
		}),
	}
	p := s.newProvisioner(c, senders)

	outcome, err := p.EnsureProviderRegistered(c.Context(), "Microsoft.App")
	c.Assert(err, tc.ErrorIsNil)
	c.Assert(outcome, tc.Equals, reconcile.Applied)
	c.Assert(*senders, tc.HasLen, 0)
}

func (s *provisionerSuite) TestResourceGroupExistsSkipsCreate(c *tc.C) {
	exists := &azuretesting.MockSender{}
	exists.AppendResponse(azuretesting.NewResponseWithStatus(http.StatusNoContent, ""))
	senders := &azuretesting.Senders{exists}
	p := s.newProvisioner(c, senders)

	outcome, err := p.EnsureResourceGroup(c.Context(), "myapp-rg", "westeurope")
	c.Assert(err, tc.ErrorIsNil)
	c.Assert(outcome, tc.Equals, reconcile.AlreadySatisfied)
	// No create call was issued.
	c.Assert(*senders, tc.HasLen, 0)
}

func (s *provisionerSuite) TestResourceGroupCreated(c *tc.C) {
	missing := &azuretesting.MockSender{}
	missing.AppendResponse(azuretesting.NewResponseWithStatus(http.StatusNotFound, ""))
	senders := &azuretesting.Senders{
		missing,
		azuretesting.NewSenderWithValue(armresources.ResourceGroup{
			Name:     to.Ptr("myapp-rg"),
			Location: to.Ptr("westeurope"),
		}),
	}
	p := s.newProvisioner(c, senders)

	outcome, err := p.EnsureResourceGroup(c.Context(), "myapp-rg", "westeurope")
	c.Assert(err, tc.ErrorIsNil)
	c.Assert(outcome, tc.Equals, reconcile.Applied)
	c.Assert(*senders, tc.HasLen, 0)
}

func (s *provisionerSuite) TestTenantID(c *tc.C) {
	senders := &azuretesting.Senders{
		azuretesting.NewSenderWithValue(armsubscriptions.Subscription{
			TenantID: to.Ptr("11111111-1111-1111-1111-111111111111"),
		}),
	}
	p := s.newProvisioner(c, senders)

	tenantID, err := p.TenantID(c.Context())
	c.Assert(err, tc.ErrorIsNil)
	c.Assert(tenantID, tc.Equals, "11111111-1111-1111-1111-111111111111")
}

func contributorParams() azure.RoleAssignmentParams {
	return azure.RoleAssignmentParams{
		PrincipalObjectID: fakePrincipalId,
		RoleName:          "Contributor",
		ResourceGroup:     "myapp-rg",
	}
}

func (s *provisionerSuite) TestRoleAssignmentCreated(c *tc.C) {
	senders := &azuretesting.Senders{
		roleDefinitionListSender("Contributor", contributorRoleId),
		roleAssignmentListSender(),
		roleAssignmentSender(),
	}
	p := s.newProvisioner(c, senders)

	outcome, err := p.EnsureRoleAssignment(c.Context(), contributorParams())
	c.Assert(err, tc.ErrorIsNil)
	c.Assert(outcome, tc.Equals, reconcile.Applied)
	c.Assert(*senders, tc.HasLen, 0)
}

func (s *provisionerSuite) TestRoleAssignmentAtScopeNotReissued(c *tc.C) {
	senders := &azuretesting.Senders{
		roleDefinitionListSender("Contributor", contributorRoleId),
		roleAssignmentListSender(&armauthorization.RoleAssignment{
			Properties: &armauthorization.RoleAssignmentProperties{
				PrincipalID:      to.Ptr(fakePrincipalId),
				RoleDefinitionID: to.Ptr(contributorRoleId),
				Scope:            to.Ptr(groupScope),
			},
		}),
	}
	p := s.newProvisioner(c, senders)

	outcome, err := p.EnsureRoleAssignment(c.Context(), contributorParams())
	c.Assert(err, tc.ErrorIsNil)
	c.Assert(outcome, tc.Equals, reconcile.AlreadySatisfied)
	// The create call was never issued.
	c.Assert(*senders, tc.HasLen, 0)
}

func (s *provisionerSuite) TestRoleAssignmentInheritedDoesNotCount(c *tc.C) {
	// An assignment inherited from subscription scope is not the
	// desired resource group assignment.
	senders := &azuretesting.Senders{
		roleDefinitionListSender("Contributor", contributorRoleId),
		roleAssignmentListSender(&armauthorization.RoleAssignment{
			Properties: &armauthorization.RoleAssignmentProperties{
				PrincipalID:      to.Ptr(fakePrincipalId),
				RoleDefinitionID: to.Ptr(contributorRoleId),
				Scope:            to.Ptr("/subscriptions/" + fakeSubscriptionId),
			},
		}),
		roleAssignmentSender(),
	}
	p := s.newProvisioner(c, senders)

	outcome, err := p.EnsureRoleAssignment(c.Context(), contributorParams())
	c.Assert(err, tc.ErrorIsNil)
	c.Assert(outcome, tc.Equals, reconcile.Applied)
}

func (s *provisionerSuite) TestRoleAssignmentAlreadyExistsConflict(c *tc.C) {
	senders := &azuretesting.Senders{
		roleDefinitionListSender("Contributor", contributorRoleId),
		roleAssignmentListSender(),
		errorSender(http.StatusConflict, "RoleAssignmentExists"),
	}
	p := s.newProvisioner(c, senders)

	outcome, err := p.EnsureRoleAssignment(c.Context(), contributorParams())
	c.Assert(err, tc.ErrorIsNil)
	c.Assert(outcome, tc.Equals, reconcile.AlreadySatisfied)
}

func (s *provisionerSuite) TestRoleAssignmentRetriesPrincipalNotFound(c *tc.C) {
	senders := &azuretesting.Senders{
		roleDefinitionListSender("Contributor", contributorRoleId),
		roleAssignmentListSender(),
		errorSender(http.StatusNotFound, "PrincipalNotFound"),
		roleAssignmentSender(),
	}
	p := s.newProvisioner(c, senders)

	outcome, err := p.EnsureRoleAssignment(c.Context(), contributorParams())
	c.Assert(err, tc.ErrorIsNil)
	c.Assert(outcome, tc.Equals, reconcile.Applied)
	c.Assert(*senders, tc.HasLen, 0)
}

func (s *provisionerSuite) TestRoleAssignmentOtherFailureFatal(c *tc.C) {
	senders := &azuretesting.Senders{
		roleDefinitionListSender("Contributor", contributorRoleId),
		roleAssignmentListSender(),
		errorSender(http.StatusForbidden, "AuthorizationFailed"),
	}
	p := s.newProvisioner(c, senders)

	_, err := p.EnsureRoleAssignment(c.Context(), contributorParams())
	c.Assert(err, tc.ErrorMatches, "(?s)creating role assignment.*AuthorizationFailed.*")
}

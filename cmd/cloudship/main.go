// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// cloudship is an operator CLI that prepares an Azure subscription and
// a GitHub repository for OIDC-based continuous deployment, then builds
// and pushes the application image.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudship/cloudship/internal/cmd"
	internallogger "github.com/cloudship/cloudship/internal/logger"
)

const version = "0.3.1"

var doc = `
cloudship provisions everything a GitHub Actions deployment workflow
needs: Azure resource providers, a resource group, an AD application
with a service principal and federated credentials for workflow OIDC
token exchange, a Contributor role assignment, and the repository
secrets and deployment environments on the GitHub side.

All steps reconcile current state against desired state, so re-running
any command is safe.
`

func main() {
	os.Exit(Run(context.Background(), os.Args[1:]))
}

// Run executes the cloudship super command and returns its exit code.
func Run(ctx context.Context, args []string) int {
	if err := internallogger.ConfigureFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR %v\n", err)
		return 2
	}
	cmdCtx, err := cmd.DefaultContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR %v\n", err)
		return 2
	}
	return cmd.Main(newSuperCommand(), cmdCtx, args)
}

func newSuperCommand() *cmd.SuperCommand {
	super := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "cloudship",
		Purpose: "Provision Azure and GitHub for OIDC continuous deployment",
		Doc:     doc,
		Version: version,
	})
	super.Register(newBootstrapCommand())
	super.Register(newVerifySecretsCommand())
	super.Register(newReleaseCommand())
	return super
}

// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package github reconciles repository secrets and deployment
// environments through the GitHub REST API.
package github

import (
	"context"
	"net/url"

	"github.com/google/go-github/v66/github"
	"github.com/juju/errors"
	"golang.org/x/oauth2"

	internallogger "github.com/cloudship/cloudship/internal/logger"
)

var logger = internallogger.GetLogger("cloudship.github")

// ClientParams configures a Client.
type ClientParams struct {
	Owner      string
	Repository string
	Token      string

	// BaseURL overrides the API endpoint; tests point it at a local
	// server. Must end with a trailing slash.
	BaseURL string
}

// Client manages secrets and environments for a single repository.
type Client struct {
	owner string
	repo  string
	gh    *github.Client
}

// NewClient returns a Client authenticated with the given token.
func NewClient(ctx context.Context, params ClientParams) (*Client, error) {
	if params.Token == "" {
		return nil, errors.NotValidf("empty github token")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: params.Token})
	gh := github.NewClient(oauth2.NewClient(ctx, ts))
	if params.BaseURL != "" {
		base, err := url.Parse(params.BaseURL)
		if err != nil {
			return nil, errors.Annotate(err, "parsing base url")
		}
		gh.BaseURL = base
	}
	return &Client{
		owner: params.Owner,
		repo:  params.Repository,
		gh:    gh,
	}, nil
}

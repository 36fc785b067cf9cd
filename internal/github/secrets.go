// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package github

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/google/go-github/v66/github"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"golang.org/x/crypto/nacl/box"
)

// RequiredDatabaseSuffixes are the database connection secrets every
// deployment workflow needs, to be prefixed with the configured
// namespace tag.
var RequiredDatabaseSuffixes = []string{"HOST", "PORT", "USER", "DATABASE", "PASSWORD"}

// RequiredDatabaseSecretNames returns the full prefixed secret names.
func RequiredDatabaseSecretNames(prefix string) []string {
	names := make([]string, len(RequiredDatabaseSuffixes))
	for i, suffix := range RequiredDatabaseSuffixes {
		names[i] = prefix + "_" + suffix
	}
	return names
}

// SetSecret writes one repository secret. The API cannot read secret
// values back, so there is no check phase: a set is issued every run
// and is idempotent by API semantics.
func (c *Client) SetSecret(ctx context.Context, name, value string) error {
	if value == "" {
		return errors.NotValidf("empty value for secret %q", name)
	}
	key, _, err := c.gh.Actions.GetRepoPublicKey(ctx, c.owner, c.repo)
	if err != nil {
		return errors.Annotate(err, "fetching repository public key")
	}
	encrypted, err := sealSecret(key, name, value)
	if err != nil {
		return errors.Trace(err)
	}
	logger.Debugf("setting repository secret %q", name)
	if _, err := c.gh.Actions.CreateOrUpdateRepoSecret(ctx, c.owner, c.repo, encrypted); err != nil {
		return errors.Annotatef(err, "setting secret %q", name)
	}
	return nil
}

// ListSecretNames enumerates the names of all repository secrets.
func (c *Client) ListSecretNames(ctx context.Context) ([]string, error) {
	var names []string
	opts := &github.ListOptions{PerPage: 100}
	for {
		secrets, resp, err := c.gh.Actions.ListRepoSecrets(ctx, c.owner, c.repo, opts)
		if err != nil {
			return nil, errors.Annotate(err, "listing repository secrets")
		}
		for _, secret := range secrets.Secrets {
			names = append(names, secret.Name)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return names, nil
}

// VerifyRequiredSecrets checks that every required name already exists
// in the repository. All missing names are collected and reported
// together; no partial completion is attempted.
func (c *Client) VerifyRequiredSecrets(ctx context.Context, required []string) error {
	existing, err := c.ListSecretNames(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	missing := set.NewStrings(required...).Difference(set.NewStrings(existing...))
	if missing.IsEmpty() {
		return nil
	}
	return errors.Errorf("missing required secrets: %s", strings.Join(missing.SortedValues(), ", "))
}

// sealSecret encrypts value against the repository public key using an
// anonymous sealed box, the only form the secrets API accepts.
func sealSecret(key *github.PublicKey, name, value string) (*github.EncryptedSecret, error) {
	decoded, err := base64.StdEncoding.DecodeString(key.GetKey())
	if err != nil {
		return nil, errors.Annotate(err, "decoding repository public key")
	}
	if len(decoded) != 32 {
		return nil, errors.NotValidf("repository public key of %d bytes", len(decoded))
	}
	var publicKey [32]byte
	copy(publicKey[:], decoded)
	sealed, err := box.SealAnonymous(nil, []byte(value), &publicKey, rand.Reader)
	if err != nil {
		return nil, errors.Annotate(err, "sealing secret value")
	}
	return &github.EncryptedSecret{
		Name:           name,
		KeyID:          key.GetKeyID(),
		EncryptedValue: base64.StdEncoding.EncodeToString(sealed),
	}, nil
}

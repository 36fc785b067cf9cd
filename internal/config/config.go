// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config reads and validates the bootstrap configuration file.
// All operator choices are explicit configuration rather than terminal
// prompts, so runs are reproducible and testable headlessly.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/yaml.v3"
)

// SecretsMode selects how database connection secrets are handled.
type SecretsMode string

const (
	// SecretsModeSetNew writes the configured secret values to the
	// repository.
	SecretsModeSetNew SecretsMode = "set-new"

	// SecretsModeVerifyExisting checks that every required secret name
	// already exists and fails listing the missing ones otherwise.
	SecretsModeVerifyExisting SecretsMode = "verify-existing"

	// SecretsModeSkip performs no database secret calls at all.
	SecretsModeSkip SecretsMode = "skip"
)

// GitHubTokenEnvKey is consulted when the config file carries no token.
const GitHubTokenEnvKey = "GITHUB_TOKEN"

// RequiredDatabaseValueKeys are the value keys set-new mode must
// supply, in the order they are reported when missing.
var RequiredDatabaseValueKeys = []string{"host", "port", "user", "database", "password"}

// DefaultResourceProviders are the namespaces registered when the
// config does not name its own set.
var DefaultResourceProviders = []string{
	"Microsoft.App",
	"Microsoft.OperationalInsights",
	"Microsoft.ContainerRegistry",
}

// GitHub identifies the repository being configured and the token used
// to talk to the API.
type GitHub struct {
	Owner      string
	Repository string
	Token      string
}

// Slug returns the "owner/name" form used in OIDC subject claims.
func (g GitHub) Slug() string {
	return g.Owner + "/" + g.Repository
}

// Environment describes one GitHub deployment environment.
type Environment struct {
	Name string

	// ProtectedBranches restricts deployments to branches with
	// branch protection rules.
	ProtectedBranches bool
}

// DatabaseSecrets describes the database connection secret intake.
type DatabaseSecrets struct {
	Mode   SecretsMode
	Prefix string

	// Values holds the secret values for set-new mode, keyed by the
	// unprefixed names (host, port, user, database, password).
	Values map[string]string
}

// Image describes the container image build and push.
type Image struct {
	Name       string
	Tag        string
	Platform   string
	Context    string
	Dockerfile string
}

// Reference returns the full image reference handed to build and push.
func (i Image) Reference() string {
	return i.Name + ":" + i.Tag
}

// Config is the desired state for a full bootstrap run.
type Config struct {
	SubscriptionID    string
	TenantID          string
	Location          string
	ResourceGroup     string
	ApplicationName   string
	ResourceProviders []string
	GitHub            GitHub
	Environments      []Environment
	DatabaseSecrets   DatabaseSecrets
	Image             Image
}

var configChecker = schema.FieldMap(schema.Fields{
	"subscription-id":    schema.String(),
	"tenant-id":          schema.String(),
	"location":           schema.String(),
	"resource-group":     schema.String(),
	"application-name":   schema.String(),
	"resource-providers": schema.List(schema.String()),
	"github": schema.FieldMap(schema.Fields{
		"owner":      schema.String(),
		"repository": schema.String(),
		"token":      schema.String(),
	}, schema.Defaults{
		"token": "",
	}),
	"environments": schema.List(schema.FieldMap(schema.Fields{
		"name":               schema.String(),
		"protected-branches": schema.Bool(),
	}, schema.Defaults{
		"protected-branches": false,
	})),
	"database-secrets": schema.FieldMap(schema.Fields{
		"mode":   schema.OneOf(schema.Const("set-new"), schema.Const("verify-existing"), schema.Const("skip")),
		"prefix": schema.String(),
		"values": schema.StringMap(schema.String()),
	}, schema.Defaults{
		"mode":   "skip",
		"prefix": "",
		"values": schema.Omit,
	}),
	"image": schema.FieldMap(schema.Fields{
		"name":       schema.String(),
		"tag":        schema.String(),
		"platform":   schema.String(),
		"context":    schema.String(),
		"dockerfile": schema.String(),
	}, schema.Defaults{
		"tag":        "latest",
		"platform":   "linux/amd64",
		"context":    ".",
		"dockerfile": "Dockerfile",
	}),
}, schema.Defaults{
	"tenant-id":          "",
	"resource-providers": schema.Omit,
	"environments":       schema.Omit,
	"database-secrets":   schema.Omit,
	"image":              schema.Omit,
})

// Read loads, coerces and validates the config file at path.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "reading config file")
	}
	return Parse(data)
}

// Parse coerces and validates raw YAML config content.
func Parse(data []byte) (*Config, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Annotate(err, "parsing config file")
	}
	coerced, err := configChecker.Coerce(raw, nil)
	if err != nil {
		return nil, errors.Annotate(err, "validating config file")
	}
	attrs := coerced.(map[string]interface{})

	cfg := &Config{
		SubscriptionID:    attrs["subscription-id"].(string),
		TenantID:          attrs["tenant-id"].(string),
		Location:          attrs["location"].(string),
		ResourceGroup:     attrs["resource-group"].(string),
		ApplicationName:   attrs["application-name"].(string),
		ResourceProviders: stringList(attrs["resource-providers"]),
	}
	if cfg.ResourceProviders == nil {
		cfg.ResourceProviders = DefaultResourceProviders
	}

	gh := attrs["github"].(map[string]interface{})
	cfg.GitHub = GitHub{
		Owner:      gh["owner"].(string),
		Repository: gh["repository"].(string),
		Token:      gh["token"].(string),
	}
	if cfg.GitHub.Token == "" {
		cfg.GitHub.Token = os.Getenv(GitHubTokenEnvKey)
	}

	if envs, ok := attrs["environments"].([]interface{}); ok {
		for _, e := range envs {
			fields := e.(map[string]interface{})
			cfg.Environments = append(cfg.Environments, Environment{
				Name:              fields["name"].(string),
				ProtectedBranches: fields["protected-branches"].(bool),
			})
		}
	} else {
		cfg.Environments = []Environment{
			{Name: "production", ProtectedBranches: true},
			{Name: "staging"},
		}
	}

	cfg.DatabaseSecrets = DatabaseSecrets{Mode: SecretsModeSkip}
	if db, ok := attrs["database-secrets"].(map[string]interface{}); ok {
		cfg.DatabaseSecrets.Mode = SecretsMode(db["mode"].(string))
		cfg.DatabaseSecrets.Prefix = db["prefix"].(string)
		if values, ok := db["values"].(map[string]interface{}); ok {
			cfg.DatabaseSecrets.Values = make(map[string]string, len(values))
			for k, v := range values {
				cfg.DatabaseSecrets.Values[k] = v.(string)
			}
		}
	}

	if img, ok := attrs["image"].(map[string]interface{}); ok {
		cfg.Image = Image{
			Name:       img["name"].(string),
			Tag:        img["tag"].(string),
			Platform:   img["platform"].(string),
			Context:    img["context"].(string),
			Dockerfile: img["dockerfile"].(string),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints the schema cannot express.
func (c *Config) Validate() error {
	if c.GitHub.Token == "" {
		return errors.NewNotValid(nil, "github token missing: set github.token or "+GitHubTokenEnvKey)
	}
	if c.DatabaseSecrets.Mode == SecretsModeSetNew {
		if c.DatabaseSecrets.Prefix == "" {
			return errors.NewNotValid(nil, "database-secrets.prefix is required in set-new mode")
		}
		// Every value must be known before any external call is made;
		// discovering one missing mid-run would leave a partial write.
		var missing []string
		for _, key := range RequiredDatabaseValueKeys {
			if c.DatabaseSecrets.Values[key] == "" {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			return errors.NewNotValid(nil, fmt.Sprintf(
				"database-secrets.values missing %s in set-new mode", strings.Join(missing, ", ")))
		}
	}
	if c.DatabaseSecrets.Mode == SecretsModeVerifyExisting && c.DatabaseSecrets.Prefix == "" {
		return errors.NewNotValid(nil, "database-secrets.prefix is required in verify-existing mode")
	}
	return nil
}

func stringList(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.(string)
	}
	return out
}

// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package docker wraps the docker CLI for the image release pipeline:
// registry credential detection, an interactive login fallback, and a
// single-platform build and push.
package docker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	internallogger "github.com/cloudship/cloudship/internal/logger"
)

var logger = internallogger.GetLogger("cloudship.docker")

// DefaultRegistry is assumed when an image name carries no registry host.
const DefaultRegistry = "docker.io"

// configData is the subset of ~/.docker/config.json needed to decide
// whether a registry login already exists.
type configData struct {
	Auths       map[string]authEntry `json:"auths"`
	CredsStore  string               `json:"credsStore"`
	CredHelpers map[string]string    `json:"credHelpers"`
}

type authEntry struct {
	Auth string `json:"auth"`
}

// DefaultConfigPath returns the conventional docker config location.
func DefaultConfigPath() string {
	if dir := os.Getenv("DOCKER_CONFIG"); dir != "" {
		return filepath.Join(dir, "config.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".docker", "config.json")
}

// HasCredentials reports whether the credential store at path holds a
// usable login for the registry. A configured external credential
// helper is trusted to supply one.
func HasCredentials(path, registry string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Debugf("no docker config at %q: %v", path, err)
		return false
	}
	var cfg configData
	if err := json.Unmarshal(data, &cfg); err != nil {
		logger.Debugf("malformed docker config at %q: %v", path, err)
		return false
	}
	if _, ok := cfg.CredHelpers[registry]; ok {
		return true
	}
	if cfg.CredsStore != "" {
		return true
	}
	for server, entry := range cfg.Auths {
		if entry.Auth == "" {
			continue
		}
		if registryMatches(server, registry) {
			return true
		}
	}
	return false
}

func registryMatches(server, registry string) bool {
	server = strings.TrimPrefix(server, "https://")
	server = strings.TrimPrefix(server, "http://")
	server = strings.TrimSuffix(strings.SplitN(server, "/", 2)[0], "/")
	if server == registry {
		return true
	}
	// Docker Hub logins are stored under index.docker.io.
	if registry == DefaultRegistry && strings.HasSuffix(server, "docker.io") {
		return true
	}
	return false
}

// RegistryHost extracts the registry host from an image name,
// defaulting to Docker Hub when the first path component is not a
// hostname.
func RegistryHost(imageName string) string {
	first := strings.SplitN(imageName, "/", 2)[0]
	if first == imageName {
		return DefaultRegistry
	}
	if strings.ContainsAny(first, ".:") || first == "localhost" {
		return first
	}
	return DefaultRegistry
}

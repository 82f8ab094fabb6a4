package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/routecodex/routecodex/pkg/types"
)

// LocalOverrides is an optional, human-edited YAML file layered on top of
// the resolved RuntimeConfig's httpServer block: operator-facing knobs
// (host/port/apiKey/jwtSecret/ingress throttle) that change per deployment
// environment and don't belong in the strict, schema-checked JSON documents
// spec.md §4.1 mandates for providers/credentials/routing.
type LocalOverrides struct {
	HTTPServer *types.HTTPServerConfig `yaml:"httpServer"`
}

// LoadLocalOverrides reads path if it exists and returns its httpServer
// overrides; a missing file is not an error (overrides are optional), but a
// malformed one is.
func LoadLocalOverrides(path string) (*LocalOverrides, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &LocalOverrides{}, nil
	}
	if err != nil {
		return nil, fail(path, "read local overrides: %v", err)
	}

	var out LocalOverrides
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fail(path, "parse local overrides: %v", err)
	}
	return &out, nil
}

// Apply layers non-zero fields from o onto rc's httpServer block, returning
// the updated RuntimeConfig. A zero-value field in o leaves rc's value
// untouched, so an override file only needs to name the fields it changes.
func (o *LocalOverrides) Apply(rc types.RuntimeConfig) types.RuntimeConfig {
	if o == nil || o.HTTPServer == nil {
		return rc
	}
	ov := o.HTTPServer
	if ov.Host != "" {
		rc.HTTPServer.Host = ov.Host
	}
	if ov.Port != 0 {
		rc.HTTPServer.Port = ov.Port
	}
	if ov.APIKey != "" {
		rc.HTTPServer.APIKey = ov.APIKey
	}
	if ov.JWTSecret != "" {
		rc.HTTPServer.JWTSecret = ov.JWTSecret
	}
	if ov.IngressRatePerSecond != 0 {
		rc.HTTPServer.IngressRatePerSecond = ov.IngressRatePerSecond
	}
	if ov.IngressBurst != 0 {
		rc.HTTPServer.IngressBurst = ov.IngressBurst
	}
	return rc
}

package model

import (
	"fmt"
	"strings"
)

// APIVariant identifies the wire protocol a resource speaks. The variant is
// decided once when a resource is loaded from configuration.
type APIVariant string

const (
	// APIVariantLabDiscovery is the labdiscoverylib protocol (paths under /ldl).
	APIVariantLabDiscovery APIVariant = "labdiscoverylib"

	// APIVariantWebLab is the legacy weblablib protocol (paths under /weblab).
	APIVariantWebLab APIVariant = "weblablib"
)

// ParseAPIVariant maps the configured api field onto a variant. Historic
// deployments used free-form strings such as "weblablib-6.0", hence the
// prefix match.
func ParseAPIVariant(api string) (APIVariant, error) {
	switch {
	case api == "" || strings.HasPrefix(api, string(APIVariantLabDiscovery)):
		return APIVariantLabDiscovery, nil
	case strings.HasPrefix(api, string(APIVariantWebLab)):
		return APIVariantWebLab, nil
	}
	return "", fmt.Errorf("unknown api variant: %q", api)
}

// Resource represents a single copy of a laboratory: one concrete,
// singly-occupiable endpoint that can run a session for one user at a time.
// Resources are immutable and loaded from configuration.
type Resource struct {
	Identifier string     `yaml:"-" json:"identifier"`
	URL        string     `yaml:"url" json:"url"`
	Login      string     `yaml:"login" json:"-"`
	Password   string     `yaml:"password" json:"-"`
	Features   []string   `yaml:"features" json:"features,omitempty"`
	API        APIVariant `yaml:"api" json:"api"`
}

// HasFeature reports whether the resource advertises the named feature.
func (r *Resource) HasFeature(feature string) bool {
	for _, candidate := range r.Features {
		if candidate == feature {
			return true
		}
	}
	return false
}

// Laboratory is a named offering backed by a set of interchangeable
// resources. Immutable; lifecycle tied to configuration reload.
type Laboratory struct {
	Identifier  string   `yaml:"-" json:"identifier"`
	DisplayName string   `yaml:"display_name" json:"displayName"`
	Category    string   `yaml:"category" json:"category,omitempty"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Keywords    []string `yaml:"keywords" json:"keywords,omitempty"`
	MaxTime     float64  `yaml:"max_time" json:"maxTime"`
	Resources   []string `yaml:"resources" json:"resources"`
	Features    []string `yaml:"features" json:"features,omitempty"`
	Image       string   `yaml:"image" json:"image,omitempty"`
}

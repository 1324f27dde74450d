// Package catalog loads the laboratory and resource inventory from a YAML
// configuration directory and exposes it as an immutable snapshot. The
// aggregator re-reads the snapshot on its reconcile tick, which is what makes
// hot-reload of the inventory work.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/viant/afs"
	"github.com/viant/afs/url"
	"github.com/viant/scy"
	"gopkg.in/yaml.v3"

	"github.com/viant/labq/model"
)

const (
	resourcesFile    = "resources.yaml"
	laboratoriesFile = "laboratories.yaml"

	// DefaultMaxTime applies to laboratories that do not set max_time.
	DefaultMaxTime = 5 * 60
)

// ConfigurationError marks an invalid inventory; it is not retryable and has
// to be fixed by an operator.
type ConfigurationError struct {
	msg string
}

func (e *ConfigurationError) Error() string { return e.msg }

func configError(format string, args ...interface{}) error {
	return &ConfigurationError{msg: fmt.Sprintf(format, args...)}
}

// resourceConfig is the on-disk shape of one resource entry.
type resourceConfig struct {
	URL         string   `yaml:"url"`
	Login       string   `yaml:"login"`
	Password    string   `yaml:"password"`
	PasswordURL string   `yaml:"passwordURL"`
	PasswordKey string   `yaml:"passwordKey"`
	Features    []string `yaml:"features"`
	API         string   `yaml:"api"`
}

// laboratoryConfig is the on-disk shape of one laboratory entry.
type laboratoryConfig struct {
	DisplayName string   `yaml:"display_name"`
	Category    string   `yaml:"category"`
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
	MaxTime     float64  `yaml:"max_time"`
	Resources   []string `yaml:"resources"`
	Features    []string `yaml:"features"`
	Image       string   `yaml:"image"`
}

// Snapshot is one consistent, immutable view of the inventory.
type Snapshot struct {
	resources    map[string]*model.Resource
	laboratories map[string]*model.Laboratory
}

// Resources returns all resources in identifier order.
func (s *Snapshot) Resources() []*model.Resource {
	result := make([]*model.Resource, 0, len(s.resources))
	for _, resource := range s.resources {
		result = append(result, resource)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Identifier < result[j].Identifier })
	return result
}

// Resource returns the resource by identifier, or nil.
func (s *Snapshot) Resource(identifier string) *model.Resource {
	return s.resources[identifier]
}

// Laboratories returns all laboratories in identifier order.
func (s *Snapshot) Laboratories() []*model.Laboratory {
	result := make([]*model.Laboratory, 0, len(s.laboratories))
	for _, laboratory := range s.laboratories {
		result = append(result, laboratory)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Identifier < result[j].Identifier })
	return result
}

// Laboratory returns the laboratory by identifier, or nil.
func (s *Snapshot) Laboratory(identifier string) *model.Laboratory {
	return s.laboratories[identifier]
}

// CandidateResources returns the laboratory's resources that advertise every
// requested feature, in the laboratory's configured order. A reservation's
// candidate set is fixed by calling this once at submission time.
func (s *Snapshot) CandidateResources(laboratoryID string, features []string) ([]string, error) {
	laboratory := s.laboratories[laboratoryID]
	if laboratory == nil {
		return nil, fmt.Errorf("unknown laboratory: %q", laboratoryID)
	}
	var candidates []string
outer:
	for _, resourceID := range laboratory.Resources {
		resource := s.resources[resourceID]
		for _, feature := range features {
			if !resource.HasFeature(feature) {
				continue outer
			}
		}
		candidates = append(candidates, resourceID)
	}
	return candidates, nil
}

// Service loads inventory snapshots from a configuration directory.
type Service struct {
	baseURL string
	fs      afs.Service
	secrets *scy.Service
	current atomic.Pointer[Snapshot]
}

// New creates a catalog service rooted at the configuration directory URL.
func New(baseURL string) (*Service, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("configuration directory was empty")
	}
	return &Service{
		baseURL: baseURL,
		fs:      afs.New(),
		secrets: scy.New(),
	}, nil
}

// Snapshot returns the most recently loaded snapshot, loading one first if
// none exists yet.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snapshot := s.current.Load(); snapshot != nil {
		return snapshot, nil
	}
	return s.Reload(ctx)
}

// Reload re-reads the configuration directory and swaps in a fresh snapshot.
// On failure the previous snapshot stays in place.
func (s *Service) Reload(ctx context.Context) (*Snapshot, error) {
	resources, err := s.loadResources(ctx)
	if err != nil {
		return nil, err
	}
	laboratories, err := s.loadLaboratories(ctx, resources)
	if err != nil {
		return nil, err
	}
	snapshot := &Snapshot{resources: resources, laboratories: laboratories}
	s.current.Store(snapshot)
	return snapshot, nil
}

func (s *Service) loadResources(ctx context.Context) (map[string]*model.Resource, error) {
	data, err := s.fs.DownloadWithURL(ctx, url.Join(s.baseURL, resourcesFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read %v: %w", resourcesFile, err)
	}
	var configs map[string]*resourceConfig
	if err := yaml.Unmarshal(data, &configs); err != nil {
		return nil, configError("invalid %v: %v", resourcesFile, err)
	}
	result := make(map[string]*model.Resource, len(configs))
	for identifier, config := range configs {
		resource, err := s.buildResource(ctx, identifier, config)
		if err != nil {
			return nil, err
		}
		result[identifier] = resource
	}
	return result, nil
}

func (s *Service) buildResource(ctx context.Context, identifier string, config *resourceConfig) (*model.Resource, error) {
	if config == nil || config.URL == "" {
		return nil, configError("resource %q has no url", identifier)
	}
	if config.Login == "" {
		return nil, configError("resource %q has no login", identifier)
	}
	password := config.Password
	if config.PasswordURL != "" {
		secret, err := s.secrets.Load(ctx, scy.NewResource(nil, config.PasswordURL, config.PasswordKey))
		if err != nil {
			return nil, fmt.Errorf("failed to load password for resource %q: %w", identifier, err)
		}
		password = secret.String()
	}
	if password == "" {
		return nil, configError("resource %q has no password", identifier)
	}
	variant, err := model.ParseAPIVariant(config.API)
	if err != nil {
		return nil, configError("resource %q: %v", identifier, err)
	}
	return &model.Resource{
		Identifier: identifier,
		URL:        config.URL,
		Login:      config.Login,
		Password:   password,
		Features:   config.Features,
		API:        variant,
	}, nil
}

func (s *Service) loadLaboratories(ctx context.Context, resources map[string]*model.Resource) (map[string]*model.Laboratory, error) {
	data, err := s.fs.DownloadWithURL(ctx, url.Join(s.baseURL, laboratoriesFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read %v: %w", laboratoriesFile, err)
	}
	var configs map[string]*laboratoryConfig
	if err := yaml.Unmarshal(data, &configs); err != nil {
		return nil, configError("invalid %v: %v", laboratoriesFile, err)
	}
	result := make(map[string]*model.Laboratory, len(configs))
	for identifier, config := range configs {
		if config == nil || len(config.Resources) == 0 {
			return nil, configError("laboratory %q lists no resources", identifier)
		}
		for _, resourceID := range config.Resources {
			if _, ok := resources[resourceID]; !ok {
				return nil, configError("laboratory %q lists unknown resource %q", identifier, resourceID)
			}
		}
		maxTime := config.MaxTime
		if maxTime <= 0 {
			maxTime = DefaultMaxTime
		}
		result[identifier] = &model.Laboratory{
			Identifier:  identifier,
			DisplayName: config.DisplayName,
			Category:    config.Category,
			Description: config.Description,
			Keywords:    config.Keywords,
			MaxTime:     maxTime,
			Resources:   config.Resources,
			Features:    config.Features,
			Image:       config.Image,
		}
	}
	return result, nil
}

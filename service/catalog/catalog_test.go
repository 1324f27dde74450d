package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viant/labq/model"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func validConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeConfig(t, dir, "resources.yaml", `
dummy-1:
  url: http://localhost:5001
  login: lde
  password: secret
  features: [camera]
dummy-2:
  url: http://localhost:5002
  login: lde
  password: secret
  api: weblablib-6.0
`)
	writeConfig(t, dir, "laboratories.yaml", `
dummy:
  display_name: Dummy Lab
  category: Dummy
  max_time: 300
  resources: [dummy-1, dummy-2]
  keywords: [demo]
`)
	return dir
}

func TestService_Load(t *testing.T) {
	ctx := context.Background()
	service, err := New(validConfigDir(t))
	assert.NoError(t, err)
	snapshot, err := service.Snapshot(ctx)
	assert.NoError(t, err)

	resources := snapshot.Resources()
	assert.Equal(t, 2, len(resources))
	assert.Equal(t, "dummy-1", resources[0].Identifier)
	assert.Equal(t, model.APIVariantLabDiscovery, resources[0].API)
	assert.Equal(t, model.APIVariantWebLab, resources[1].API)

	laboratory := snapshot.Laboratory("dummy")
	if assert.NotNil(t, laboratory) {
		assert.Equal(t, "Dummy Lab", laboratory.DisplayName)
		assert.Equal(t, 300.0, laboratory.MaxTime)
		assert.Equal(t, []string{"dummy-1", "dummy-2"}, laboratory.Resources)
	}
}

func TestService_FeatureFiltering(t *testing.T) {
	ctx := context.Background()
	service, err := New(validConfigDir(t))
	assert.NoError(t, err)
	snapshot, err := service.Snapshot(ctx)
	assert.NoError(t, err)

	candidates, err := snapshot.CandidateResources("dummy", nil)
	assert.NoError(t, err)
	assert.Equal(t, []string{"dummy-1", "dummy-2"}, candidates)

	candidates, err = snapshot.CandidateResources("dummy", []string{"camera"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"dummy-1"}, candidates)

	_, err = snapshot.CandidateResources("missing", nil)
	assert.Error(t, err)
}

func TestService_DefaultMaxTime(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "resources.yaml", `
dummy-1:
  url: http://localhost:5001
  login: lde
  password: secret
`)
	writeConfig(t, dir, "laboratories.yaml", `
dummy:
  display_name: Dummy Lab
  resources: [dummy-1]
`)
	service, err := New(dir)
	assert.NoError(t, err)
	snapshot, err := service.Snapshot(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, float64(DefaultMaxTime), snapshot.Laboratory("dummy").MaxTime)
}

func TestService_InvalidConfigurations(t *testing.T) {
	ctx := context.Background()
	testCases := []struct {
		description  string
		resources    string
		laboratories string
	}{
		{
			description: "resource without url",
			resources: `
dummy-1:
  login: lde
  password: secret
`,
			laboratories: "dummy:\n  resources: [dummy-1]\n",
		},
		{
			description: "resource without login",
			resources: `
dummy-1:
  url: http://localhost:5001
  password: secret
`,
			laboratories: "dummy:\n  resources: [dummy-1]\n",
		},
		{
			description: "resource without password",
			resources: `
dummy-1:
  url: http://localhost:5001
  login: lde
`,
			laboratories: "dummy:\n  resources: [dummy-1]\n",
		},
		{
			description: "unknown api variant",
			resources: `
dummy-1:
  url: http://localhost:5001
  login: lde
  password: secret
  api: grpc
`,
			laboratories: "dummy:\n  resources: [dummy-1]\n",
		},
		{
			description: "laboratory with unknown resource",
			resources: `
dummy-1:
  url: http://localhost:5001
  login: lde
  password: secret
`,
			laboratories: "dummy:\n  resources: [dummy-9]\n",
		},
		{
			description: "laboratory without resources",
			resources: `
dummy-1:
  url: http://localhost:5001
  login: lde
  password: secret
`,
			laboratories: "dummy:\n  display_name: Dummy\n",
		},
	}
	for _, testCase := range testCases {
		dir := t.TempDir()
		writeConfig(t, dir, "resources.yaml", testCase.resources)
		writeConfig(t, dir, "laboratories.yaml", testCase.laboratories)
		service, err := New(dir)
		assert.NoError(t, err, testCase.description)
		_, err = service.Snapshot(ctx)
		assert.Error(t, err, testCase.description)
		var configurationError *ConfigurationError
		assert.ErrorAs(t, err, &configurationError, testCase.description)
	}
}

func TestService_ReloadKeepsPreviousOnFailure(t *testing.T) {
	ctx := context.Background()
	dir := validConfigDir(t)
	service, err := New(dir)
	assert.NoError(t, err)
	_, err = service.Snapshot(ctx)
	assert.NoError(t, err)

	writeConfig(t, dir, "laboratories.yaml", "dummy:\n  resources: [dummy-9]\n")
	_, err = service.Reload(ctx)
	assert.Error(t, err)

	snapshot, err := service.Snapshot(ctx)
	assert.NoError(t, err)
	assert.NotNil(t, snapshot.Laboratory("dummy"))
}

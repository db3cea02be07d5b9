package plan_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyhq/metering/pkg/plan"
)

const validPlansYAML = `
plans:
  - type: trial
    name: Free Trial
    emails_per_month: 50
    emails_received: 100
    ai_replies: 25
    stores: 1
    trial_days: 7
  - type: enterprise
    name: Enterprise
    emails_per_month: -1
    emails_received: -1
    ai_replies: -1
    stores: -1
`

func writePlansFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestYAMLSource(t *testing.T) {
	t.Parallel()

	t.Run("loads a valid catalog", func(t *testing.T) {
		t.Parallel()

		src := plan.NewYAMLSource(writePlansFile(t, validPlansYAML))
		catalog, err := src.Load(context.Background())
		require.NoError(t, err)

		trial, err := catalog.Get(plan.TypeTrial)
		require.NoError(t, err)
		assert.Equal(t, "Free Trial", trial.Name)
		assert.EqualValues(t, 50, trial.EmailsPerMonth)
		assert.Equal(t, 7, trial.TrialDays)

		enterprise, err := catalog.Get(plan.TypeEnterprise)
		require.NoError(t, err)
		assert.Equal(t, plan.Unlimited, enterprise.Stores)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		src := plan.NewYAMLSource(filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := src.Load(context.Background())
		assert.ErrorIs(t, err, plan.ErrFailedToLoadCatalog)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		t.Parallel()

		src := plan.NewYAMLSource(writePlansFile(t, "plans: ["))
		_, err := src.Load(context.Background())
		assert.ErrorIs(t, err, plan.ErrFailedToLoadCatalog)
	})

	t.Run("invalid caps are rejected", func(t *testing.T) {
		t.Parallel()

		bad := `
plans:
  - type: trial
    name: Broken
    emails_per_month: 0
    emails_received: 100
    ai_replies: 25
    stores: 1
    trial_days: 7
`
		src := plan.NewYAMLSource(writePlansFile(t, bad))
		_, err := src.Load(context.Background())
		assert.ErrorIs(t, err, plan.ErrInvalidPlanConfiguration)
	})
}

func TestStaticSource(t *testing.T) {
	t.Parallel()

	src := plan.NewStaticSource(plan.Default())
	catalog, err := src.Load(context.Background())
	require.NoError(t, err)

	// Mutating the loaded copy must not affect subsequent loads.
	delete(catalog, plan.TypePro)

	again, err := src.Load(context.Background())
	require.NoError(t, err)
	_, err = again.Get(plan.TypePro)
	assert.NoError(t, err)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 20.0, cfg.Policy.GradeScaleMax)
	assert.Equal(t, 10.0, cfg.Policy.PromotionThreshold)
	assert.Equal(t, 2, cfg.Policy.InterrogationsPlanned)
	assert.Equal(t, 2, cfg.Policy.HomeworksPlanned)
	assert.True(t, cfg.Policy.FinalEvaluationPlanned)
	assert.Equal(t, EligibilityAll, cfg.Policy.EligibilityMode)
	assert.Equal(t, 15*time.Minute, cfg.Cache.PolicyTTL)
	assert.Equal(t, 4, cfg.Batch.Workers)
	assert.Equal(t, "records:", cfg.Cache.KeyPrefix)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PROMOTION_THRESHOLD", "12.5")
	t.Setenv("PLAN_INTERROGATIONS", "3")
	t.Setenv("ELIGIBILITY_MODE", "MINIMUM")
	t.Setenv("BATCH_WORKERS", "0")
	t.Setenv("JWT_AUDIENCE", "records, portal ,")
	t.Setenv("POLICY_CACHE_TTL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 12.5, cfg.Policy.PromotionThreshold)
	assert.Equal(t, 3, cfg.Policy.InterrogationsPlanned)
	assert.Equal(t, EligibilityMinimum, cfg.Policy.EligibilityMode)
	assert.Equal(t, 4, cfg.Batch.Workers)
	assert.Equal(t, []string{"records", "portal"}, cfg.JWT.Audience)
	assert.Equal(t, 15*time.Minute, cfg.Cache.PolicyTTL)
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultCurrency, cfg.Currency)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, int64(DefaultPlatformRateBPS), cfg.Fees.PlatformRateBPS)
	assert.Equal(t, int64(DefaultMinPayout), cfg.Fees.MinPayout)
}

func TestLoad_FeeOverrides(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("PAYOUT_FIXED_FEE", "500")
	t.Setenv("MIN_PAYOUT", "5000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(500), cfg.Fees.PayoutFixedFee)
	assert.Equal(t, int64(5000), cfg.Fees.MinPayout)
}

func TestValidate_ProductionRequiresStripe(t *testing.T) {
	cfg := &Config{Env: "production", Fees: Fees{MinPayout: 3000, PayoutFixedFee: 250}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY")
}

func TestValidate_SplitRates(t *testing.T) {
	cfg := &Config{
		Env: "development",
		Fees: Fees{
			PlatformRateBPS: 5000,
			AskerRateBPS:    4000,
			BestRateBPS:     2400,
			MinPayout:       3000,
			PayoutFixedFee:  250,
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "split rates")
}

func TestValidate_MinPayoutMustCoverFixedFee(t *testing.T) {
	cfg := &Config{
		Env:  "development",
		Fees: Fees{MinPayout: 100, PayoutFixedFee: 250},
	}
	require.Error(t, cfg.Validate())
}

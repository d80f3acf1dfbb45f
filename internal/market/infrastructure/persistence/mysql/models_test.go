package mysql

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/marketcore/internal/market/domain"
)

func TestOrderModel_EmptyClientOrderIDStoredAsNull(t *testing.T) {
	o := &domain.Order{ID: 1, Amount: decimal.NewFromInt(1), Status: domain.OrderStatusOpen}
	m := toOrderModel(o)
	assert.Nil(t, m.ClientOrderID)
	assert.Equal(t, "", m.toDomain().ClientOrderID)

	o.ClientOrderID = "abc-1"
	m = toOrderModel(o)
	require.NotNil(t, m.ClientOrderID)
	assert.Equal(t, "abc-1", m.toDomain().ClientOrderID)
}

func TestMarketModel_FundingIntervalInSeconds(t *testing.T) {
	mk := domain.MarketDefaults()
	mk.ID = 7
	mk.Type = domain.MarketFutures
	m := toMarketModel(&mk)
	assert.Equal(t, int64(8*3600), m.FundingIntervalSeconds)
	assert.Equal(t, 8*time.Hour, m.toDomain().FundingInterval)
}

func TestAuditColumns_SoftDeleteSurvivesMapping(t *testing.T) {
	c, err := domain.NewCurrency("BTC", "Bitcoin", 8, false, false, time.Unix(100, 0).UTC())
	require.NoError(t, err)
	c.SoftDelete(time.Unix(200, 0).UTC())

	got := toCurrencyModel(c).toDomain()
	assert.True(t, got.IsDeleted)
	require.NotNil(t, got.DeletedAt)
	assert.Equal(t, c.CreatedAt, got.CreatedAt)
	assert.Equal(t, time.Unix(200, 0).UTC(), *got.DeletedAt)
}

func TestMarketModel_LiveFlagClearedOnSoftDelete(t *testing.T) {
	mk := domain.MarketDefaults()
	mk.ID = 8
	m := toMarketModel(&mk)
	require.NotNil(t, m.Live)
	assert.True(t, *m.Live)

	mk.SoftDelete(time.Unix(300, 0).UTC())
	assert.Nil(t, toMarketModel(&mk).Live)
}

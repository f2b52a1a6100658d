package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeePolicy(t *testing.T) {
	fees := FeePolicy{
		Percent:       decimal.RequireFromString("1.5"),
		Flat:          10000,
		FlatThreshold: 250000,
		Cap:           200000,
	}

	tests := []struct {
		net  int64
		want int64
	}{
		{net: 1, want: 1},
		{net: 20000, want: 300},
		{net: 20001, want: 301},
		{net: 249999, want: 3750},
		{net: 250000, want: 13750},
		{net: 100_000_000, want: 200000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fees.Fee(tt.net), "net %d", tt.net)
	}

	uncapped := FeePolicy{Percent: decimal.NewFromInt(2)}
	assert.Equal(t, int64(2_000_000), uncapped.Fee(100_000_000))
}

func TestSplitPolicy(t *testing.T) {
	split := SplitPolicy{EducatorPercent: decimal.NewFromInt(70)}

	tests := []struct {
		net          int64
		wantEducator int64
		wantPlatform int64
	}{
		{net: 10000, wantEducator: 7000, wantPlatform: 3000},
		{net: 999, wantEducator: 699, wantPlatform: 300},
		{net: 1, wantEducator: 0, wantPlatform: 1},
		{net: 20000, wantEducator: 14000, wantPlatform: 6000},
	}
	for _, tt := range tests {
		educator, platform := split.Split(tt.net)
		assert.Equal(t, tt.wantEducator, educator, "net %d", tt.net)
		assert.Equal(t, tt.wantPlatform, platform, "net %d", tt.net)
		assert.Equal(t, tt.net, educator+platform)
	}
}

func TestNetPrice(t *testing.T) {
	net, err := NetPrice(10000, 15)
	require.NoError(t, err)
	assert.Equal(t, int64(8500), net)

	// 499.5 discount rounds up to 500
	net, err = NetPrice(999, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(499), net)

	net, err = NetPrice(5000, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), net)

	for _, tc := range []struct{ price, discount int64 }{
		{price: 0, discount: 0},
		{price: 100, discount: -1},
		{price: 100, discount: 101},
		{price: 100, discount: 100},
	} {
		_, err := NetPrice(tc.price, tc.discount)
		assert.ErrorIs(t, err, ErrValidation, "price %d discount %d", tc.price, tc.discount)
	}
}

func TestCachedCatalog(t *testing.T) {
	f := newSettlementFixture(t)
	store := &countingCatalog{CourseStore: f.courses}
	cached := NewCachedCatalog(store, 8, time.Minute)

	for n := 0; n < 3; n++ {
		p, err := cached.GetCoursePricing(context.Background(), courseID)
		require.NoError(t, err)
		assert.Equal(t, int64(20000), p.Price)
	}
	assert.Equal(t, 1, store.reads)

	_, err := cached.GetCoursePricing(context.Background(), "missing")
	require.Error(t, err)
	_, err = cached.GetCoursePricing(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, 3, store.reads)

	require.NoError(t, cached.Enroll(context.Background(), "b", courseID))
	ok, err := cached.IsEnrolled(context.Background(), "b", courseID)
	require.NoError(t, err)
	assert.True(t, ok)
}

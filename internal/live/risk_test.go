package live

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimits() Limits {
	return Limits{
		MaxPositionValue:  500,
		MaxGlobalExposure: 2000,
		MaxConcurrentLive: 3,
		MaxDailyLoss:      200,
	}
}

func TestLimitsValidate(t *testing.T) {
	require.NoError(t, testLimits().Validate())

	bad := testLimits()
	bad.MaxPositionValue = 0
	assert.Error(t, bad.Validate())

	bad = testLimits()
	bad.MaxGlobalExposure = 100
	assert.Error(t, bad.Validate(), "global cap below per-position cap is a config mistake")

	bad = testLimits()
	bad.MaxConcurrentLive = 0
	assert.Error(t, bad.Validate())
}

func TestGuardPerStrategyCap(t *testing.T) {
	g := NewGuard(testLimits())

	require.NoError(t, g.Reserve("a", 300))
	err := g.Reserve("a", 300)
	require.Error(t, err)

	var rej *Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, "max_position_value", rej.Rule)

	own, total := g.Exposure("a")
	assert.Equal(t, 300.0, own, "failed reservation must not leak exposure")
	assert.Equal(t, 300.0, total)
}

func TestGuardGlobalCap(t *testing.T) {
	g := NewGuard(testLimits())
	for i := 0; i < 4; i++ {
		require.NoError(t, g.Reserve(fmt.Sprintf("s%d", i), 500))
	}

	err := g.Reserve("s5", 500)
	var rej *Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, "max_global_exposure", rej.Rule)
}

func TestGuardReleaseFreesCapacity(t *testing.T) {
	g := NewGuard(testLimits())
	require.NoError(t, g.Reserve("a", 500))
	require.Error(t, g.Reserve("a", 1))

	g.Release("a", 500)
	require.NoError(t, g.Reserve("a", 500))
}

func TestGuardConcurrentReservationsNeverExceedGlobalCap(t *testing.T) {
	limits := testLimits()
	g := NewGuard(limits)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_ = g.Reserve(fmt.Sprintf("s%d", id), 100)
		}(i)
	}
	wg.Wait()

	_, total := g.Exposure("")
	assert.LessOrEqual(t, total, limits.MaxGlobalExposure)
	assert.Equal(t, limits.MaxGlobalExposure, total, "cap should be fully utilized")
}

func TestGuardSetLimitsAppliesToFutureChecks(t *testing.T) {
	g := NewGuard(testLimits())
	require.NoError(t, g.Reserve("a", 400))

	tight := testLimits()
	tight.MaxPositionValue = 100
	g.SetLimits(tight)

	assert.Error(t, g.Reserve("a", 50), "new cap applies even to existing exposure")
	_, total := g.Exposure("")
	assert.Equal(t, 400.0, total, "existing reservations survive a limit change")
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cart-recovery-service/internal/models"
)

func seedStatsCarts(repo *memoryCartRepository, now time.Time) {
	recoveredAt := now.Add(-time.Hour)
	sentAt := now.Add(-2 * time.Hour)

	// Today, still fresh
	fresh := openCart("fresh@example.com", now.Add(-10*time.Minute))
	fresh.Total = 20
	repo.put(fresh)

	// Today, past grace without email
	awaiting := openCart("awaiting@example.com", now.Add(-3*time.Hour))
	awaiting.Total = 30
	repo.put(awaiting)

	// Three days ago, emailed
	emailed := openCart("emailed@example.com", now.Add(-72*time.Hour))
	emailed.Total = 50
	emailed.RecoveryEmailSent = true
	emailed.RecoveryEmailSentAt = &sentAt
	repo.put(emailed)

	// Ten days ago, recovered
	recovered := openCart("recovered@example.com", now.Add(-10*24*time.Hour))
	recovered.Total = 100.456
	recovered.IsAbandoned = false
	recovered.RecoveredAt = &recoveredAt
	repo.put(recovered)

	// Untracked records are left out
	untracked := openCart("untracked@example.com", now.Add(-5*time.Hour))
	untracked.IsAbandoned = false
	untracked.Total = 999
	repo.put(untracked)

	// Outside the reporting window
	old := openCart("old@example.com", now.Add(-45*24*time.Hour))
	old.Total = 500
	repo.put(old)
}

func TestGetAbandonedCartStats(t *testing.T) {
	// Wednesday 18 March 2026, 15:00 UTC
	repo := newMemoryCartRepository()
	seedStatsCarts(repo, testNow)
	svc := NewStatsService(repo, 30*24*time.Hour, time.Hour, time.UTC, fixedClock(testNow), quietLogger())

	stats, err := svc.GetAbandonedCartStats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, testNow, stats.GeneratedAt)
	assert.Len(t, stats.Carts, 4)
	assert.Equal(t, StageCounts{Fresh: 1, AwaitingEmail: 1, Emailed: 1}, stats.Stages)

	assert.Equal(t, 2, stats.Today.Total)
	assert.Equal(t, 0, stats.Today.Recovered)
	assert.Equal(t, 50.0, stats.Today.TotalValue)
	assert.Equal(t, 0.0, stats.Today.RecoveryRate)

	assert.Equal(t, 3, stats.Week.Total)
	assert.Equal(t, 100.0, stats.Week.TotalValue)

	// Month starts on 1 March so the recovered cart is included
	assert.Equal(t, 4, stats.Month.Total)
	assert.Equal(t, 1, stats.Month.Recovered)

	assert.Equal(t, 4, stats.All30.Total)
	assert.Equal(t, 1, stats.All30.Recovered)
	assert.Equal(t, 25.0, stats.All30.RecoveryRate)
	assert.Equal(t, 200.46, stats.All30.TotalValue)
	assert.Equal(t, 100.46, stats.All30.RecoveredValue)
	assert.Equal(t, 100.0, stats.All30.LostValue)

	byEmail := map[string]CartSummary{}
	for _, c := range stats.Carts {
		byEmail[c.Email] = c
	}
	assert.Equal(t, models.CartStageFresh, byEmail["fresh@example.com"].Stage)
	assert.Equal(t, models.CartStageAwaitingEmail, byEmail["awaiting@example.com"].Stage)
	assert.Equal(t, models.CartStageEmailed, byEmail["emailed@example.com"].Stage)
	assert.Equal(t, models.CartStateRecovered, byEmail["recovered@example.com"].State)
	assert.Empty(t, byEmail["recovered@example.com"].Stage)
	assert.NotContains(t, byEmail, "untracked@example.com")
}

func TestGetAbandonedCartStats_CalendarWindowsUseLocation(t *testing.T) {
	// 01:30 on 1 April in Madrid is still 31 March in UTC
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	now := time.Date(2026, 3, 31, 23, 30, 0, 0, time.UTC)

	repo := newMemoryCartRepository()
	repo.put(openCart("yesterday@example.com", time.Date(2026, 3, 31, 20, 0, 0, 0, time.UTC)))

	utcStats, err := NewStatsService(repo, 30*24*time.Hour, time.Hour, time.UTC, fixedClock(now), quietLogger()).
		GetAbandonedCartStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, utcStats.Today.Total)
	assert.Equal(t, 1, utcStats.Month.Total)

	localStats, err := NewStatsService(repo, 30*24*time.Hour, time.Hour, madrid, fixedClock(now), quietLogger()).
		GetAbandonedCartStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, localStats.Today.Total)
	assert.Equal(t, 0, localStats.Month.Total)
	assert.Equal(t, 1, localStats.Week.Total)
}

func TestGetAbandonedCartStats_Empty(t *testing.T) {
	svc := NewStatsService(newMemoryCartRepository(), 30*24*time.Hour, time.Hour, nil, fixedClock(testNow), quietLogger())

	stats, err := svc.GetAbandonedCartStats(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, stats.Carts)
	assert.Empty(t, stats.Carts)
	assert.Equal(t, WindowStats{}, stats.All30)
	assert.Equal(t, time.UTC, svc.Location())
}

func TestGetAbandonedCartStats_StoreError(t *testing.T) {
	repo := newMemoryCartRepository()
	repo.listErr = errors.New("timeout")
	svc := NewStatsService(repo, 30*24*time.Hour, time.Hour, time.UTC, fixedClock(testNow), quietLogger())

	stats, err := svc.GetAbandonedCartStats(context.Background())
	assert.Nil(t, stats)
	assert.Error(t, err)
}

func TestBuildStatsWorkbook(t *testing.T) {
	repo := newMemoryCartRepository()
	seedStatsCarts(repo, testNow)
	svc := NewStatsService(repo, 30*24*time.Hour, time.Hour, time.UTC, fixedClock(testNow), quietLogger())
	stats, err := svc.GetAbandonedCartStats(context.Background())
	require.NoError(t, err)

	f, err := BuildStatsWorkbook(stats, time.UTC)
	require.NoError(t, err)
	defer f.Close()

	assert.Contains(t, f.GetSheetList(), "Summary")
	assert.Contains(t, f.GetSheetList(), "Carts")

	rows, err := f.GetRows("Carts")
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, "Email", rows[0][1])
}

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lftracking/internal/models"
	"lftracking/internal/timeutil"
	"lftracking/pkg/dwell"
)

func openTestStore(t *testing.T) (*Store, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2024, 5, 2, 15, 0, 0, 0, time.UTC))
	s, err := Open(filepath.Join(t.TempDir(), "results", "lf.db"), clock)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func TestRatingsAreStoredInOrder(t *testing.T) {
	s, clock := openTestStore(t)
	require.NotEmpty(t, s.RunID())

	require.NoError(t, s.RecordRating("I01R1", 4))
	clock.Advance(time.Minute)
	require.NoError(t, s.RecordRating("I02R2", 2))

	ratings, err := s.Ratings()
	require.NoError(t, err)
	require.Len(t, ratings, 2)
	assert.Equal(t, "I01R1", ratings[0].Image)
	assert.Equal(t, 4, ratings[0].Value)
	assert.Equal(t, s.RunID(), ratings[1].RunID)
	assert.True(t, ratings[1].AnsweredAt.Equal(time.Date(2024, 5, 2, 15, 1, 0, 0, time.UTC)))
}

func TestDwellTotals(t *testing.T) {
	s, _ := openTestStore(t)
	start := time.Date(2024, 5, 2, 15, 0, 0, 0, time.UTC)

	records := []dwell.Record{
		{Image: "I01R1", Path: "I01R1/007_007.png", Coordinate: models.Perspective(7, 7), Start: start, End: start.Add(time.Second), OnScreen: time.Second},
		{Image: "I01R1", Path: "I01R1/007_007_004.png", Coordinate: models.Refocus(7, 7, 4), Start: start, End: start.Add(250 * time.Millisecond), OnScreen: 250 * time.Millisecond},
		{Image: "I01R1", Path: "I01R1/007_007.png", Coordinate: models.Perspective(7, 7), Start: start, End: start.Add(1500 * time.Microsecond), OnScreen: 1500 * time.Microsecond},
		{Image: "I02R2", Path: "I02R2/007_007.png", Coordinate: models.Perspective(7, 7), Start: start, End: start.Add(time.Hour), OnScreen: time.Hour},
	}
	for _, r := range records {
		require.NoError(t, s.Record(r))
	}
	require.NoError(t, s.Separator())

	totals, err := s.DwellTotals("I01R1")
	require.NoError(t, err)
	assert.Equal(t, map[string]time.Duration{
		"I01R1/007_007.png":     time.Second + 1500*time.Microsecond,
		"I01R1/007_007_004.png": 250 * time.Millisecond,
	}, totals)
}

func TestRunsAreSeparated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lf.db")

	first, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, first.RecordRating("I01R1", 1))
	require.NoError(t, first.Close())

	second, err := Open(path, nil)
	require.NoError(t, err)
	defer second.Close()
	assert.NotEqual(t, first.RunID(), second.RunID())

	ratings, err := second.Ratings()
	require.NoError(t, err)
	assert.Empty(t, ratings)
}

func TestInMemoryStore(t *testing.T) {
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.RecordRating("I01R1", 3))
	ratings, err := s.Ratings()
	require.NoError(t, err)
	assert.Len(t, ratings, 1)
}

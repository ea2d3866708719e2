package summary

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lftracking/internal/models"
	"lftracking/pkg/dwell"
)

var lattice = models.Lattice{OriginU: 3, OriginV: 3, CountU: 2, CountV: 2, CountDepth: 4}

func timerWith(t *testing.T, name string, views []models.Coordinate, holds []time.Duration) *dwell.Timer {
	t.Helper()
	timer := dwell.NewTimer(name, lattice, nil, nil)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, c := range views {
		require.NoError(t, timer.BeginDisplay(c, now))
		now = now.Add(holds[i])
	}
	require.NoError(t, timer.Close(now))
	return timer
}

func TestBuildStatistics(t *testing.T) {
	timer := timerWith(t, "I01R1",
		[]models.Coordinate{models.Perspective(3, 3), models.Perspective(4, 4), models.Refocus(3, 3, 1)},
		[]time.Duration{time.Second, 3 * time.Second, 2 * time.Second},
	)

	s := Build("run-1", time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC), []Input{{Timer: timer, Rating: 4, Rated: true}})
	require.Len(t, s.Images, 1)
	img := s.Images[0]

	assert.Equal(t, "I01R1", img.Name)
	require.NotNil(t, img.Rating)
	assert.Equal(t, 4, *img.Rating)

	p := img.Perspective
	assert.Equal(t, 4*time.Second, p.Total)
	assert.InDelta(t, 1.0, p.Mean, 1e-9)
	assert.InDelta(t, 0.5, p.Coverage, 1e-9)
	// Cells hold 1s, 0, 0, 3s: p = (0.25, 0.75)
	assert.InDelta(t, 0.811278, p.Entropy, 1e-6)
	assert.Greater(t, p.StdDev, 0.0)
	assert.Equal(t, "004_004", img.PeakView)

	r := img.Refocus
	assert.Equal(t, 2*time.Second, r.Total)
	assert.InDelta(t, 0.25, r.Coverage, 1e-9)
	assert.Equal(t, 0.0, r.Entropy)
	require.NotNil(t, img.PeakPlane)
	assert.Equal(t, 1, *img.PeakPlane)
}

func TestBuildUnviewedImage(t *testing.T) {
	timer := dwell.NewTimer("I02R2", lattice, nil, nil)
	s := Build("run-1", time.Now(), []Input{{Timer: timer}})

	img := s.Images[0]
	assert.Nil(t, img.Rating)
	assert.Empty(t, img.PeakView)
	assert.Nil(t, img.PeakPlane)
	assert.Equal(t, Stats{}, img.Perspective)
}

func TestSaveAndLoad(t *testing.T) {
	timer := timerWith(t, "I01R1",
		[]models.Coordinate{models.Perspective(3, 4)},
		[]time.Duration{1500 * time.Millisecond},
	)
	generated := time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC)
	s := Build("run-2", generated, []Input{{Timer: timer, Rating: 2, Rated: true}})

	path := filepath.Join(t.TempDir(), "out", "summary.yaml")
	require.NoError(t, s.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "run-2", loaded.RunID)
	assert.True(t, generated.Equal(loaded.Generated))
	require.Len(t, loaded.Images, 1)
	assert.Equal(t, 1500*time.Millisecond, loaded.Images[0].Perspective.Total)
	assert.Equal(t, "003_004", loaded.Images[0].PeakView)
}

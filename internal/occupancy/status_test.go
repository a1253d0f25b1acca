package occupancy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkvision-go/pkg/models"
)

func TestClassify(t *testing.T) {
	m := NewMatcher(DefaultConfig(), nil)
	lots := []models.Lot{lot(0, 0, 0, 10, 10), lot(1, 10, 0, 20, 10), lot(2, 40, 0, 50, 10)}
	// первый занимает место 0, второй задевает место 1 (IoU 30/170)
	items := []Item{car(0, 0, 10, 10), car(17, 0, 27, 10)}

	res := m.Match(items, lots)
	statuses := m.Classify(res, items)

	require.Len(t, statuses, 3)
	assert.Equal(t, models.LotOccupied, statuses[0].State)
	assert.Equal(t, models.LotBlocked, statuses[1].State)
	assert.InDelta(t, 30.0/170.0, statuses[1].IoU, 1e-9)
	assert.Equal(t, models.LotVacant, statuses[2].State)
	for i, s := range statuses {
		assert.Equal(t, i, s.Lot.Index)
	}
}

func TestSummarize(t *testing.T) {
	res := Result{
		Occupied:   []models.OccupancyResult{{Lot: lot(0, 0, 0, 1, 1)}},
		Unoccupied: []models.Lot{lot(1, 0, 0, 1, 1), lot(2, 0, 0, 1, 1)},
	}
	summary := Summarize(res)

	assert.Equal(t, 3, summary.TotalSpaces)
	assert.Equal(t, 1, summary.OccupiedSpaces)
	assert.InDelta(t, 0.333, summary.OccupancyRate, 1e-9)

	assert.Equal(t, models.OccupancySummary{}, Summarize(Result{}))
}

func TestSpotUpdates(t *testing.T) {
	occupiedLot := lot(0, 0, 0, 10, 10)
	occupiedLot.ID = "A-12"
	res := Result{
		Occupied:   []models.OccupancyResult{{Lot: occupiedLot, Confidence: 0.8, ClassName: "car", ClassID: 2, TrackID: 5}},
		Unoccupied: []models.Lot{lot(3, 0, 0, 1, 1)},
	}

	updates := SpotUpdates(res)

	require.Len(t, updates, 2)
	assert.Equal(t, "A-12", updates[0].SpotID)
	assert.Equal(t, models.LotOccupied, updates[0].Status)
	assert.Equal(t, int64(5), updates[0].Meta["track_id"])
	assert.Equal(t, "3", updates[1].SpotID)
	assert.Equal(t, models.LotVacant, updates[1].Status)
	assert.Empty(t, updates[1].Meta)
}

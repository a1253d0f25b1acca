package occupancy

import (
	"math"
	"sort"
	"strconv"

	"parkvision-go/pkg/models"
)

// Classify возвращает статус каждого места в порядке индексов.
// Свободное место, которое пересекается с объектом сильнее BlockedThreshold,
// помечается как blocked; списки Result при этом не меняются.
func (m *Matcher) Classify(res Result, items []Item) []models.LotStatus {
	statuses := make([]models.LotStatus, 0, len(res.Occupied)+len(res.Unoccupied))

	for _, occ := range res.Occupied {
		statuses = append(statuses, models.LotStatus{Lot: occ.Lot, State: models.LotOccupied, IoU: occ.Confidence})
	}

	for _, lot := range res.Unoccupied {
		best := 0.0
		for _, item := range items {
			best = math.Max(best, m.calc.PolygonRectIoU(lot.Points, item.Box))
		}
		state := models.LotVacant
		if best > m.config.BlockedThreshold {
			state = models.LotBlocked
		}
		statuses = append(statuses, models.LotStatus{Lot: lot, State: state, IoU: best})
	}

	sort.SliceStable(statuses, func(i, j int) bool {
		return statuses[i].Lot.Index < statuses[j].Lot.Index
	})
	return statuses
}

// Summarize считает заполненность парковки
func Summarize(res Result) models.OccupancySummary {
	total := len(res.Occupied) + len(res.Unoccupied)
	summary := models.OccupancySummary{
		TotalSpaces:    total,
		OccupiedSpaces: len(res.Occupied),
	}
	if total > 0 {
		summary.OccupancyRate = math.Round(float64(len(res.Occupied))/float64(total)*1000) / 1000
	}
	return summary
}

// SpotID возвращает внешний ID места, а при его отсутствии - индекс
func SpotID(lot models.Lot) string {
	if lot.ID != "" {
		return lot.ID
	}
	return strconv.Itoa(lot.Index)
}

// SpotUpdates преобразует результат в список обновлений статусов мест
func SpotUpdates(res Result) []models.SpotUpdate {
	updates := make([]models.SpotUpdate, 0, len(res.Occupied)+len(res.Unoccupied))
	for _, occ := range res.Occupied {
		meta := map[string]any{
			"conf": occ.Confidence,
			"name": occ.ClassName,
			"cls":  occ.ClassID,
		}
		if occ.TrackID != 0 {
			meta["track_id"] = occ.TrackID
		}
		updates = append(updates, models.SpotUpdate{
			SpotID: SpotID(occ.Lot),
			Status: models.LotOccupied,
			Meta:   meta,
		})
	}
	for _, lot := range res.Unoccupied {
		updates = append(updates, models.SpotUpdate{
			SpotID: SpotID(lot),
			Status: models.LotVacant,
			Meta:   map[string]any{},
		})
	}
	return updates
}

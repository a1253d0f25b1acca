package tracker

import (
	"sort"

	"parkvision-go/internal/geo"
	"parkvision-go/pkg/models"
)

type recentBox struct {
	box  models.Box
	hits int
	age  int
}

// IoUContinuation запасная стратегия: новая детекция продолжает трек,
// если перекрывается с его недавним прямоугольником сильнее порога.
type IoUContinuation struct {
	threshold float64
	maxAge    int
	recent    map[int64]*recentBox
}

// NewIoUContinuation создает запасную стратегию
func NewIoUContinuation(threshold float64, maxAge int) *IoUContinuation {
	return &IoUContinuation{
		threshold: threshold,
		maxAge:    maxAge,
		recent:    make(map[int64]*recentBox),
	}
}

// Continue назначает ID детекциям кадра. Каждый недавний трек продолжается
// не более одной детекцией; при равном IoU выбирается меньший ID.
func (c *IoUContinuation) Continue(dets []models.Detection, ids *IDAllocator) []models.Track {
	candidates := make([]int64, 0, len(c.recent))
	for id := range c.recent {
		candidates = append(candidates, id)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	claimed := make(map[int64]struct{}, len(dets))
	tracks := make([]models.Track, 0, len(dets))

	for _, d := range dets {
		best := 0.0
		bestID := int64(0)
		for _, id := range candidates {
			if _, ok := claimed[id]; ok {
				continue
			}
			if iou := geo.BoxIoU(c.recent[id].box, d.Box); iou > c.threshold && iou > best {
				best = iou
				bestID = id
			}
		}

		tr := models.Track{
			Box:        d.Box,
			Confidence: d.Confidence,
			ClassID:    d.ClassID,
			ClassName:  d.ClassName,
			Source:     models.SourceFallback,
			Hits:       1,
			State:      models.TrackTentative,
		}
		if bestID != 0 {
			claimed[bestID] = struct{}{}
			tr.ID = bestID
			tr.Hits = c.recent[bestID].hits + 1
			tr.State = models.TrackConfirmed
		} else {
			tr.ID = ids.Next()
		}
		tracks = append(tracks, tr)
	}
	return tracks
}

// Observe запоминает треки кадра и старит остальные.
// Прямоугольники старше maxAge кадров забываются.
func (c *IoUContinuation) Observe(tracks []models.Track) {
	seen := make(map[int64]struct{}, len(tracks))
	for _, tr := range tracks {
		seen[tr.ID] = struct{}{}
		hits := tr.Hits
		if hits <= 0 {
			hits = 1
		}
		c.recent[tr.ID] = &recentBox{box: tr.Box, hits: hits}
	}

	for id, rb := range c.recent {
		if _, ok := seen[id]; ok {
			continue
		}
		rb.age++
		if rb.age > c.maxAge {
			delete(c.recent, id)
		}
	}
}

// Len возвращает количество запомненных прямоугольников
func (c *IoUContinuation) Len() int {
	return len(c.recent)
}

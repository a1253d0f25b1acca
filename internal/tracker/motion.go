package tracker

import (
	"fmt"
	"image"

	"parkvision-go/internal/assign"
	"parkvision-go/internal/geo"
	"parkvision-go/pkg/models"
)

// velocitySmoothing доля нового смещения в оценке скорости
const velocitySmoothing = 0.5

type motionTrack struct {
	id         int64
	box        models.Box
	velocity   [4]float64
	det        models.Detection
	descriptor []float64
	state      models.TrackState
	hits       int
	misses     int
}

func (t *motionTrack) predict() models.Box {
	return models.Box{
		X1: t.box.X1 + t.velocity[0],
		Y1: t.box.Y1 + t.velocity[1],
		X2: t.box.X2 + t.velocity[2],
		Y2: t.box.Y2 + t.velocity[3],
	}
}

func (t *motionTrack) toModel() models.Track {
	return models.Track{
		ID:         t.id,
		Box:        t.box,
		Confidence: t.det.Confidence,
		ClassID:    t.det.ClassID,
		ClassName:  t.det.ClassName,
		State:      t.state,
		Hits:       t.hits,
		Misses:     t.misses,
		Source:     models.SourcePrimary,
	}
}

// MotionTracker трекер с предсказанием постоянной скорости и ассоциацией
// венгерским алгоритмом. При наличии Embedder пары с непохожим внешним
// видом запрещаются.
type MotionTracker struct {
	config   Config
	ids      *IDAllocator
	embedder Embedder
	tracks   []*motionTrack
}

// NewMotionTracker создает трекер по движению
func NewMotionTracker(config Config, ids *IDAllocator, embedder Embedder) *MotionTracker {
	if ids == nil {
		ids = NewIDAllocator()
	}
	return &MotionTracker{
		config:   config,
		ids:      ids,
		embedder: embedder,
	}
}

// Update сопоставляет детекции с треками и возвращает треки, обновленные на этом кадре
func (m *MotionTracker) Update(dets []models.Detection, frame image.Image) ([]models.Track, error) {
	for i, d := range dets {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("детекция %d: %w", i, err)
		}
	}

	descriptors, err := m.describe(dets, frame)
	if err != nil {
		return nil, fmt.Errorf("ошибка построения дескрипторов: %w", err)
	}

	assignment := m.associate(dets, descriptors)

	matchedDets := make([]bool, len(dets))
	for ti, di := range assignment {
		t := m.tracks[ti]
		if di < 0 {
			m.markMissed(t)
			continue
		}
		matchedDets[di] = true
		m.markHit(t, dets[di], descriptorAt(descriptors, di))
	}

	for di, matched := range matchedDets {
		if matched {
			continue
		}
		t := &motionTrack{
			id:         m.ids.Next(),
			box:        dets[di].Box,
			det:        dets[di],
			descriptor: descriptorAt(descriptors, di),
			state:      models.TrackTentative,
			hits:       1,
		}
		if m.config.MinHits <= 1 {
			t.state = models.TrackConfirmed
		}
		m.tracks = append(m.tracks, t)
	}

	alive := m.tracks[:0]
	out := make([]models.Track, 0, len(dets))
	for _, t := range m.tracks {
		if t.state == models.TrackExpired {
			continue
		}
		alive = append(alive, t)
		if t.misses == 0 {
			out = append(out, t.toModel())
		}
	}
	m.tracks = alive
	return out, nil
}

// Seed принимает треки запасной стратегии. Известный ID получает новый
// прямоугольник, неизвестный заводится как новый трек с тем же ID.
func (m *MotionTracker) Seed(tracks []models.Track) {
	for _, tr := range tracks {
		m.ids.Observe(tr.ID)
		d := models.Detection{
			Box:        tr.Box,
			Confidence: tr.Confidence,
			ClassID:    tr.ClassID,
			ClassName:  tr.ClassName,
		}

		if t := m.find(tr.ID); t != nil {
			t.box = tr.Box
			t.det = d
			t.misses = 0
			if t.state == models.TrackMissed {
				t.state = models.TrackConfirmed
			}
			continue
		}

		t := &motionTrack{
			id:    tr.ID,
			box:   tr.Box,
			det:   d,
			state: models.TrackTentative,
			hits:  1,
		}
		if m.config.MinHits <= 1 {
			t.state = models.TrackConfirmed
		}
		m.tracks = append(m.tracks, t)
	}
}

func (m *MotionTracker) find(id int64) *motionTrack {
	for _, t := range m.tracks {
		if t.id == id {
			return t
		}
	}
	return nil
}

// live возвращает все живые треки, включая пропущенные на последнем кадре
func (m *MotionTracker) live() []models.Track {
	out := make([]models.Track, 0, len(m.tracks))
	for _, t := range m.tracks {
		out = append(out, t.toModel())
	}
	return out
}

func (m *MotionTracker) describe(dets []models.Detection, frame image.Image) ([][]float64, error) {
	if m.embedder == nil || frame == nil || len(dets) == 0 {
		return nil, nil
	}
	descriptors := make([][]float64, len(dets))
	for i, d := range dets {
		desc, err := m.embedder.Embed(frame, d.Box)
		if err != nil {
			return nil, err
		}
		descriptors[i] = desc
	}
	return descriptors, nil
}

// associate возвращает для каждого трека индекс детекции или -1
func (m *MotionTracker) associate(dets []models.Detection, descriptors [][]float64) []int {
	if len(m.tracks) == 0 {
		return nil
	}
	if len(dets) == 0 {
		assignment := make([]int, len(m.tracks))
		for i := range assignment {
			assignment[i] = -1
		}
		return assignment
	}

	cost := make([][]float64, len(m.tracks))
	for ti, t := range m.tracks {
		predicted := t.predict()
		cost[ti] = make([]float64, len(dets))
		for di, d := range dets {
			iou := geo.BoxIoU(predicted, d.Box)
			if iou <= m.config.IoUThreshold {
				cost[ti][di] = assign.Forbidden
				continue
			}
			c := 1 - iou
			if desc := descriptorAt(descriptors, di); desc != nil && t.descriptor != nil {
				dist := CosineDistance(t.descriptor, desc)
				if dist > m.config.MaxCosineDistance {
					cost[ti][di] = assign.Forbidden
					continue
				}
				c = (c + dist) / 2
			}
			cost[ti][di] = c
		}
	}
	return assign.Hungarian(cost)
}

func (m *MotionTracker) markHit(t *motionTrack, d models.Detection, descriptor []float64) {
	prev := t.box
	t.velocity[0] = (1-velocitySmoothing)*t.velocity[0] + velocitySmoothing*(d.Box.X1-prev.X1)
	t.velocity[1] = (1-velocitySmoothing)*t.velocity[1] + velocitySmoothing*(d.Box.Y1-prev.Y1)
	t.velocity[2] = (1-velocitySmoothing)*t.velocity[2] + velocitySmoothing*(d.Box.X2-prev.X2)
	t.velocity[3] = (1-velocitySmoothing)*t.velocity[3] + velocitySmoothing*(d.Box.Y2-prev.Y2)

	t.box = d.Box
	t.det = d
	if descriptor != nil {
		t.descriptor = descriptor
	}
	t.hits++
	t.misses = 0

	switch t.state {
	case models.TrackTentative:
		if t.hits >= m.config.MinHits {
			t.state = models.TrackConfirmed
		}
	case models.TrackMissed:
		t.state = models.TrackConfirmed
	}
}

func (m *MotionTracker) markMissed(t *motionTrack) {
	t.misses++
	t.hits = 0
	t.box = t.predict()

	switch {
	case t.state == models.TrackTentative:
		t.state = models.TrackExpired
	case t.misses > m.config.MaxAge:
		t.state = models.TrackExpired
	default:
		t.state = models.TrackMissed
	}
}

func descriptorAt(descriptors [][]float64, i int) []float64 {
	if descriptors == nil {
		return nil
	}
	return descriptors[i]
}

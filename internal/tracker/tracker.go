// Package tracker поддерживает идентичность транспортных средств между кадрами.
//
// Основная стратегия (Primary) - трекер по движению и внешнему виду. Если она
// вернула ошибку, запаниковала или не выдала ни одного трека для непустого
// списка детекций, кадр обрабатывается запасной стратегией: продолжением
// идентичности по IoU с недавними прямоугольниками.
//
// Tracker хранит изменяемое состояние и не предназначен для одновременного
// использования из нескольких горутин. Каждому потоку - свой экземпляр.
package tracker

import (
	"fmt"
	"image"

	"github.com/sirupsen/logrus"

	"parkvision-go/internal/geo"
	"parkvision-go/pkg/models"
)

const (
	DefaultMaxAge            = 30
	DefaultMinHits           = 3
	DefaultIoUThreshold      = 0.3
	DefaultMaxCosineDistance = 0.3
)

// Config параметры трекера
type Config struct {
	MaxAge            int     // Пропусков подряд до удаления трека
	MinHits           int     // Попаданий подряд до подтверждения
	IoUThreshold      float64 // IoU должно быть строго больше порога
	MaxCosineDistance float64 // Допустимое различие дескрипторов внешнего вида
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		MaxAge:            DefaultMaxAge,
		MinHits:           DefaultMinHits,
		IoUThreshold:      DefaultIoUThreshold,
		MaxCosineDistance: DefaultMaxCosineDistance,
	}
}

// Primary основная стратегия трекинга. Ошибка означает, что на этом кадре
// треков нет, и Tracker переключится на запасную стратегию.
type Primary interface {
	Update(dets []models.Detection, frame image.Image) ([]models.Track, error)
}

// Seeder необязательная возможность основной стратегии: принять треки,
// выданные запасной стратегией, чтобы продолжить их под теми же ID.
type Seeder interface {
	Seed(tracks []models.Track)
}

// IDAllocator выдает монотонно растущие ID треков
type IDAllocator struct {
	next int64
}

// NewIDAllocator создает аллокатор, начинающий с 1
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{next: 1}
}

// Next выдает новый ID
func (a *IDAllocator) Next() int64 {
	id := a.next
	a.next++
	return id
}

// Observe учитывает ID, выданный кем-то другим, чтобы он никогда не повторился
func (a *IDAllocator) Observe(id int64) {
	if id >= a.next {
		a.next = id + 1
	}
}

// Tracker объединяет основную и запасную стратегии
type Tracker struct {
	config   Config
	primary  Primary
	fallback *IoUContinuation
	ids      *IDAllocator
	logger   *logrus.Logger
	frame    int64
}

// NewTracker создает трекер со встроенным трекером по движению.
// embedder может быть nil: тогда сопоставление идет только по движению.
func NewTracker(config Config, logger *logrus.Logger, embedder Embedder) *Tracker {
	ids := NewIDAllocator()
	return newTracker(config, logger, NewMotionTracker(config, ids, embedder), ids)
}

// NewTrackerWithPrimary создает трекер с внешней основной стратегией
func NewTrackerWithPrimary(config Config, logger *logrus.Logger, primary Primary) *Tracker {
	return newTracker(config, logger, primary, NewIDAllocator())
}

func newTracker(config Config, logger *logrus.Logger, primary Primary, ids *IDAllocator) *Tracker {
	if logger == nil {
		logger = logrus.New()
	}
	return &Tracker{
		config:   config,
		primary:  primary,
		fallback: NewIoUContinuation(config.IoUThreshold, config.MaxAge),
		ids:      ids,
		logger:   logger,
	}
}

// Update обрабатывает детекции кадра и возвращает треки, обновленные на этом кадре.
// Ошибки основной стратегии не возвращаются вызывающему.
func (t *Tracker) Update(dets []models.Detection, frame image.Image) []models.Track {
	t.frame++

	if len(dets) == 0 {
		// Основная стратегия все равно должна состарить свои треки
		if _, err := t.runPrimary(dets, frame); err != nil {
			t.logger.Debugf("Основной трекер вернул ошибку на пустом кадре %d: %v", t.frame, err)
		}
		t.fallback.Observe(nil)
		return nil
	}

	tracks, err := t.runPrimary(dets, frame)
	if err == nil {
		tracks = attachDetections(tracks, dets)
	}

	if err != nil || len(tracks) == 0 {
		t.logger.WithFields(logrus.Fields{
			"frame":      t.frame,
			"detections": len(dets),
		}).Warnf("Основной трекер не выдал треков, используем продолжение по IoU: %v", err)
		tracks = t.fallback.Continue(dets, t.ids)
		t.seedPrimary(tracks)
	}

	for _, tr := range tracks {
		t.ids.Observe(tr.ID)
	}
	t.fallback.Observe(tracks)
	return tracks
}

// runPrimary вызывает основную стратегию, превращая панику в ошибку
func (t *Tracker) runPrimary(dets []models.Detection, frame image.Image) (tracks []models.Track, err error) {
	if t.primary == nil {
		return nil, fmt.Errorf("основной трекер не задан")
	}
	defer func() {
		if r := recover(); r != nil {
			tracks = nil
			err = fmt.Errorf("паника основного трекера: %v", r)
		}
	}()
	return t.primary.Update(dets, frame)
}

// seedPrimary передает треки запасной стратегии основной, если та это умеет
func (t *Tracker) seedPrimary(tracks []models.Track) {
	seeder, ok := t.primary.(Seeder)
	if !ok || len(tracks) == 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warnf("Паника основного трекера при приеме треков: %v", r)
		}
	}()
	seeder.Seed(tracks)
}

// attachDetections присваивает каждому треку класс, имя и уверенность детекции
// с наибольшим перекрытием. Треки, не пересекающиеся ни с одной детекцией, отбрасываются.
func attachDetections(tracks []models.Track, dets []models.Detection) []models.Track {
	out := make([]models.Track, 0, len(tracks))
	for _, tr := range tracks {
		best := 0.0
		bestIdx := -1
		for i, d := range dets {
			if iou := geo.BoxIoU(tr.Box, d.Box); iou > best {
				best = iou
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			continue
		}
		d := dets[bestIdx]
		tr.Confidence = d.Confidence
		tr.ClassID = d.ClassID
		tr.ClassName = d.ClassName
		if tr.Source == "" {
			tr.Source = models.SourcePrimary
		}
		out = append(out, tr)
	}
	return out
}

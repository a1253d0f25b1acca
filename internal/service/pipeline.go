// Package service связывает детектор, трекер, сопоставление с местами и
// сессии стоянки в конвейер обработки кадров.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"parkvision-go/internal/metrics"
	"parkvision-go/internal/occupancy"
	"parkvision-go/internal/session"
	"parkvision-go/internal/tracker"
	"parkvision-go/pkg/models"
)

// Pipeline конвейер одного потока. Владеет трекером и менеджером сессий,
// поэтому не предназначен для одновременного использования; каждому потоку
// нужен свой Pipeline.
type Pipeline struct {
	config   Config
	detector Detector
	matcher  *occupancy.Matcher
	tracker  *tracker.Tracker
	sessions *session.Manager
	metrics  *metrics.Metrics
	logger   *logrus.Logger
}

// NewPipeline создает конвейер. trk может быть nil: тогда создается трекер
// по движению без дескрипторов внешнего вида. m может быть nil. Без logger
// используется logrus.New().
func NewPipeline(config Config, detector Detector, matcher *occupancy.Matcher, trk *tracker.Tracker, m *metrics.Metrics, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	if matcher == nil {
		matcher = occupancy.NewMatcher(config.Occupancy, nil)
	}
	if trk == nil {
		trk = tracker.NewTracker(config.Tracker, logger, nil)
	}
	return &Pipeline{
		config:   config,
		detector: detector,
		matcher:  matcher,
		tracker:  trk,
		sessions: session.NewManager(config.SessionTimeout),
		metrics:  m,
		logger:   logger,
	}
}

// DetectOccupancy определяет занятость мест по одному кадру без трекинга
func (p *Pipeline) DetectOccupancy(ctx context.Context, frame models.Frame, lots []models.Lot) ([]models.OccupancyResult, []models.Lot, []models.Detection, error) {
	dets, err := p.detect(ctx, frame)
	if err != nil {
		return nil, nil, nil, err
	}
	res := p.matcher.Match(occupancy.ItemsFromDetections(dets), lots)
	return res.Occupied, res.Unoccupied, dets, nil
}

// Inspect выполняет DetectOccupancy и дополняет результат статусами мест и сводкой
func (p *Pipeline) Inspect(ctx context.Context, frame models.Frame, lots []models.Lot) (*OccupancyResponse, error) {
	occupied, unoccupied, dets, err := p.DetectOccupancy(ctx, frame, lots)
	if err != nil {
		return nil, err
	}
	res := occupancy.Result{Occupied: occupied, Unoccupied: unoccupied}
	summary := occupancy.Summarize(res)
	p.metrics.ObserveOccupancy(summary)

	p.logger.WithFields(logrus.Fields{
		"frame":    frame.Name,
		"occupied": summary.OccupiedSpaces,
		"total":    summary.TotalSpaces,
	}).Info("Определена занятость мест")

	return &OccupancyResponse{
		Occupied:   occupied,
		Unoccupied: unoccupied,
		Detections: dets,
		Statuses:   p.matcher.Classify(res, occupancy.ItemsFromDetections(dets)),
		Updates:    occupancy.SpotUpdates(res),
		Summary:    summary,
	}, nil
}

// ProcessStream обрабатывает поток до io.EOF, вызывая onResult для каждого кадра.
// В конце потока (и при ошибке) незавершенные сессии завершаются и возвращаются;
// сессии, завершенные по таймауту, передаются в FrameResult.Completed.
func (p *Pipeline) ProcessStream(ctx context.Context, src FrameSource, lots []models.Lot, onResult func(FrameResult)) ([]models.CompletedSession, error) {
	p.logger.WithFields(logrus.Fields{
		"lots":            len(lots),
		"strategy":        p.matcher.Config().Strategy,
		"iou_method":      p.matcher.Method(),
		"session_timeout": p.sessions.Timeout(),
	}).Info("Начинаем обработку потока")
	frames := 0

	for {
		if err := ctx.Err(); err != nil {
			return p.drain(), err
		}

		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return p.drain(), fmt.Errorf("ошибка чтения кадра: %w", err)
		}

		result, err := p.processFrame(ctx, frame, lots)
		if err != nil {
			return p.drain(), err
		}
		frames++
		if onResult != nil {
			onResult(result)
		}
	}

	drained := p.drain()
	p.logger.WithFields(logrus.Fields{
		"frames":   frames,
		"sessions": len(drained),
	}).Info("Обработка потока завершена")
	return drained, nil
}

// SessionUpdate передает треки кадра менеджеру сессий
func (p *Pipeline) SessionUpdate(tracks []models.Track, timestamp float64) []models.CompletedSession {
	completed := p.sessions.Update(tracks, timestamp)
	p.metrics.ObserveSessions(completed)
	return completed
}

// LiveSessions возвращает текущие незавершенные сессии
func (p *Pipeline) LiveSessions() []models.Session {
	return p.sessions.Live()
}

func (p *Pipeline) processFrame(ctx context.Context, frame models.Frame, lots []models.Lot) (FrameResult, error) {
	start := time.Now()

	dets, err := p.detect(ctx, frame)
	if err != nil {
		return FrameResult{}, err
	}

	tracks := p.tracker.Update(dets, frame.Image)
	items := occupancy.ItemsFromTracks(tracks)
	res := p.matcher.Match(items, lots)
	completed := p.SessionUpdate(tracks, frame.Timestamp)
	summary := occupancy.Summarize(res)

	p.metrics.ObserveFrame(time.Since(start), len(dets), tracks)
	p.metrics.ObserveOccupancy(summary)

	p.logger.WithFields(logrus.Fields{
		"frame":     frame.Index,
		"tracks":    len(tracks),
		"occupied":  summary.OccupiedSpaces,
		"completed": len(completed),
	}).Debug("Кадр обработан")

	return FrameResult{
		Frame:      frame,
		Occupied:   res.Occupied,
		Unoccupied: res.Unoccupied,
		Tracks:     tracks,
		Completed:  completed,
		Statuses:   p.matcher.Classify(res, items),
		Summary:    summary,
	}, nil
}

// detect вызывает детектор и отбрасывает некорректные и неуверенные детекции
func (p *Pipeline) detect(ctx context.Context, frame models.Frame) ([]models.Detection, error) {
	if p.detector == nil {
		return nil, fmt.Errorf("детектор не задан")
	}
	raw, err := p.detector.Detect(ctx, frame)
	if err != nil {
		p.metrics.IncDetectorErrors()
		return nil, fmt.Errorf("ошибка детекции кадра %d: %w", frame.Index, err)
	}

	dets := make([]models.Detection, 0, len(raw))
	for i, d := range raw {
		if err := d.Validate(); err != nil {
			p.logger.WithFields(logrus.Fields{
				"frame":     frame.Index,
				"detection": i,
			}).Warnf("Пропускаем некорректную детекцию: %v", err)
			continue
		}
		if d.Confidence < p.config.ConfThreshold {
			continue
		}
		dets = append(dets, d)
	}
	return dets, nil
}

func (p *Pipeline) drain() []models.CompletedSession {
	drained := p.sessions.Drain()
	p.metrics.ObserveSessions(drained)
	return drained
}

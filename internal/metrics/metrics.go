// Package metrics содержит метрики Prometheus конвейера занятости.
//
// Все методы безопасны для nil-получателя: конвейер без метрик просто
// ничего не считает.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"parkvision-go/pkg/models"
)

const namespace = "parkvision"

// Metrics метрики обработки кадров, трекинга, сессий и публикации
type Metrics struct {
	FramesProcessed   prometheus.Counter
	Detections        prometheus.Counter
	DetectorErrors    prometheus.Counter
	FallbackTracks    prometheus.Counter
	SessionsCompleted prometheus.Counter
	PublishedMessages prometheus.Counter
	PublishErrors     prometheus.Counter
	LotsOccupied      prometheus.Gauge
	LotsTotal         prometheus.Gauge
	OccupancyRate     prometheus.Gauge
	FrameLatency      prometheus.Histogram
	SessionDuration   prometheus.Histogram
}

// New создает метрики и регистрирует их в registry
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.FramesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_processed_total",
		Help:      "Total number of processed frames",
	})
	m.Detections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detections_total",
		Help:      "Total number of accepted vehicle detections",
	})
	m.DetectorErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detector_errors_total",
		Help:      "Total number of failed detector calls",
	})
	m.FallbackTracks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tracker_fallback_tracks_total",
		Help:      "Total number of tracks produced by IoU continuation instead of the primary tracker",
	})
	m.SessionsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_completed_total",
		Help:      "Total number of completed dwell sessions",
	})
	m.PublishedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mqtt_messages_published_total",
		Help:      "Total number of MQTT messages delivered",
	})
	m.PublishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mqtt_publish_errors_total",
		Help:      "Total number of failed MQTT publishes",
	})
	m.LotsOccupied = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "lots_occupied",
		Help:      "Number of occupied lots in the last processed frame",
	})
	m.LotsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "lots_total",
		Help:      "Number of lots evaluated in the last processed frame",
	})
	m.OccupancyRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "occupancy_rate",
		Help:      "Share of occupied lots in the last processed frame",
	})
	m.FrameLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "frame_latency_seconds",
		Help:      "Wall time spent on detect, track, match and session update for one frame",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	m.SessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_duration_seconds",
		Help:      "Duration of completed dwell sessions",
		Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200, 14400},
	})
}

// ObserveFrame учитывает обработанный кадр
func (m *Metrics) ObserveFrame(latency time.Duration, detections int, tracks []models.Track) {
	if m == nil {
		return
	}
	m.FramesProcessed.Inc()
	m.Detections.Add(float64(detections))
	m.FrameLatency.Observe(latency.Seconds())
	for _, tr := range tracks {
		if tr.Source == models.SourceFallback {
			m.FallbackTracks.Inc()
		}
	}
}

// ObserveOccupancy обновляет показатели занятости
func (m *Metrics) ObserveOccupancy(summary models.OccupancySummary) {
	if m == nil {
		return
	}
	m.LotsOccupied.Set(float64(summary.OccupiedSpaces))
	m.LotsTotal.Set(float64(summary.TotalSpaces))
	m.OccupancyRate.Set(summary.OccupancyRate)
}

// ObserveSessions учитывает завершенные сессии
func (m *Metrics) ObserveSessions(completed []models.CompletedSession) {
	if m == nil {
		return
	}
	for _, s := range completed {
		m.SessionsCompleted.Inc()
		m.SessionDuration.Observe(s.Duration)
	}
}

// IncDetectorErrors учитывает неудачный вызов детектора
func (m *Metrics) IncDetectorErrors() {
	if m == nil {
		return
	}
	m.DetectorErrors.Inc()
}

// ObservePublish учитывает результат публикации сообщения
func (m *Metrics) ObservePublish(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PublishErrors.Inc()
		return
	}
	m.PublishedMessages.Inc()
}

// WriteTextfile сохраняет метрики в формате textfile-коллектора node_exporter
func WriteTextfile(path string, gatherer prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, gatherer); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

// Collect реализует prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.FramesProcessed
	ch <- m.Detections
	ch <- m.DetectorErrors
	ch <- m.FallbackTracks
	ch <- m.SessionsCompleted
	ch <- m.PublishedMessages
	ch <- m.PublishErrors
	ch <- m.LotsOccupied
	ch <- m.LotsTotal
	ch <- m.OccupancyRate
	ch <- m.FrameLatency
	ch <- m.SessionDuration
}

// Describe реализует prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.FramesProcessed.Desc()
	ch <- m.Detections.Desc()
	ch <- m.DetectorErrors.Desc()
	ch <- m.FallbackTracks.Desc()
	ch <- m.SessionsCompleted.Desc()
	ch <- m.PublishedMessages.Desc()
	ch <- m.PublishErrors.Desc()
	ch <- m.LotsOccupied.Desc()
	ch <- m.LotsTotal.Desc()
	ch <- m.OccupancyRate.Desc()
	ch <- m.FrameLatency.Desc()
	ch <- m.SessionDuration.Desc()
}

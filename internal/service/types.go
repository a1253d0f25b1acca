package service

import (
	"context"

	"parkvision-go/internal/occupancy"
	"parkvision-go/internal/tracker"
	"parkvision-go/pkg/models"
)

// DefaultConfThreshold минимальная уверенность детекции
const DefaultConfThreshold = 0.05

// Detector возвращает детекции транспортных средств для кадра
type Detector interface {
	Detect(ctx context.Context, frame models.Frame) ([]models.Detection, error)
}

// FrameSource последовательно отдает кадры; io.EOF означает конец потока
type FrameSource interface {
	Next(ctx context.Context) (models.Frame, error)
}

// Config параметры конвейера
type Config struct {
	ConfThreshold  float64
	Occupancy      occupancy.Config
	Tracker        tracker.Config
	SessionTimeout float64
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		ConfThreshold:  DefaultConfThreshold,
		Occupancy:      occupancy.DefaultConfig(),
		Tracker:        tracker.DefaultConfig(),
		SessionTimeout: 5.0,
	}
}

// FrameResult результат обработки одного кадра потока
type FrameResult struct {
	Frame      models.Frame
	Occupied   []models.OccupancyResult
	Unoccupied []models.Lot
	Tracks     []models.Track
	Completed  []models.CompletedSession
	Statuses   []models.LotStatus
	Summary    models.OccupancySummary
}

// OccupancyResponse результат разовой проверки занятости по кадру
type OccupancyResponse struct {
	Occupied   []models.OccupancyResult `json:"occupied"`
	Unoccupied []models.Lot             `json:"unoccupied"`
	Detections []models.Detection       `json:"detections"`
	Statuses   []models.LotStatus       `json:"statuses"`
	Updates    []models.SpotUpdate      `json:"updates"`
	Summary    models.OccupancySummary  `json:"summary"`
}

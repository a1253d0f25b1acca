package models

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidDetection возвращается, если детекция не прошла валидацию
var ErrInvalidDetection = errors.New("invalid detection")

// Point представляет точку на кадре в пикселях
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box представляет выровненный по осям прямоугольник (x1,y1) - (x2,y2)
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width возвращает ширину прямоугольника (0 для вырожденного)
func (b Box) Width() float64 {
	return math.Max(0, b.X2-b.X1)
}

// Height возвращает высоту прямоугольника (0 для вырожденного)
func (b Box) Height() float64 {
	return math.Max(0, b.Y2-b.Y1)
}

// Area возвращает площадь прямоугольника
func (b Box) Area() float64 {
	return b.Width() * b.Height()
}

// Corners возвращает углы прямоугольника по часовой стрелке, начиная с (x1,y1)
func (b Box) Corners() []Point {
	return []Point{
		{X: b.X1, Y: b.Y1},
		{X: b.X2, Y: b.Y1},
		{X: b.X2, Y: b.Y2},
		{X: b.X1, Y: b.Y2},
	}
}

// Detection результат детектора для одного объекта на кадре
type Detection struct {
	Box        Box     `json:"box"`        // Прямоугольник объекта
	Confidence float64 `json:"confidence"` // Уверенность детектора [0,1]
	ClassID    int     `json:"class_id"`   // ID класса модели
	ClassName  string  `json:"class_name"` // Имя класса (car, truck, ...)
}

// Validate проверяет детекцию на границе приема данных
func (d Detection) Validate() error {
	for _, v := range []float64{d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2, d.Confidence} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: нечисловое значение", ErrInvalidDetection)
		}
	}
	if d.Box.X2 < d.Box.X1 || d.Box.Y2 < d.Box.Y1 {
		return fmt.Errorf("%w: перевернутый прямоугольник [%.1f %.1f %.1f %.1f]",
			ErrInvalidDetection, d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w: уверенность %.3f вне [0,1]", ErrInvalidDetection, d.Confidence)
	}
	return nil
}

// TrackState состояние трека в жизненном цикле
type TrackState string

const (
	TrackTentative TrackState = "tentative" // Новый трек, еще не подтвержден
	TrackConfirmed TrackState = "confirmed" // Подтвержден после MinHits попаданий
	TrackMissed    TrackState = "missed"    // Подтвержден, но пропущен на последних кадрах
	TrackExpired   TrackState = "expired"   // Удален после MaxAge пропусков
)

// TrackSource показывает, какая стратегия выдала трек
type TrackSource string

const (
	SourcePrimary  TrackSource = "primary"
	SourceFallback TrackSource = "fallback"
)

// Track устойчивая идентичность транспортного средства между кадрами
type Track struct {
	ID         int64       `json:"track_id"` // Монотонный ID, никогда не переиспользуется
	Box        Box         `json:"bbox"`     // Текущий прямоугольник
	Confidence float64     `json:"conf"`     // Уверенность последней детекции
	ClassID    int         `json:"cls"`      // Класс последней детекции
	ClassName  string      `json:"name"`     // Имя класса последней детекции
	State      TrackState  `json:"state"`    // Состояние жизненного цикла
	Hits       int         `json:"hits"`     // Число подряд идущих попаданий
	Misses     int         `json:"misses"`   // Число подряд идущих пропусков
	Source     TrackSource `json:"source"`   // primary или fallback
}

// Lot парковочное место: замкнутый (или замыкаемый) полигон
type Lot struct {
	Index  int     `json:"index"`        // Порядковый номер во входном списке
	ID     string  `json:"id,omitempty"` // Внешний ID места (spot_id)
	Points []Point `json:"points"`       // Вершины полигона
}

// OccupancyResult пара место - занявший его объект
type OccupancyResult struct {
	Lot        Lot     `json:"lot"`
	Box        Box     `json:"bbox"`               // Прямоугольник объекта
	Confidence float64 `json:"conf"`               // IoU совпадения, не уверенность детектора
	ClassID    int     `json:"cls"`                // Класс объекта
	ClassName  string  `json:"name"`               // Имя класса объекта
	TrackID    int64   `json:"track_id,omitempty"` // 0 для поиска без трекинга
}

// LotState состояние парковочного места
type LotState string

const (
	LotOccupied LotState = "occupied"
	LotVacant   LotState = "vacant"
	LotBlocked  LotState = "blocked"
)

// LotStatus состояние одного места на кадре
type LotStatus struct {
	Lot   Lot      `json:"lot"`
	State LotState `json:"status"`
	IoU   float64  `json:"iou"` // Лучшее IoU среди объектов кадра
}

// SpotUpdate обновление статуса места для внешнего потребителя
type SpotUpdate struct {
	SpotID string         `json:"spot_id"`
	Status LotState       `json:"status"`
	Meta   map[string]any `json:"meta"`
}

// OccupancySummary агрегированная статистика заполненности
type OccupancySummary struct {
	TotalSpaces    int     `json:"total_spaces"`
	OccupiedSpaces int     `json:"occupied_spaces"`
	OccupancyRate  float64 `json:"occupancy_rate"`
}

// Session живая сессия присутствия трека
type Session struct {
	TrackID   int64   `json:"track_id"`
	StartTime float64 `json:"start_time"`
	LastSeen  float64 `json:"last_seen"`
	Box       Box     `json:"bbox"`
	ClassID   int     `json:"cls"`
	ClassName string  `json:"name"`
}

// CompletedSession завершенное событие стоянки
type CompletedSession struct {
	EventID   string  `json:"event_id"`
	TrackID   int64   `json:"track_id"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Duration  float64 `json:"duration"`
	Box       Box     `json:"bbox"`
	ClassID   int     `json:"cls"`
	ClassName string  `json:"name"`
}

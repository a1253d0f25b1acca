// Package occupancy сопоставляет транспортные средства парковочным местам.
package occupancy

import (
	"parkvision-go/internal/assign"
	"parkvision-go/internal/geo"
	"parkvision-go/pkg/models"
)

// Strategy способ разрешения конфликтов за места
type Strategy string

const (
	// StrategyGreedy жадный захват в порядке входа: первый объект забирает место,
	// даже если у следующего IoU выше. Порядок входа влияет на результат.
	StrategyGreedy Strategy = "greedy"
	// StrategyOptimal взвешенное паросочетание по IoU (венгерский алгоритм)
	StrategyOptimal Strategy = "optimal"
)

const (
	DefaultThreshold        = 0.3
	DefaultBlockedThreshold = 0.1
)

// Config параметры сопоставления
type Config struct {
	Threshold        float64  // IoU должно быть строго больше порога
	BlockedThreshold float64  // Порог пересечения для статуса blocked
	Strategy         Strategy // greedy по умолчанию
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		Threshold:        DefaultThreshold,
		BlockedThreshold: DefaultBlockedThreshold,
		Strategy:         StrategyGreedy,
	}
}

// Item объект, претендующий на место: детекция или трек
type Item struct {
	Box       models.Box
	ClassID   int
	ClassName string
	TrackID   int64
}

// ItemsFromDetections строит кандидатов из детекций кадра
func ItemsFromDetections(dets []models.Detection) []Item {
	items := make([]Item, len(dets))
	for i, d := range dets {
		items[i] = Item{Box: d.Box, ClassID: d.ClassID, ClassName: d.ClassName}
	}
	return items
}

// ItemsFromTracks строит кандидатов из треков кадра
func ItemsFromTracks(tracks []models.Track) []Item {
	items := make([]Item, len(tracks))
	for i, t := range tracks {
		items[i] = Item{Box: t.Box, ClassID: t.ClassID, ClassName: t.ClassName, TrackID: t.ID}
	}
	return items
}

// Result разбиение мест на занятые и свободные
type Result struct {
	Occupied   []models.OccupancyResult `json:"occupied"`
	Unoccupied []models.Lot             `json:"unoccupied"`
}

// Matcher сопоставляет объекты местам. Не хранит состояния,
// поэтому безопасен для параллельного использования.
type Matcher struct {
	calc   *geo.Calculator
	config Config
}

// NewMatcher создает новый Matcher
func NewMatcher(config Config, calc *geo.Calculator) *Matcher {
	if calc == nil {
		calc = geo.NewCalculator(geo.MethodExact)
	}
	if config.Strategy == "" {
		config.Strategy = StrategyGreedy
	}
	return &Matcher{calc: calc, config: config}
}

// Config возвращает параметры сопоставления
func (m *Matcher) Config() Config {
	return m.config
}

// Method возвращает способ вычисления IoU
func (m *Matcher) Method() geo.Method {
	return m.calc.Method()
}

// Match назначает каждому месту не более одного объекта
func (m *Matcher) Match(items []Item, lots []models.Lot) Result {
	var claims map[int]claim
	if m.config.Strategy == StrategyOptimal {
		claims = m.matchOptimal(items, lots)
	} else {
		claims = m.matchGreedy(items, lots)
	}

	res := Result{
		Occupied:   make([]models.OccupancyResult, 0, len(claims)),
		Unoccupied: make([]models.Lot, 0, len(lots)-len(claims)),
	}
	claimedLots := make(map[int]struct{}, len(claims))

	// Занятые места выдаются в порядке объектов
	for i, item := range items {
		c, ok := claims[i]
		if !ok {
			continue
		}
		claimedLots[c.lot] = struct{}{}
		res.Occupied = append(res.Occupied, models.OccupancyResult{
			Lot:        lots[c.lot],
			Box:        item.Box,
			Confidence: c.iou,
			ClassID:    item.ClassID,
			ClassName:  item.ClassName,
			TrackID:    item.TrackID,
		})
	}

	for idx, lot := range lots {
		if _, ok := claimedLots[idx]; !ok {
			res.Unoccupied = append(res.Unoccupied, lot)
		}
	}
	return res
}

type claim struct {
	lot int
	iou float64
}

// matchGreedy: для каждого объекта по порядку лучшее свободное место выше порога.
// При равных IoU побеждает место с меньшим индексом.
func (m *Matcher) matchGreedy(items []Item, lots []models.Lot) map[int]claim {
	claims := make(map[int]claim)
	claimed := make(map[int]struct{})

	for i, item := range items {
		best := 0.0
		bestIdx := -1
		for idx, lot := range lots {
			if _, ok := claimed[idx]; ok {
				continue
			}
			iou := m.calc.PolygonRectIoU(lot.Points, item.Box)
			if iou > m.config.Threshold && iou > best {
				best = iou
				bestIdx = idx
			}
		}
		if bestIdx >= 0 {
			claimed[bestIdx] = struct{}{}
			claims[i] = claim{lot: bestIdx, iou: best}
		}
	}
	return claims
}

// matchOptimal максимизирует число пар, а затем суммарное IoU
func (m *Matcher) matchOptimal(items []Item, lots []models.Lot) map[int]claim {
	claims := make(map[int]claim)
	if len(items) == 0 || len(lots) == 0 {
		return claims
	}

	ious := make([][]float64, len(items))
	cost := make([][]float64, len(items))
	for i, item := range items {
		ious[i] = make([]float64, len(lots))
		cost[i] = make([]float64, len(lots))
		for idx, lot := range lots {
			iou := m.calc.PolygonRectIoU(lot.Points, item.Box)
			ious[i][idx] = iou
			cost[i][idx] = assign.Forbidden
			if iou > m.config.Threshold {
				cost[i][idx] = 1 - iou
			}
		}
	}

	for i, idx := range assign.Hungarian(cost) {
		if idx >= 0 {
			claims[i] = claim{lot: idx, iou: ious[i][idx]}
		}
	}
	return claims
}

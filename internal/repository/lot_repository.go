package repository

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"parkvision-go/pkg/models"
)

var (
	// ErrNoLots файл разметки не содержит ни одного места
	ErrNoLots = errors.New("no lots defined")
	// ErrLotNotFound место с заданным ID не найдено
	ErrLotNotFound = errors.New("lot not found")
)

// LotRepository интерфейс для получения разметки парковочных мест
type LotRepository interface {
	List() ([]models.Lot, error)
	GetByID(id string) (*models.Lot, error)
}

// fileLotRepository реализация LotRepository поверх JSON-файла
type fileLotRepository struct {
	path   string
	logger *logrus.Logger
}

// NewFileLotRepository создает репозиторий, читающий разметку из файла.
// Файл перечитывается при каждом вызове, поэтому правки разметки
// подхватываются без перезапуска.
func NewFileLotRepository(path string, logger *logrus.Logger) LotRepository {
	return &fileLotRepository{
		path:   path,
		logger: logger,
	}
}

// List возвращает все места в порядке файла
func (r *fileLotRepository) List() ([]models.Lot, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lots file %s: %w", r.path, err)
	}

	lots, err := ParseLots(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse lots file %s: %w", r.path, err)
	}

	for _, lot := range lots {
		if len(lot.Points) < 3 {
			r.logger.WithFields(logrus.Fields{
				"lot":    lot.Index,
				"points": len(lot.Points),
			}).Warn("Место задано менее чем тремя точками и всегда будет свободным")
		}
	}

	r.logger.Debugf("Загружено %d мест из %s", len(lots), r.path)
	return lots, nil
}

// GetByID получает место по внешнему ID или индексу
func (r *fileLotRepository) GetByID(id string) (*models.Lot, error) {
	lots, err := r.List()
	if err != nil {
		return nil, err
	}
	for i := range lots {
		if lots[i].ID == id || (lots[i].ID == "" && strconv.Itoa(lots[i].Index) == id) {
			return &lots[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLotNotFound, id)
}

// ParseLots разбирает разметку мест. Поддерживаются:
//   - массив [{"points": [[x,y],...]}] или объект с ключом "lots" / "spots";
//   - точки парами [[x,y],...], плоским списком [x1,y1,x2,y2,...]
//     или строкой CVAT "x,y;x,y;...";
//   - необязательные "id" / "spot_id".
//
// Многоугольник не обязан быть замкнутым.
func ParseLots(data []byte) ([]models.Lot, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON")
	}

	root := gjson.ParseBytes(data)
	if root.IsObject() {
		switch {
		case root.Get("lots").Exists():
			root = root.Get("lots")
		case root.Get("spots").Exists():
			root = root.Get("spots")
		default:
			return nil, ErrNoLots
		}
	}
	if !root.IsArray() {
		return nil, fmt.Errorf("lots must be an array, got %s", root.Type)
	}

	var lots []models.Lot
	var parseErr error
	root.ForEach(func(_, value gjson.Result) bool {
		index := len(lots)
		lot := models.Lot{Index: index}

		pointsValue := value
		if value.IsObject() {
			pointsValue = value.Get("points")
			if id := value.Get("id"); id.Exists() {
				lot.ID = id.String()
			} else if id := value.Get("spot_id"); id.Exists() {
				lot.ID = id.String()
			}
		}

		points, err := parsePoints(pointsValue)
		if err != nil {
			parseErr = fmt.Errorf("lot %d: %w", index, err)
			return false
		}
		lot.Points = points
		lots = append(lots, lot)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	if len(lots) == 0 {
		return nil, ErrNoLots
	}
	return lots, nil
}

func parsePoints(value gjson.Result) ([]models.Point, error) {
	switch {
	case !value.Exists():
		return nil, fmt.Errorf("points are missing")
	case value.Type == gjson.String:
		return parseCVATPoints(value.Str)
	case !value.IsArray():
		return nil, fmt.Errorf("points must be an array or a string, got %s", value.Type)
	}

	items := value.Array()
	if len(items) == 0 {
		return nil, nil
	}

	// Плоский список [x1,y1,x2,y2,...]
	if items[0].Type == gjson.Number {
		if len(items)%2 != 0 {
			return nil, fmt.Errorf("flat point list has odd length %d", len(items))
		}
		points := make([]models.Point, 0, len(items)/2)
		for i := 0; i < len(items); i += 2 {
			if items[i].Type != gjson.Number || items[i+1].Type != gjson.Number {
				return nil, fmt.Errorf("point %d is not numeric", i/2)
			}
			points = append(points, models.Point{X: items[i].Num, Y: items[i+1].Num})
		}
		return points, nil
	}

	points := make([]models.Point, 0, len(items))
	for i, item := range items {
		pair := item.Array()
		if len(pair) != 2 || pair[0].Type != gjson.Number || pair[1].Type != gjson.Number {
			return nil, fmt.Errorf("point %d must be [x, y]", i)
		}
		points = append(points, models.Point{X: pair[0].Num, Y: pair[1].Num})
	}
	return points, nil
}

func parseCVATPoints(s string) ([]models.Point, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var points []models.Point
	for i, part := range strings.Split(s, ";") {
		xy := strings.Split(strings.TrimSpace(part), ",")
		if len(xy) != 2 {
			return nil, fmt.Errorf("point %d must be \"x,y\"", i)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(xy[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(xy[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		points = append(points, models.Point{X: x, Y: y})
	}
	return points, nil
}

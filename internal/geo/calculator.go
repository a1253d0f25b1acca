package geo

import (
	"math"

	"parkvision-go/pkg/models"
)

// Method способ вычисления пересечения полигона и прямоугольника
type Method string

const (
	MethodExact  Method = "exact"  // Точное отсечение полигона
	MethodRaster Method = "raster" // Растеризация на общую маску
)

// Calculator для геометрических вычислений над местами и детекциями
type Calculator struct {
	method Method
}

// NewCalculator создает новый калькулятор. Неизвестный метод означает MethodExact.
func NewCalculator(method Method) *Calculator {
	if method != MethodRaster {
		method = MethodExact
	}
	return &Calculator{method: method}
}

// Method возвращает выбранный способ вычисления
func (c *Calculator) Method() Method {
	return c.method
}

// PolygonRectIoU вычисляет IoU полигона места и прямоугольника детекции
func (c *Calculator) PolygonRectIoU(polygon []models.Point, rect models.Box) float64 {
	if c != nil && c.method == MethodRaster {
		return RasterPolygonRectIoU(polygon, rect)
	}
	return PolygonRectIoU(polygon, rect)
}

// BoxIoU вычисляет IoU двух прямоугольников
func (c *Calculator) BoxIoU(a, b models.Box) float64 {
	return BoxIoU(a, b)
}

// PolygonRectIoU вычисляет IoU полигона и прямоугольника точным отсечением.
// Для вырожденной геометрии возвращает 0.
func PolygonRectIoU(polygon []models.Point, rect models.Box) float64 {
	polyArea, rectArea, ok := prepare(polygon, rect)
	if !ok {
		return 0
	}

	inter := PolygonArea(clipToBox(polygon, rect))
	return ratio(inter, polyArea+rectArea-inter)
}

// BoxIoU вычисляет IoU двух выровненных прямоугольников.
// Возвращает 0, если объединение пустое или прямоугольники не пересекаются.
func BoxIoU(a, b models.Box) float64 {
	w := math.Min(a.X2, b.X2) - math.Max(a.X1, b.X1)
	h := math.Min(a.Y2, b.Y2) - math.Max(a.Y1, b.Y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	inter := w * h
	return ratio(inter, a.Area()+b.Area()-inter)
}

// prepare проверяет входные фигуры и возвращает их площади
func prepare(polygon []models.Point, rect models.Box) (float64, float64, bool) {
	if DistinctVertices(polygon) < 3 {
		return 0, 0, false
	}
	polyArea := PolygonArea(ClosePolygon(polygon))
	if !(polyArea > 0) {
		return 0, 0, false
	}
	rectArea := rect.Area()
	if !(rectArea > 0) {
		return 0, 0, false
	}
	return polyArea, rectArea, true
}

// ratio делит с ограничением результата отрезком [0,1]
func ratio(inter, union float64) float64 {
	if !(union > 0) || !(inter > 0) {
		return 0
	}
	v := inter / union
	if v > 1 {
		return 1
	}
	return v
}

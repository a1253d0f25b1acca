package geo

import (
	"image"
	"math"

	"golang.org/x/image/vector"

	"parkvision-go/pkg/models"
)

// maxRasterPixels ограничивает размер маски; для больших фигур используется точный метод
const maxRasterPixels = 1 << 24

// RasterPolygonRectIoU вычисляет IoU заливкой обеих фигур на общую маску.
// Маска покрывает обе фигуры, пересечение считается по покрытию пикселей.
func RasterPolygonRectIoU(polygon []models.Point, rect models.Box) float64 {
	polyArea, rectArea, ok := prepare(polygon, rect)
	if !ok {
		return 0
	}

	bounds := PolygonBounds(polygon)
	minX := math.Floor(math.Min(bounds.X1, rect.X1))
	minY := math.Floor(math.Min(bounds.Y1, rect.Y1))
	fw := math.Ceil(math.Max(bounds.X2, rect.X2)-minX) + 1
	fh := math.Ceil(math.Max(bounds.Y2, rect.Y2)-minY) + 1
	// Размер проверяется до перевода в int, иначе w*h может переполниться
	if !(fw > 0 && fh > 0) || fw*fh > maxRasterPixels {
		return PolygonRectIoU(polygon, rect)
	}
	w, h := int(fw), int(fh)

	polyMask := fill(openPolygon(polygon), minX, minY, w, h)
	rectMask := fill(rect.Corners(), minX, minY, w, h)

	inter := 0.0
	for i := range polyMask.Pix {
		a, b := polyMask.Pix[i], rectMask.Pix[i]
		if b < a {
			a = b
		}
		inter += float64(a) / 255
	}

	return ratio(inter, polyArea+rectArea-inter)
}

// fill заливает полигон на маску w x h со сдвигом начала координат
func fill(points []models.Point, offX, offY float64, w, h int) *image.Alpha {
	z := vector.NewRasterizer(w, h)
	z.MoveTo(float32(points[0].X-offX), float32(points[0].Y-offY))
	for _, p := range points[1:] {
		z.LineTo(float32(p.X-offX), float32(p.Y-offY))
	}
	z.ClosePath()

	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	return mask
}

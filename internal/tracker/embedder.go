package tracker

import (
	"image"

	"gonum.org/v1/gonum/floats"

	"parkvision-go/pkg/models"
)

// Embedder строит дескриптор внешнего вида объекта по области кадра.
// nil-дескриптор означает, что сравнение по внешнему виду невозможно.
type Embedder interface {
	Embed(frame image.Image, box models.Box) ([]float64, error)
}

// DefaultHistogramBins число корзин на канал
const DefaultHistogramBins = 8

// HistogramEmbedder дескриптор из цветовых гистограмм каналов R, G, B,
// нормированный по L2
type HistogramEmbedder struct {
	Bins int
}

// NewHistogramEmbedder создает embedder; bins <= 0 заменяется значением по умолчанию
func NewHistogramEmbedder(bins int) *HistogramEmbedder {
	if bins <= 0 || bins > 256 {
		bins = DefaultHistogramBins
	}
	return &HistogramEmbedder{Bins: bins}
}

// Embed считает гистограмму пикселей внутри прямоугольника
func (e *HistogramEmbedder) Embed(frame image.Image, box models.Box) ([]float64, error) {
	bins := e.Bins
	if bins <= 0 || bins > 256 {
		bins = DefaultHistogramBins
	}

	rect := image.Rect(int(box.X1), int(box.Y1), int(box.X2+0.5), int(box.Y2+0.5)).Intersect(frame.Bounds())
	if rect.Empty() {
		return nil, nil
	}

	hist := make([]float64, 3*bins)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			r, g, b, _ := frame.At(x, y).RGBA()
			hist[int(r>>8)*bins/256]++
			hist[bins+int(g>>8)*bins/256]++
			hist[2*bins+int(b>>8)*bins/256]++
		}
	}

	norm := floats.Norm(hist, 2)
	if norm == 0 {
		return nil, nil
	}
	floats.Scale(1/norm, hist)
	return hist, nil
}

// CosineDistance возвращает 1 - cos(a, b). Для несравнимых дескрипторов
// (разной длины или нулевых) возвращает 0, то есть не мешает сопоставлению.
func CosineDistance(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	d := 1 - floats.Dot(a, b)/(na*nb)
	if d < 0 {
		return 0
	}
	return d
}

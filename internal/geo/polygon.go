package geo

import (
	"math"

	"parkvision-go/pkg/models"
)

// ClosePolygon возвращает копию полигона, у которой последняя вершина совпадает с первой
func ClosePolygon(points []models.Point) []models.Point {
	if len(points) == 0 {
		return nil
	}
	closed := make([]models.Point, len(points), len(points)+1)
	copy(closed, points)
	if points[0] != points[len(points)-1] {
		closed = append(closed, points[0])
	}
	return closed
}

// openPolygon убирает повторяющуюся замыкающую вершину
func openPolygon(points []models.Point) []models.Point {
	if len(points) > 1 && points[0] == points[len(points)-1] {
		return points[:len(points)-1]
	}
	return points
}

// DistinctVertices считает количество различных вершин полигона
func DistinctVertices(points []models.Point) int {
	seen := make(map[models.Point]struct{}, len(points))
	for _, p := range points {
		seen[p] = struct{}{}
	}
	return len(seen)
}

// PolygonArea вычисляет площадь полигона по формуле шнурков.
// Замкнут полигон или нет, значения не имеет.
func PolygonArea(points []models.Point) float64 {
	return math.Abs(signedArea(openPolygon(points)))
}

func signedArea(points []models.Point) float64 {
	n := len(points)
	if n < 3 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += points[i].X*points[j].Y - points[j].X*points[i].Y
	}
	return sum / 2
}

// PolygonBounds возвращает описывающий прямоугольник полигона
func PolygonBounds(points []models.Point) models.Box {
	if len(points) == 0 {
		return models.Box{}
	}
	b := models.Box{X1: points[0].X, Y1: points[0].Y, X2: points[0].X, Y2: points[0].Y}
	for _, p := range points[1:] {
		b.X1 = math.Min(b.X1, p.X)
		b.Y1 = math.Min(b.Y1, p.Y)
		b.X2 = math.Max(b.X2, p.X)
		b.Y2 = math.Max(b.Y2, p.Y)
	}
	return b
}

// clipToBox отсекает полигон прямоугольником (алгоритм Сазерленда - Ходжмана).
// Прямоугольник выпуклый, поэтому результат точен и для невыпуклых полигонов.
func clipToBox(points []models.Point, box models.Box) []models.Point {
	out := openPolygon(points)

	edges := []struct {
		inside func(models.Point) bool
		cross  func(a, b models.Point) models.Point
	}{
		{ // левая граница
			inside: func(p models.Point) bool { return p.X >= box.X1 },
			cross:  func(a, b models.Point) models.Point { return crossX(a, b, box.X1) },
		},
		{ // правая
			inside: func(p models.Point) bool { return p.X <= box.X2 },
			cross:  func(a, b models.Point) models.Point { return crossX(a, b, box.X2) },
		},
		{ // верхняя
			inside: func(p models.Point) bool { return p.Y >= box.Y1 },
			cross:  func(a, b models.Point) models.Point { return crossY(a, b, box.Y1) },
		},
		{ // нижняя
			inside: func(p models.Point) bool { return p.Y <= box.Y2 },
			cross:  func(a, b models.Point) models.Point { return crossY(a, b, box.Y2) },
		},
	}

	for _, edge := range edges {
		if len(out) == 0 {
			return nil
		}
		in := out
		out = make([]models.Point, 0, len(in)+4)
		prev := in[len(in)-1]
		for _, cur := range in {
			curIn, prevIn := edge.inside(cur), edge.inside(prev)
			switch {
			case curIn && prevIn:
				out = append(out, cur)
			case curIn && !prevIn:
				out = append(out, edge.cross(prev, cur), cur)
			case !curIn && prevIn:
				out = append(out, edge.cross(prev, cur))
			}
			prev = cur
		}
	}
	return out
}

func crossX(a, b models.Point, x float64) models.Point {
	t := (x - a.X) / (b.X - a.X)
	return models.Point{X: x, Y: a.Y + t*(b.Y-a.Y)}
}

func crossY(a, b models.Point, y float64) models.Point {
	t := (y - a.Y) / (b.Y - a.Y)
	return models.Point{X: a.X + t*(b.X-a.X), Y: y}
}

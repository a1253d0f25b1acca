// Package assign решает задачу о назначениях для сопоставления треков
// с детекциями и детекций с парковочными местами.
package assign

import "math"

// Forbidden стоимость запрещенной пары; такие пары никогда не назначаются.
// Реальные стоимости должны быть много меньше, иначе суммы теряют точность.
const Forbidden = 1e9

// Hungarian решает прямоугольную задачу о назначениях минимальной стоимости
// (алгоритм Куна - Манкреса с потенциалами). Возвращает result[i] = столбец,
// назначенный строке i, или -1, если строка не назначена. Стоимости >= Forbidden
// считаются запрещенными, и назначение на них отбрасывается.
func Hungarian(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := 0
	for _, row := range cost {
		if len(row) > m {
			m = len(row)
		}
	}
	result := make([]int, n)
	for i := range result {
		result[i] = -1
	}
	if m == 0 {
		return result
	}

	// Дополняем до квадратной матрицы запрещенными стоимостями
	dim := max(n, m)
	c := make([][]float64, dim)
	for i := range c {
		c[i] = make([]float64, dim)
		for j := range c[i] {
			c[i][j] = Forbidden
			if i < n && j < len(cost[i]) && cost[i][j] < Forbidden {
				c[i][j] = cost[i][j]
			}
		}
	}

	const inf = math.MaxFloat64 / 2

	// 1-индексация: u, v - потенциалы, p[j] - строка столбца j, way - путь
	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	p := make([]int, dim+1)
	way := make([]int, dim+1)
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0
		for j := range minv {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			if j1 < 0 {
				break
			}

			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	for j := 1; j <= dim; j++ {
		i := p[j] - 1
		if i < 0 || i >= n || j-1 >= m {
			continue
		}
		if c[i][j-1] >= Forbidden {
			continue
		}
		result[i] = j - 1
	}
	return result
}

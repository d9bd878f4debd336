package cluster

import "math"

// kdTree is a static kd-tree over one layer's points, built once and never
// mutated. The tree is implicit: idxs holds a permutation of point positions
// arranged so that every range [left, right] is median-split on alternating
// axes, with ranges at or below nodeSize left unsorted and scanned linearly.
// Coordinates are copied into a flat slice so queries touch contiguous
// memory instead of chasing pointers.
type kdTree struct {
	points   []*layerPoint
	idxs     []int32
	coords   []float64
	nodeSize int
}

func newKDTree(points []*layerPoint, nodeSize int) *kdTree {
	t := &kdTree{
		points:   points,
		idxs:     make([]int32, len(points)),
		coords:   make([]float64, 2*len(points)),
		nodeSize: nodeSize,
	}
	for i, p := range points {
		t.idxs[i] = int32(i)
		t.coords[2*i] = p.X
		t.coords[2*i+1] = p.Y
	}
	if len(points) > 0 {
		t.sortKD(0, len(points)-1, 0)
	}
	return t
}

func (t *kdTree) sortKD(left, right, axis int) {
	if right-left <= t.nodeSize {
		return
	}
	m := (left + right) >> 1
	t.selectAt(m, left, right, axis)
	t.sortKD(left, m-1, 1-axis)
	t.sortKD(m+1, right, 1-axis)
}

// selectAt partially sorts idxs[left..right] so the element at position k is
// the one that belongs there in full sorted order on the given axis
// (Floyd-Rivest selection).
func (t *kdTree) selectAt(k, left, right, axis int) {
	for right > left {
		if right-left > 600 {
			n := float64(right - left + 1)
			m := float64(k - left + 1)
			z := math.Log(n)
			s := 0.5 * math.Exp(2*z/3)
			sd := 0.5 * math.Sqrt(z*s*(n-s)/n)
			if m-n/2 < 0 {
				sd = -sd
			}
			newLeft := max(left, int(float64(k)-m*s/n+sd))
			newRight := min(right, int(float64(k)+(n-m)*s/n+sd))
			t.selectAt(k, newLeft, newRight, axis)
		}

		pivot := t.coords[2*int(t.idxs[k])+axis]
		i := left
		j := right

		t.swap(left, k)
		if t.coords[2*int(t.idxs[right])+axis] > pivot {
			t.swap(left, right)
		}

		for i < j {
			t.swap(i, j)
			i++
			j--
			for t.coords[2*int(t.idxs[i])+axis] < pivot {
				i++
			}
			for t.coords[2*int(t.idxs[j])+axis] > pivot {
				j--
			}
		}

		if t.coords[2*int(t.idxs[left])+axis] == pivot {
			t.swap(left, j)
		} else {
			j++
			t.swap(j, right)
		}

		if j <= k {
			left = j + 1
		}
		if k <= j {
			right = j - 1
		}
	}
}

func (t *kdTree) swap(i, j int) {
	t.idxs[i], t.idxs[j] = t.idxs[j], t.idxs[i]
}

// Range returns the positions of all points inside the box, in tree order.
func (t *kdTree) Range(minX, minY, maxX, maxY float64) []int {
	if len(t.idxs) == 0 {
		return nil
	}

	var result []int
	stack := []int{0, len(t.idxs) - 1, 0}

	for len(stack) > 0 {
		axis := stack[len(stack)-1]
		right := stack[len(stack)-2]
		left := stack[len(stack)-3]
		stack = stack[:len(stack)-3]

		if right-left <= t.nodeSize {
			for i := left; i <= right; i++ {
				idx := int(t.idxs[i])
				x := t.coords[2*idx]
				y := t.coords[2*idx+1]
				if x >= minX && x <= maxX && y >= minY && y <= maxY {
					result = append(result, idx)
				}
			}
			continue
		}

		m := (left + right) >> 1
		idx := int(t.idxs[m])
		x := t.coords[2*idx]
		y := t.coords[2*idx+1]
		if x >= minX && x <= maxX && y >= minY && y <= maxY {
			result = append(result, idx)
		}

		if (axis == 0 && minX <= x) || (axis == 1 && minY <= y) {
			stack = append(stack, left, m-1, 1-axis)
		}
		if (axis == 0 && maxX >= x) || (axis == 1 && maxY >= y) {
			stack = append(stack, m+1, right, 1-axis)
		}
	}

	return result
}

// Within returns the positions of all points whose distance to (qx, qy) is
// at most r, in tree order.
func (t *kdTree) Within(qx, qy, r float64) []int {
	if len(t.idxs) == 0 {
		return nil
	}

	r2 := r * r
	var result []int
	stack := []int{0, len(t.idxs) - 1, 0}

	for len(stack) > 0 {
		axis := stack[len(stack)-1]
		right := stack[len(stack)-2]
		left := stack[len(stack)-3]
		stack = stack[:len(stack)-3]

		if right-left <= t.nodeSize {
			for i := left; i <= right; i++ {
				idx := int(t.idxs[i])
				if distSq(t.coords[2*idx], t.coords[2*idx+1], qx, qy) <= r2 {
					result = append(result, idx)
				}
			}
			continue
		}

		m := (left + right) >> 1
		idx := int(t.idxs[m])
		x := t.coords[2*idx]
		y := t.coords[2*idx+1]
		if distSq(x, y, qx, qy) <= r2 {
			result = append(result, idx)
		}

		if (axis == 0 && qx-r <= x) || (axis == 1 && qy-r <= y) {
			stack = append(stack, left, m-1, 1-axis)
		}
		if (axis == 0 && qx+r >= x) || (axis == 1 && qy+r >= y) {
			stack = append(stack, m+1, right, 1-axis)
		}
	}

	return result
}

func distSq(ax, ay, bx, by float64) float64 {
	dx := ax - bx
	dy := ay - by
	return dx*dx + dy*dy
}

package signature

import "image"

// labelRegions performs 8-connected component labeling over a pixel mask.
// It returns a label per pixel (0 meaning unlabeled) and the area of each
// labeled region, where region n has label n+1.
func labelRegions(mask []bool, rect image.Rectangle) ([]int, []int) {
	w, h := rect.Dx(), rect.Dy()
	labels := make([]int, len(mask))
	var areas []int

	// Flood fill with an explicit stack; the mask can be a single large
	// region, so recursion is not an option.
	stack := make([]int, 0, 1024)
	next := 0

	for start := range mask {
		if !mask[start] || labels[start] != 0 {
			continue
		}
		next++
		area := 0

		stack = append(stack[:0], start)
		labels[start] = next
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			area++

			x, y := idx%w, idx/w
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					nx, ny := x+dx, y+dy
					if nx < 0 || nx >= w || ny < 0 || ny >= h {
						continue
					}
					n := ny*w + nx
					if mask[n] && labels[n] == 0 {
						labels[n] = next
						stack = append(stack, n)
					}
				}
			}
		}
		areas = append(areas, area)
	}
	return labels, areas
}

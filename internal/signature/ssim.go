package signature

import "image"

// Structural similarity constants for 8-bit images, following the usual
// K1=0.01, K2=0.03 stabilizers.
const (
	ssimWindow = 7
	ssimC1     = (0.01 * 255) * (0.01 * 255)
	ssimC2     = (0.03 * 255) * (0.03 * 255)
)

// ssim computes the mean structural similarity index of two grayscale
// images of equal size using a sliding uniform window. The result is in
// [-1, 1], with 1 meaning structurally identical.
func ssim(a, b *image.Gray) float64 {
	w := a.Rect.Dx()
	h := a.Rect.Dy()
	if w < ssimWindow || h < ssimWindow {
		return 0
	}

	n := float64(ssimWindow * ssimWindow)
	// Unbiased variance/covariance over each window.
	norm := n / (n - 1)

	var sum float64
	var windows int
	for y := 0; y+ssimWindow <= h; y++ {
		for x := 0; x+ssimWindow <= w; x++ {
			var sa, sb, saa, sbb, sab float64
			for wy := 0; wy < ssimWindow; wy++ {
				rowA := a.Pix[(y+wy)*a.Stride+x:]
				rowB := b.Pix[(y+wy)*b.Stride+x:]
				for wx := 0; wx < ssimWindow; wx++ {
					pa := float64(rowA[wx])
					pb := float64(rowB[wx])
					sa += pa
					sb += pb
					saa += pa * pa
					sbb += pb * pb
					sab += pa * pb
				}
			}

			ma := sa / n
			mb := sb / n
			va := (saa/n - ma*ma) * norm
			vb := (sbb/n - mb*mb) * norm
			cov := (sab/n - ma*mb) * norm

			num := (2*ma*mb + ssimC1) * (2*cov + ssimC2)
			den := (ma*ma + mb*mb + ssimC1) * (va + vb + ssimC2)
			sum += num / den
			windows++
		}
	}
	return sum / float64(windows)
}

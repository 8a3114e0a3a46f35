package signature

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder

	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	"golang.org/x/image/draw"
)

var (
	// ErrImageDecode means an input could not be decoded as a raster image.
	ErrImageDecode = errors.New("image is not decodable")

	// ErrInsufficientSignal means no measurable region was found on the
	// receipt, so there is nothing to compare against the reference.
	ErrInsufficientSignal = errors.New("no measurable signature region")
)

const (
	// binaryThreshold is the fixed cutoff for the initial binarization.
	binaryThreshold = 127

	// minRegionArea is the floor below which a connected region is
	// treated as measurement noise and excluded from the area average.
	minRegionArea = 10

	// canonicalSize is the square resolution both images are scaled to
	// before structural comparison.
	canonicalSize = 300
)

// Score compares the signature-like region of a receipt image against a
// reference signature and returns a similarity percentage in [0,100].
//
// The receipt is binarized, its connected ink regions are measured, and
// regions outside an adaptive size band (stray marks below it, stamps and
// printed blocks above it) are removed before comparison. Returns
// ErrImageDecode if either input is unreadable and ErrInsufficientSignal
// (with a zero score) if the receipt has no measurable ink region.
func Score(receiptData, referenceData []byte) (float64, error) {
	receipt, err := decodeGray(receiptData)
	if err != nil {
		return 0, fmt.Errorf("decoding receipt: %w", err)
	}

	reference, err := decodeGray(referenceData)
	if err != nil {
		return 0, fmt.Errorf("decoding reference signature: %w", err)
	}

	extracted, err := extractStrokes(receipt)
	if err != nil {
		return 0, err
	}

	a := resizeGray(extracted, canonicalSize, canonicalSize)
	b := resizeGray(reference, canonicalSize, canonicalSize)

	score := ssim(a, b) * 100
	if score < 0 {
		score = 0
	} else if score > 100 {
		score = 100
	}
	return score, nil
}

// extractStrokes isolates the signature-like ink regions of a grayscale
// receipt and returns them as dark strokes on a white background.
func extractStrokes(img *image.Gray) (*image.Gray, error) {
	bin := binarize(img, binaryThreshold)

	// Ink is whatever sits at or below the mean intensity of the
	// binarized page; on a receipt that is pen strokes and print, with
	// the paper itself forming the background.
	ink := inkMask(bin)

	labels, areas := labelRegions(ink, bin.Rect)

	var total, count int
	for _, area := range areas {
		if area > minRegionArea {
			total += area
			count++
		}
	}
	if count == 0 {
		return nil, ErrInsufficientSignal
	}

	// Empirical size band: regions below small are stray marks, regions
	// above large are stamps, borders and printed blocks.
	average := float64(total) / float64(count)
	small := (average/8)*25 + 10
	large := small * 9

	keep := make([]bool, len(areas)+1)
	for i, area := range areas {
		if float64(area) >= small && float64(area) <= large {
			keep[i+1] = true
		}
	}

	denoised := image.NewGray(bin.Rect)
	for i, label := range labels {
		if label > 0 && keep[label] {
			denoised.Pix[i] = 255
		}
	}

	// Automatic re-binarization, inverted so the surviving strokes come
	// out dark on white like the reference signature.
	t := otsuThreshold(denoised)
	out := image.NewGray(denoised.Rect)
	for i, p := range denoised.Pix {
		if p > t {
			out.Pix[i] = 0
		} else {
			out.Pix[i] = 255
		}
	}
	return out, nil
}

// decodeGray decodes any registered raster format into a grayscale image.
func decodeGray(data []byte) (*image.Gray, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}

	bounds := src.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Rect, src, bounds.Min, draw.Src)
	return gray, nil
}

// binarize applies a fixed threshold, mapping pixels above it to white.
func binarize(img *image.Gray, threshold uint8) *image.Gray {
	out := image.NewGray(img.Rect)
	for i, p := range img.Pix {
		if p > threshold {
			out.Pix[i] = 255
		}
	}
	return out
}

// inkMask marks every pixel at or below the image's mean intensity.
func inkMask(img *image.Gray) []bool {
	var sum uint64
	for _, p := range img.Pix {
		sum += uint64(p)
	}
	mean := float64(sum) / float64(len(img.Pix))

	mask := make([]bool, len(img.Pix))
	for i, p := range img.Pix {
		mask[i] = float64(p) <= mean
	}
	return mask
}

// resizeGray scales a grayscale image to the given dimensions.
func resizeGray(img *image.Gray, w, h int) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(out, out.Rect, img, img.Rect, draw.Src, nil)
	return out
}

// otsuThreshold picks the histogram threshold that maximizes between-class
// variance.
func otsuThreshold(img *image.Gray) uint8 {
	var hist [256]int
	for _, p := range img.Pix {
		hist[p]++
	}

	total := len(img.Pix)
	var sumAll float64
	for v, n := range hist {
		sumAll += float64(v) * float64(n)
	}

	var (
		sumBack    float64
		weightBack int
		best       float64
		threshold  uint8
	)
	for t := 0; t < 256; t++ {
		weightBack += hist[t]
		if weightBack == 0 {
			continue
		}
		weightFore := total - weightBack
		if weightFore == 0 {
			break
		}

		sumBack += float64(t) * float64(hist[t])
		meanBack := sumBack / float64(weightBack)
		meanFore := (sumAll - sumBack) / float64(weightFore)

		diff := meanBack - meanFore
		variance := float64(weightBack) * float64(weightFore) * diff * diff
		if variance > best {
			best = variance
			threshold = uint8(t)
		}
	}
	return threshold
}

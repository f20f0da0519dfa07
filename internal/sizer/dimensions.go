package sizer

import "math"

// FitDimensions scales width x height down so that the larger side equals
// maxDimension, preserving aspect ratio. Dimensions already within the bound
// are returned unchanged.
func FitDimensions(width, height, maxDimension int) (int, int) {
	if maxDimension <= 0 || (width <= maxDimension && height <= maxDimension) {
		return width, height
	}
	aspect := float64(width) / float64(height)
	if width >= height {
		h := int(math.Round(float64(maxDimension) / aspect))
		return maxDimension, max(h, 1)
	}
	w := int(math.Round(float64(maxDimension) * aspect))
	return max(w, 1), maxDimension
}

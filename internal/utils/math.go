package utils

import "math"

// Round rounds a float64 value to 1 decimal place
// Used for metric samples to avoid unnecessary precision in API responses
func Round(val float64) float64 {
	// Use proper rounding that works for both positive and negative numbers
	return math.Round(val*10) / 10
}

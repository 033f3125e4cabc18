package utils

import "math"

// AverageFloat32 returns the arithmetic mean of values, or 0 for an empty slice.
func AverageFloat32(values []float32) float32 {
	if len(values) == 0 {
		return 0
	}
	var sum float32
	for _, v := range values {
		sum += v
	}
	return sum / float32(len(values))
}

// RMSFloat32 returns the root mean square level of values, or 0 for an empty slice.
func RMSFloat32(values []float32) float32 {
	if len(values) == 0 {
		return 0
	}
	squares := make([]float32, len(values))
	for i, v := range values {
		squares[i] = v * v
	}
	return float32(math.Sqrt(float64(AverageFloat32(squares))))
}

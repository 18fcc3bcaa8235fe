package model

import "math"

// MinorToMajor converts an integer amount in minor currency units (cents)
// to major units rounded to two decimals.
// Examples: 1299 → 12.99, 0 → 0, 5 → 0.05
func MinorToMajor(minor int64) float64 {
	return RoundMajor(float64(minor) / 100)
}

// RoundMajor rounds a major-unit amount to two decimals.
// Sums of float prices drift (0.1+0.2); every value leaving the
// normalizer passes through here.
func RoundMajor(v float64) float64 {
	return math.Round(v*100) / 100
}

// MajorToMinor converts a major-unit amount to minor units.
// Examples: 12.99 → 1299, 0.1+0.2 → 30
func MajorToMinor(major float64) int64 {
	return int64(math.Round(major * 100))
}

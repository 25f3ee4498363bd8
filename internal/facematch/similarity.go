// Package facematch scores probe faces against an in-memory corpus of face
// records and ranks the nearest matches, with optional pose-based filters.
package facematch

import (
	"errors"
	"fmt"
	"math"
)

// DefaultForwardFacingThreshold is the maximum |yaw| in degrees for a face
// to count as forward-facing.
const DefaultForwardFacingThreshold = 20.0

// ErrZeroVector is returned when a similarity is requested against an
// all-zero vector; cosine distance is undefined at the origin.
var ErrZeroVector = errors.New("cosine similarity undefined for zero vector")

// DimensionError reports two vectors of incompatible lengths. Comparing
// embeddings from different models must never silently produce a score.
type DimensionError struct {
	LenA, LenB int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: %d vs %d", e.LenA, e.LenB)
}

// CosineSimilarity computes 1 - cosine distance between two equal-length
// vectors. Accumulation happens in float64 regardless of the float32
// storage precision. The result is clamped to [-1, 1] to absorb floating
// point error.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, &DimensionError{LenA: len(a), LenB: len(b)}
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, ErrZeroVector
	}

	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(-1, math.Min(1, similarity)), nil
}

// AngularDistance returns the angle in radians between two vectors.
func AngularDistance(a, b []float32) (float64, error) {
	similarity, err := CosineSimilarity(a, b)
	if err != nil {
		return 0, err
	}
	return math.Acos(similarity), nil
}

// PoseDistance is the Euclidean distance between two [yaw, pitch, roll]
// vectors in degrees.
func PoseDistance(p, q []float64) float64 {
	var sum float64
	for i := range p {
		if i >= len(q) {
			break
		}
		d := p[i] - q[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// IsForwardFacing reports whether a pose is within thresholdDeg of facing
// the camera. Yaw (left-right rotation) drives the decision; pitch and roll
// are ignored.
func IsForwardFacing(pose []float64, thresholdDeg float64) bool {
	if len(pose) == 0 {
		return false
	}
	if thresholdDeg <= 0 {
		thresholdDeg = DefaultForwardFacingThreshold
	}
	return math.Abs(pose[0]) < thresholdDeg
}

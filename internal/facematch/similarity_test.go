package facematch

import (
	"errors"
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{
			name: "identical vectors",
			a:    []float32{1, 2, 3},
			b:    []float32{1, 2, 3},
			want: 1.0,
		},
		{
			name: "orthogonal vectors",
			a:    []float32{1, 0, 0},
			b:    []float32{0, 1, 0},
			want: 0.0,
		},
		{
			name: "opposite vectors",
			a:    []float32{1, 0, 0},
			b:    []float32{-1, 0, 0},
			want: -1.0,
		},
		{
			name: "scale invariant",
			a:    []float32{1, 1},
			b:    []float32{10, 10},
			want: 1.0,
		},
		{
			name: "close vectors",
			a:    []float32{1, 0, 0},
			b:    []float32{0.9, 0.1, 0},
			want: 0.9 / math.Sqrt(0.81+0.01),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if err != nil {
				t.Fatalf("CosineSimilarity() error = %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineSimilaritySymmetry(t *testing.T) {
	a := []float32{0.3, -0.7, 0.2, 0.5}
	b := []float32{-0.1, 0.4, 0.9, -0.2}

	ab, err := CosineSimilarity(a, b)
	if err != nil {
		t.Fatalf("CosineSimilarity(a, b) error = %v", err)
	}
	ba, err := CosineSimilarity(b, a)
	if err != nil {
		t.Fatalf("CosineSimilarity(b, a) error = %v", err)
	}
	if ab != ba {
		t.Errorf("similarity not symmetric: %v vs %v", ab, ba)
	}
}

func TestCosineSimilarityClamped(t *testing.T) {
	// Many equal components accumulate floating point error that can push
	// the raw quotient past 1.
	a := make([]float32, 512)
	for i := range a {
		a[i] = 0.1
	}
	got, err := CosineSimilarity(a, a)
	if err != nil {
		t.Fatalf("CosineSimilarity() error = %v", err)
	}
	if got > 1.0 || got < -1.0 {
		t.Errorf("CosineSimilarity() = %v, outside [-1, 1]", got)
	}
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
	}{
		{name: "different lengths", a: []float32{1, 2, 3}, b: []float32{1, 2}},
		{name: "both empty", a: nil, b: nil},
		{name: "one empty", a: []float32{1}, b: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CosineSimilarity(tt.a, tt.b)
			var dimErr *DimensionError
			if !errors.As(err, &dimErr) {
				t.Fatalf("CosineSimilarity() error = %v, want *DimensionError", err)
			}
			if dimErr.LenA != len(tt.a) || dimErr.LenB != len(tt.b) {
				t.Errorf("DimensionError = %d/%d, want %d/%d", dimErr.LenA, dimErr.LenB, len(tt.a), len(tt.b))
			}
		})
	}
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	_, err := CosineSimilarity([]float32{0, 0, 0}, []float32{1, 2, 3})
	if !errors.Is(err, ErrZeroVector) {
		t.Errorf("CosineSimilarity() error = %v, want ErrZeroVector", err)
	}

	_, err = CosineSimilarity([]float32{1, 2, 3}, []float32{0, 0, 0})
	if !errors.Is(err, ErrZeroVector) {
		t.Errorf("CosineSimilarity() error = %v, want ErrZeroVector", err)
	}
}

func TestAngularDistance(t *testing.T) {
	got, err := AngularDistance([]float32{1, 0}, []float32{0, 1})
	if err != nil {
		t.Fatalf("AngularDistance() error = %v", err)
	}
	if math.Abs(got-math.Pi/2) > 1e-9 {
		t.Errorf("AngularDistance() = %v, want %v", got, math.Pi/2)
	}

	got, err = AngularDistance([]float32{1, 1}, []float32{1, 1})
	if err != nil {
		t.Fatalf("AngularDistance() error = %v", err)
	}
	if math.Abs(got) > 1e-6 {
		t.Errorf("AngularDistance() = %v, want 0", got)
	}
}

func TestPoseDistance(t *testing.T) {
	tests := []struct {
		name string
		p, q []float64
		want float64
	}{
		{name: "identical", p: []float64{10, 5, -3}, q: []float64{10, 5, -3}, want: 0},
		{name: "single axis", p: []float64{0, 0, 0}, q: []float64{30, 0, 0}, want: 30},
		{name: "pythagorean", p: []float64{0, 0, 0}, q: []float64{3, 4, 0}, want: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PoseDistance(tt.p, tt.q); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("PoseDistance() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsForwardFacing(t *testing.T) {
	tests := []struct {
		name      string
		pose      []float64
		threshold float64
		want      bool
	}{
		{name: "straight ahead", pose: []float64{0, 0, 0}, threshold: 20, want: true},
		{name: "slight yaw", pose: []float64{15, 40, 40}, threshold: 20, want: true},
		{name: "negative yaw within", pose: []float64{-19.9, 0, 0}, threshold: 20, want: true},
		{name: "at threshold excluded", pose: []float64{20, 0, 0}, threshold: 20, want: false},
		{name: "profile", pose: []float64{85, 0, 0}, threshold: 20, want: false},
		{name: "no pose", pose: nil, threshold: 20, want: false},
		{name: "default threshold", pose: []float64{19, 0, 0}, threshold: 0, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsForwardFacing(tt.pose, tt.threshold); got != tt.want {
				t.Errorf("IsForwardFacing(%v, %v) = %v, want %v", tt.pose, tt.threshold, got, tt.want)
			}
		})
	}
}

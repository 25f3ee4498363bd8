package detect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func healthyHandler(detect http.HandlerFunc) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if detect != nil {
		mux.HandleFunc("/detect/faces", detect)
	}
	return mux
}

func TestNewClientHealthCheck(t *testing.T) {
	srv := httptest.NewServer(healthyHandler(nil))
	defer srv.Close()

	if _, err := NewClient(context.Background(), srv.URL, 0); err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
}

func TestNewClientServiceDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(context.Background(), srv.URL, 0)
	var initErr *ModelInitError
	if !errors.As(err, &initErr) {
		t.Fatalf("NewClient() error = %v, want *ModelInitError", err)
	}
	if initErr.URL != srv.URL {
		t.Errorf("ModelInitError.URL = %q, want %q", initErr.URL, srv.URL)
	}
}

func TestNewClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(healthyHandler(nil))
	srv.Close() // immediately unreachable

	_, err := NewClient(context.Background(), srv.URL, 0)
	var initErr *ModelInitError
	if !errors.As(err, &initErr) {
		t.Fatalf("NewClient() error = %v, want *ModelInitError", err)
	}
}

func TestDetectFaces(t *testing.T) {
	var gotThreshold string
	srv := httptest.NewServer(healthyHandler(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("FormFile(file) error = %v", err)
		}
		gotThreshold = r.FormValue("det_threshold")

		json.NewEncoder(w).Encode(detectResponse{
			FacesCount: 2,
			Model:      "buffalo_l",
			Faces: []Face{
				{FaceIndex: 0, Embedding: []float32{0.1, 0.2}, BBox: []float64{0, 0, 50, 50}, Gender: 0.9, Age: 40, Pose: []float64{1, 2, 3}},
				{FaceIndex: 1, Embedding: []float32{0.3, 0.4}, BBox: []float64{0, 0, 100, 100}, Gender: 0.1, Age: 20},
			},
		})
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), srv.URL, 0.8)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	faces, err := c.DetectFaces(context.Background(), []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0})
	if err != nil {
		t.Fatalf("DetectFaces() error = %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("got %d faces, want 2", len(faces))
	}
	if gotThreshold != "0.8" {
		t.Errorf("det_threshold field = %q, want 0.8", gotThreshold)
	}
	if faces[0].GenderLabel() != "Male" || faces[1].GenderLabel() != "Female" {
		t.Errorf("gender labels = %s/%s", faces[0].GenderLabel(), faces[1].GenderLabel())
	}
}

func TestDetectFacesNoFaces(t *testing.T) {
	srv := httptest.NewServer(healthyHandler(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(detectResponse{FacesCount: 0, Faces: []Face{}})
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), srv.URL, 0)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	faces, err := c.DetectFaces(context.Background(), []byte("not really an image"))
	if err != nil {
		t.Fatalf("DetectFaces() error = %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("got %d faces, want 0", len(faces))
	}
}

func TestDetectFacesAPIError(t *testing.T) {
	srv := httptest.NewServer(healthyHandler(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "cannot decode image", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), srv.URL, 0)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if _, err := c.DetectFaces(context.Background(), []byte("junk")); err == nil {
		t.Fatal("DetectFaces() should fail on a non-200 response")
	}
}

func TestLargestFace(t *testing.T) {
	tests := []struct {
		name  string
		faces []Face
		want  int // FaceIndex of the expected pick, -1 for nil
	}{
		{name: "empty", faces: nil, want: -1},
		{
			name: "picks biggest area",
			faces: []Face{
				{FaceIndex: 0, BBox: []float64{0, 0, 10, 10}},
				{FaceIndex: 1, BBox: []float64{0, 0, 100, 100}},
				{FaceIndex: 2, BBox: []float64{0, 0, 50, 50}},
			},
			want: 1,
		},
		{
			name:  "single face",
			faces: []Face{{FaceIndex: 0, BBox: []float64{5, 5, 10, 10}}},
			want:  0,
		},
		{
			name: "malformed bbox loses",
			faces: []Face{
				{FaceIndex: 0, BBox: []float64{0, 0}},
				{FaceIndex: 1, BBox: []float64{0, 0, 5, 5}},
			},
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LargestFace(tt.faces)
			if tt.want == -1 {
				if got != nil {
					t.Errorf("LargestFace() = %+v, want nil", got)
				}
				return
			}
			if got == nil || got.FaceIndex != tt.want {
				t.Errorf("LargestFace() = %+v, want face %d", got, tt.want)
			}
		})
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{name: "jpeg", data: []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}, want: "image/jpeg"},
		{name: "png", data: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, want: "image/png"},
		{name: "gif", data: []byte{0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0, 0}, want: "image/gif"},
		{name: "bmp", data: []byte{0x42, 0x4D, 0, 0, 0, 0, 0, 0}, want: "image/bmp"},
		{name: "unknown", data: []byte{0, 1, 2, 3, 4, 5, 6, 7}, want: "application/octet-stream"},
		{name: "too short", data: []byte{0xFF}, want: "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectMIMEType(tt.data); got != tt.want {
				t.Errorf("detectMIMEType() = %q, want %q", got, tt.want)
			}
		})
	}
}

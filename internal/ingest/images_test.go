package ingest

import (
	"image"
	"os"
	"path/filepath"
	"testing"
)

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	cropDir := filepath.Join(dir, "crops")

	for _, name := range []string{"a.jpg", "b.PNG", "c.txt", "d.jpeg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
	for _, sub := range []string{"faces", "no_faces", "crops", "nested"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
	}
	// Images inside parking and crop directories must not be rediscovered.
	for _, sub := range []string{"faces", "no_faces", "crops"} {
		if err := os.WriteFile(filepath.Join(dir, sub, "hidden.jpg"), []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
	// Images in ordinary subdirectories are included.
	if err := os.WriteFile(filepath.Join(dir, "nested", "deep.gif"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	images, err := listImages(dir, cropDir)
	if err != nil {
		t.Fatalf("listImages() error = %v", err)
	}
	if len(images) != 4 {
		t.Fatalf("found %d images, want 4: %v", len(images), images)
	}
	for _, img := range images {
		base := filepath.Base(img)
		if base == "hidden.jpg" || base == "c.txt" {
			t.Errorf("unexpected file discovered: %s", img)
		}
	}
}

func TestCropFace(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))

	t.Run("margin applied", func(t *testing.T) {
		crop, bbox, err := cropFace(img, []float64{40, 40, 60, 60}, 0.1)
		if err != nil {
			t.Fatalf("cropFace() error = %v", err)
		}
		want := []int{38, 38, 62, 62}
		for i := range want {
			if bbox[i] != want[i] {
				t.Fatalf("bbox = %v, want %v", bbox, want)
			}
		}
		if crop.Bounds().Dx() != 24 || crop.Bounds().Dy() != 24 {
			t.Errorf("crop size = %dx%d, want 24x24", crop.Bounds().Dx(), crop.Bounds().Dy())
		}
	})

	t.Run("clamped to image bounds", func(t *testing.T) {
		_, bbox, err := cropFace(img, []float64{0, 0, 50, 50}, 0.2)
		if err != nil {
			t.Fatalf("cropFace() error = %v", err)
		}
		if bbox[0] != 0 || bbox[1] != 0 {
			t.Errorf("bbox = %v, left/top should clamp to 0", bbox)
		}
		if bbox[2] != 60 || bbox[3] != 60 {
			t.Errorf("bbox = %v, right/bottom should extend by the margin", bbox)
		}
	})

	t.Run("bbox outside image", func(t *testing.T) {
		if _, _, err := cropFace(img, []float64{200, 200, 300, 300}, 0.1); err == nil {
			t.Error("cropFace() should fail for a bbox outside the image")
		}
	})

	t.Run("malformed bbox", func(t *testing.T) {
		if _, _, err := cropFace(img, []float64{1, 2, 3}, 0.1); err == nil {
			t.Error("cropFace() should fail for a 3-value bbox")
		}
	})
}

func TestSaveCrop(t *testing.T) {
	cropDir := t.TempDir()
	crop := image.NewRGBA(image.Rect(0, 0, 10, 10))

	path, err := saveCrop(crop, cropDir, "/photos/holiday/IMG_1234.PNG", 2)
	if err != nil {
		t.Fatalf("saveCrop() error = %v", err)
	}
	if filepath.Base(path) != "IMG_1234_face_2.jpg" {
		t.Errorf("crop name = %s, want IMG_1234_face_2.jpg", filepath.Base(path))
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("crop not written: %v", err)
	}
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	dst := filepath.Join(dir, "faces")
	if err := moveFile(src, dst); err != nil {
		t.Fatalf("moveFile() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dst, "photo.jpg"))
	if err != nil {
		t.Fatalf("moved file unreadable: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("moved file content = %q", data)
	}
	if _, err := os.Stat(src); err == nil {
		t.Error("source still present after move")
	}
}

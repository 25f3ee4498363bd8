package ingest

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
)

// Directory names used to park processed source images next to where they
// were found. Both are excluded from discovery so a second run never
// re-reads relocated files.
const (
	facesDirName   = "faces"
	noFacesDirName = "no_faces"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".gif":  true,
}

// listImages walks the folder and returns every image file, skipping the
// faces/no_faces parking directories and the crop output directory.
func listImages(root, cropDir string) ([]string, error) {
	cropAbs, err := filepath.Abs(cropDir)
	if err != nil {
		cropAbs = filepath.Clean(cropDir)
	}

	var images []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == facesDirName || d.Name() == noFacesDirName {
				return filepath.SkipDir
			}
			if abs, err := filepath.Abs(path); err == nil && abs == cropAbs {
				return filepath.SkipDir
			}
			return nil
		}
		if imageExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			images = append(images, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return images, nil
}

// decodeImage decodes image bytes; jpeg, png, gif and bmp are registered.
func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// cropFace cuts the face out of the image with a margin (fraction of the
// face size) clamped to the image bounds. Returns the crop and the clamped
// integer bbox [left, top, right, bottom].
func cropFace(img image.Image, bbox []float64, margin float64) (image.Image, []int, error) {
	if len(bbox) != 4 {
		return nil, nil, fmt.Errorf("bbox must have 4 values, got %d", len(bbox))
	}

	bounds := img.Bounds()
	left := int(bbox[0])
	top := int(bbox[1])
	right := int(bbox[2])
	bottom := int(bbox[3])

	xMargin := int(math.Round(float64(right-left) * margin))
	yMargin := int(math.Round(float64(bottom-top) * margin))

	left = max(bounds.Min.X, left-xMargin)
	top = max(bounds.Min.Y, top-yMargin)
	right = min(bounds.Max.X, right+xMargin)
	bottom = min(bounds.Max.Y, bottom+yMargin)

	if left >= right || top >= bottom {
		return nil, nil, fmt.Errorf("face bbox [%v] lies outside the image", bbox)
	}

	crop := imaging.Crop(img, image.Rect(left, top, right, bottom))
	return crop, []int{left, top, right, bottom}, nil
}

// saveCrop persists the cropped face as JPEG and returns the final path.
func saveCrop(crop image.Image, cropDir, sourcePath string, faceIndex int) (string, error) {
	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	name := fmt.Sprintf("%s_face_%d.jpg", stem, faceIndex)
	path := filepath.Join(cropDir, name)

	if err := imaging.Save(crop, path, imaging.JPEGQuality(90)); err != nil {
		return "", fmt.Errorf("failed to save crop %s: %w", path, err)
	}
	return path, nil
}

// moveFile relocates a processed source image into dir, falling back to
// copy+remove for cross-device moves. An existing file at the destination
// is replaced.
func moveFile(src, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	dst := filepath.Join(dir, filepath.Base(src))

	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to finalize %s: %w", dst, err)
	}
	return os.Remove(src)
}

// Package store persists face records as batches of JSON files under a
// single corpus directory and answers existence queries for already
// processed source images.
package store

import "fmt"

// Gender values used in the persisted records.
const (
	GenderFemale = "Female"
	GenderMale   = "Male"
)

// FaceRecord is one detected face instance. The JSON field names are fixed
// by the on-disk batch file format and must not change; existing corpora
// depend on them.
type FaceRecord struct {
	Embedding        []float32   `json:"face_embedding,omitempty"`
	BBox             []int       `json:"bbox"` // [left, top, right, bottom] in source image pixels
	Age              float64     `json:"age"`
	Gender           string      `json:"gender"`
	Pose             []float64   `json:"pose,omitempty"` // [yaw, pitch, roll] in degrees
	Landmarks2D106   [][]float64 `json:"landmark_2d_106,omitempty"`
	Landmarks3D68    [][]float64 `json:"landmark_3d_68,omitempty"`
	SourceImagePath  string      `json:"image_source"`
	CroppedImagePath string      `json:"img_path"`
	Resolution       string      `json:"resolution"`  // "WxH Pixels"
	FolderName       string      `json:"folder_name"` // immediate parent directory of the source image
}

// HasEmbedding reports whether the record carries an embedding vector.
func (r *FaceRecord) HasEmbedding() bool {
	return len(r.Embedding) > 0
}

// HasPose reports whether the record carries a full yaw/pitch/roll pose.
func (r *FaceRecord) HasPose() bool {
	return len(r.Pose) == 3
}

// OverlayLandmarks returns 2D landmark points for drawing over the crop.
// The 106-point scheme is preferred; the 68-point 3D scheme is used with
// its Z coordinate dropped when that is all the detector provided.
func (r *FaceRecord) OverlayLandmarks() [][2]float64 {
	pick := func(src [][]float64) [][2]float64 {
		points := make([][2]float64, 0, len(src))
		for _, p := range src {
			if len(p) < 2 {
				continue
			}
			points = append(points, [2]float64{p[0], p[1]})
		}
		return points
	}

	if len(r.Landmarks2D106) > 0 {
		return pick(r.Landmarks2D106)
	}
	if len(r.Landmarks3D68) > 0 {
		return pick(r.Landmarks3D68)
	}
	return nil
}

// Validate checks the structural invariants of a record before it is
// accepted for persistence.
func (r *FaceRecord) Validate() error {
	if len(r.BBox) != 4 {
		return fmt.Errorf("bbox must have 4 values, got %d", len(r.BBox))
	}
	if r.BBox[0] >= r.BBox[2] || r.BBox[1] >= r.BBox[3] {
		return fmt.Errorf("invalid bbox ordering: [%d %d %d %d]", r.BBox[0], r.BBox[1], r.BBox[2], r.BBox[3])
	}
	if r.SourceImagePath == "" {
		return fmt.Errorf("record has no source image path")
	}
	return nil
}

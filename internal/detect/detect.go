// Package detect talks to the face analysis service. The service wraps the
// neural detection/embedding model and is treated as an opaque capability:
// it receives an image and returns zero or more detected faces with bounding
// box, embedding, age, gender, pose and optional landmarks.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

const defaultServiceURL = "http://localhost:8000"

// ModelInitError signals that the analysis service (and therefore the
// model behind it) is not available. This is the only fatal error class in
// the pipeline; everything downstream is per-item recoverable.
type ModelInitError struct {
	URL string
	Err error
}

func (e *ModelInitError) Error() string {
	return fmt.Sprintf("face analysis service unavailable at %s: %v", e.URL, e.Err)
}

func (e *ModelInitError) Unwrap() error {
	return e.Err
}

// Face is one detected face as reported by the service. Landmark fields are
// optional; absence is legal and consumers must check presence explicitly.
type Face struct {
	FaceIndex      int         `json:"face_index"`
	Dim            int         `json:"dim"`
	Embedding      []float32   `json:"embedding"`
	BBox           []float64   `json:"bbox"` // [x1, y1, x2, y2] in pixels
	DetScore       float64     `json:"det_score"`
	Age            float64     `json:"age"`
	Gender         float64     `json:"gender"` // model score, < 0.5 means female
	Pose           []float64   `json:"pose"`   // [yaw, pitch, roll] in degrees
	Landmarks2D106 [][]float64 `json:"landmark_2d_106,omitempty"`
	Landmarks3D68  [][]float64 `json:"landmark_3d_68,omitempty"`
}

// GenderLabel maps the model's gender score to the categorical value used
// in persisted records.
func (f *Face) GenderLabel() string {
	if f.Gender < 0.5 {
		return "Female"
	}
	return "Male"
}

// Area returns the bbox area in square pixels.
func (f *Face) Area() float64 {
	if len(f.BBox) != 4 {
		return 0
	}
	return (f.BBox[2] - f.BBox[0]) * (f.BBox[3] - f.BBox[1])
}

// LargestFace picks the face with the biggest bounding box, or nil for an
// empty slice. Used to select the probe face when an uploaded image
// contains several people.
func LargestFace(faces []Face) *Face {
	var largest *Face
	var maxArea float64
	for i := range faces {
		if area := faces[i].Area(); largest == nil || area > maxArea {
			largest = &faces[i]
			maxArea = area
		}
	}
	return largest
}

// detectResponse is the wire format of the /detect/faces endpoint.
type detectResponse struct {
	FacesCount int    `json:"faces_count"`
	Faces      []Face `json:"faces"`
	Model      string `json:"model"`
}

// Client is a stateless HTTP wrapper around the analysis service and is
// safe for concurrent use; one instance is shared across ingest workers.
type Client struct {
	baseURL      string
	detThreshold float64
	client       *http.Client
}

// NewClient probes the service health endpoint and fails with a
// *ModelInitError when the model is not up. detThreshold <= 0 leaves the
// service default in place.
func NewClient(ctx context.Context, baseURL string, detThreshold float64) (*Client, error) {
	if baseURL == "" {
		baseURL = defaultServiceURL
	}
	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		detThreshold: detThreshold,
		client:       &http.Client{Timeout: 2 * time.Minute},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, &ModelInitError{URL: c.baseURL, Err: err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ModelInitError{URL: c.baseURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &ModelInitError{URL: c.baseURL, Err: fmt.Errorf("health check returned status %d", resp.StatusCode)}
	}
	return c, nil
}

// DetectFaces runs detection on one image and returns every face found. An
// image with no faces yields an empty slice, not an error.
func (c *Client) DetectFaces(ctx context.Context, imageData []byte) ([]Face, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if c.detThreshold > 0 {
		if err := writer.WriteField("det_threshold", strconv.FormatFloat(c.detThreshold, 'f', -1, 64)); err != nil {
			return nil, fmt.Errorf("failed to write threshold field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect/faces", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var detResp detectResponse
	if err := json.Unmarshal(body, &detResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return detResp.Faces, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	// BMP: 42 4D
	if data[0] == 0x42 && data[1] == 0x4D {
		return "image/bmp"
	}
	return "application/octet-stream"
}

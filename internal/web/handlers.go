package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/kozaktomas/face-finder/internal/detect"
	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/store"
)

const maxUploadBytes = 32 << 20 // 32 MB

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	CorpusFaces int               `json:"corpus_faces"`
	StoreDir    string            `json:"store_dir"`
	Store       store.VerifyStats `json:"store"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	vs, err := s.store.Verify(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		CorpusFaces: s.matcher.CorpusSize(),
		StoreDir:    s.store.Dir(),
		Store:       vs,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var (
		vs  store.VerifyStats
		err error
	)
	if sample := r.URL.Query().Get("sample"); sample != "" {
		ratio, parseErr := strconv.ParseFloat(sample, 64)
		if parseErr != nil || ratio <= 0 || ratio > 1 {
			writeError(w, http.StatusBadRequest, "sample must be a ratio in (0, 1]")
			return
		}
		vs, err = s.store.VerifySample(r.Context(), ratio)
	} else {
		vs, err = s.store.Verify(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, vs)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.matcher.Reload(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "reloaded",
		"corpus_faces": s.matcher.CorpusSize(),
	})
}

// matchEntry is one ranked match in the API response. The embedding is
// deliberately omitted; it is large and useless to API consumers.
type matchEntry struct {
	Score            float64 `json:"score"`
	SourceImagePath  string  `json:"image_source"`
	CroppedImagePath string  `json:"img_path"`
	Age              float64 `json:"age"`
	Gender           string  `json:"gender"`
	Resolution       string  `json:"resolution"`
	FolderName       string  `json:"folder_name"`
}

type matchResponse struct {
	Filter             string       `json:"filter"`
	ProbeFaces         int          `json:"probe_faces"`
	Matches            []matchEntry `json:"matches"`
	Scored             int          `json:"scored"`
	FilteredOut        int          `json:"filtered_out"`
	SkippedNoEmbedding int          `json:"skipped_no_embedding"`
	SkippedDimension   int          `json:"skipped_dimension"`
}

// handleMatch accepts a multipart image upload, detects the largest face in
// it and ranks the corpus against it. A response with zero matches is a
// successful query, not an error.
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	mode, err := facematch.ParseFilterMode(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	query := facematch.Query{Mode: mode}
	if v := r.URL.Query().Get("top"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			query.TopMatches = n
		}
	}
	if v := r.URL.Query().Get("max_pose_diff"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			query.MaxPoseDiff = f
		}
	}
	if v := r.URL.Query().Get("threshold"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			query.ForwardThreshold = f
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file upload: "+err.Error())
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload: "+err.Error())
		return
	}

	faces, err := s.detector.DetectFaces(r.Context(), imageData)
	if err != nil {
		writeError(w, http.StatusBadGateway, "detection failed: "+err.Error())
		return
	}
	probe := detect.LargestFace(faces)
	if probe == nil {
		writeError(w, http.StatusUnprocessableEntity, "no face detected in uploaded image")
		return
	}

	query.Probe = facematch.Probe{
		Embedding:      probe.Embedding,
		Pose:           probe.Pose,
		Age:            probe.Age,
		Gender:         probe.GenderLabel(),
		Landmarks2D106: probe.Landmarks2D106,
		Landmarks3D68:  probe.Landmarks3D68,
	}

	set, err := s.matcher.Match(query)
	if err != nil {
		// A probe the detector could not fully describe is a property of
		// the upload, not a server fault.
		if errors.Is(err, facematch.ErrNoProbeEmbedding) || errors.Is(err, facematch.ErrNoProbePose) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := matchResponse{
		Filter:             mode.String(),
		ProbeFaces:         len(faces),
		Matches:            make([]matchEntry, 0, len(set.Matches)),
		Scored:             set.Scored,
		FilteredOut:        set.FilteredOut,
		SkippedNoEmbedding: set.SkippedNoEmbedding,
		SkippedDimension:   set.SkippedDimension,
	}
	for _, m := range set.Matches {
		resp.Matches = append(resp.Matches, matchEntry{
			Score:            m.Score,
			SourceImagePath:  m.Record.SourceImagePath,
			CroppedImagePath: m.Record.CroppedImagePath,
			Age:              m.Record.Age,
			Gender:           m.Record.Gender,
			Resolution:       m.Record.Resolution,
			FolderName:       m.Record.FolderName,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

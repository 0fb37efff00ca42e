package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"meeting-insight-service/internal/app"
	"meeting-insight-service/internal/schema"
	"meeting-insight-service/internal/service/assistant"
	"meeting-insight-service/internal/service/intake"
	"meeting-insight-service/internal/service/pipeline"
	"meeting-insight-service/internal/service/records"
	"meeting-insight-service/internal/service/remote"
	"meeting-insight-service/internal/service/report"
)

const pingTimeout = 10 * time.Second

type handlers struct {
	app    *app.Application
	logger zerolog.Logger
}

type uploadResponse struct {
	Message      string  `json:"message"`
	VideoID      string  `json:"videoId"`
	VideoPath    string  `json:"videoPath"`
	AudioPath    string  `json:"audioPath"`
	TextFilePath *string `json:"textFilePath"`
}

type processRequest struct {
	AudioPath    string `json:"audioPath"`
	TextFilePath string `json:"textFilePath"`
}

type processResponse struct {
	Message string `json:"message"`
	JobID   string `json:"jobId"`
}

type chatRequest struct {
	Message string              `json:"message"`
	History []assistant.Message `json:"history"`
}

type chatResponse struct {
	Response string `json:"response"`
	Model    string `json:"model"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"ffmpeg":      h.app.Transducer.Available(),
		"assistant":   h.app.Assistant != nil,
		"subscribers": h.app.Broadcaster.Count(),
		"uptime":      time.Since(h.app.StartupTime).Round(time.Second).String(),
	})
}

func (h *handlers) testModel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := h.app.Remote.Ping(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("Model service test failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Could not reach the model service",
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Model service reachable",
	})
}

func (h *handlers) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.app.Intake.MaxRequestBytes())

	res, err := h.app.Intake.Receive(r)
	if err != nil {
		var invalid *intake.InvalidUploadError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Upload failed")
		writeError(w, http.StatusInternalServerError, "Server error: "+err.Error())
		return
	}

	up, err := h.app.Orchestrator.OnUploadComplete(r.Context(), res.Video, res.Text)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Server error: "+err.Error())
		return
	}

	resp := uploadResponse{
		Message:   "Video successfully uploaded and processed",
		VideoID:   strings.TrimSuffix(res.Video.StoredName, filepath.Ext(res.Video.StoredName)),
		VideoPath: up.VideoURL,
		AudioPath: up.AudioURL,
	}
	if up.TextURL != "" {
		resp.TextFilePath = &up.TextURL
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) process(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	jobId, err := h.app.Orchestrator.OnProcessRequested(r.Context(), req.AudioPath, req.TextFilePath)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, processResponse{
			Message: "Processing submitted to the model service",
			JobID:   jobId,
		})
	case errors.Is(err, pipeline.ErrAudioPathRequired):
		writeError(w, http.StatusBadRequest, "Audio file path is required")
	case errors.Is(err, pipeline.ErrAssetNotFound):
		writeError(w, http.StatusNotFound, "Audio file not found")
	case errors.Is(err, pipeline.ErrJobInProgress):
		writeError(w, http.StatusConflict, "Audio file is already being processed")
	default:
		var serr *remote.SubmissionError
		if errors.As(err, &serr) {
			writeJSON(w, http.StatusInternalServerError, remoteErrorResponse{
				Status: "error",
				Error:  "Model service could not start processing: " + serr.Message,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "Server error: "+err.Error())
	}
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	jobId := chi.URLParam(r, "jobId")

	doc, err := h.app.Remote.StatusDocument(r.Context(), jobId)
	if err != nil {
		h.forwardRemoteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func (h *handlers) result(w http.ResponseWriter, r *http.Request) {
	jobId := chi.URLParam(r, "jobId")

	rec, err := h.app.Remote.FetchResult(r.Context(), jobId)
	if err != nil {
		h.forwardRemoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// forwardRemoteError passes the analysis service's status code and message
// through. Transport failures become 500.
func (h *handlers) forwardRemoteError(w http.ResponseWriter, err error) {
	var rerr *remote.RemoteError
	if errors.As(err, &rerr) && rerr.StatusCode >= 400 {
		writeJSON(w, rerr.StatusCode, remoteErrorResponse{
			Status: "error",
			Error:  "Model service error: " + rerr.Message,
		})
		return
	}
	h.logger.Warn().Err(err).Msg("Model service unreachable")
	writeJSON(w, http.StatusInternalServerError, remoteErrorResponse{
		Status: "error",
		Error:  "Could not reach model service: " + err.Error(),
	})
}

func (h *handlers) jobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.app.Orchestrator.Jobs()})
}

func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}
	if h.app.Assistant == nil {
		writeError(w, http.StatusServiceUnavailable, "AI assistant is not configured")
		return
	}

	reply, err := h.app.Assistant.Chat(r.Context(), req.Message, req.History)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Error while contacting the AI service",
			"details": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: reply, Model: h.app.Assistant.Model()})
}

func (h *handlers) meetingFiles(w http.ResponseWriter, r *http.Request) {
	entries, err := h.app.Catalog.List()
	if err != nil {
		h.logger.Error().Err(err).Msg("Listing analysis records failed")
		writeError(w, http.StatusInternalServerError, "Could not list meeting files")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": entries})
}

func (h *handlers) download(w http.ResponseWriter, r *http.Request) {
	format, err := report.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	name := r.URL.Query().Get("file")
	if name == "" {
		writeError(w, http.StatusBadRequest, "file parameter is required")
		return
	}

	rec, err := h.app.Store.Load(name)
	if err != nil {
		var verr *schema.ValidationError
		switch {
		case errors.Is(err, records.ErrInvalidName):
			writeError(w, http.StatusBadRequest, "invalid file name")
		case errors.Is(err, records.ErrNotFound):
			writeError(w, http.StatusNotFound, "meeting file not found")
		case errors.As(err, &verr):
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			h.logger.Error().Err(err).Str("file", name).Msg("Loading analysis record failed")
			writeError(w, http.StatusInternalServerError, "Could not read meeting file")
		}
		return
	}

	data, err := h.app.Renderer.Render(format, rec)
	if err != nil {
		h.logger.Error().Err(err).Str("file", name).Str("format", string(format)).Msg("Rendering report failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.FileName(name, format)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

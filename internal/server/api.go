package server

import (
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	apperrors "github.com/GriffinCanCode/reverser/internal/errors"
	"github.com/GriffinCanCode/reverser/internal/history"
	"github.com/GriffinCanCode/reverser/internal/pipeline"
	"github.com/GriffinCanCode/reverser/internal/resilience"
	"github.com/GriffinCanCode/reverser/internal/trace"
)

// StateResponse is returned by GET /api/state.
type StateResponse struct {
	State      pipeline.State           `json:"state"`
	Mode       pipeline.Mode            `json:"mode"`
	Metrics    pipeline.MetricsSnapshot `json:"metrics"`
	Engine     resilience.Status        `json:"engine"`
	SessionID  string                   `json:"session_id"`
	Viewfinder Box                      `json:"viewfinder"`
	Clients    int                      `json:"clients"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status = appErr.HTTPStatus()
	}
	writeJSON(w, status, ErrorMessage{Type: "error", Code: string(apperrors.CodeOf(err)), Message: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInvalidArgument, "malformed request body")
	}
	return nil
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	p := s.deps.Pipeline
	writeJSON(w, http.StatusOK, StateResponse{
		State:      p.State(),
		Mode:       p.Mode(),
		Metrics:    p.Metrics(),
		Engine:     p.EngineStatus(),
		SessionID:  p.SessionID(),
		Viewfinder: toBox(s.deps.Viewfinder.Frame()),
		Clients:    s.Clients(),
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Pipeline.Result()
	if res == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, newResultView(res))
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	ctx, span := trace.StartSpan(r.Context(), "render_overlay")
	defer span.End()

	var background image.Image
	if r.URL.Query().Get("background") == "frame" && s.deps.Frames != nil {
		background = s.deps.Frames.Latest()
	}

	img, stats, err := s.deps.Renderer.Render(s.deps.Viewfinder.Geometry(), s.deps.Pipeline.Result(), background)
	if err != nil {
		span.SetAttr("error", err.Error())
		writeError(w, err)
		return
	}
	span.SetAttr("glyphs", stats.Glyphs)
	span.SetAttr("skipped", stats.Skipped)

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Overlay-Glyphs", strconv.Itoa(stats.Glyphs))
	if err := png.Encode(w, img); err != nil {
		trace.Logger(ctx).Debug("overlay encode failed", "error", err)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSON(w, http.StatusOK, []history.Entry{})
		return
	}
	limit := DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, apperrors.Newf(apperrors.CodeInvalidArgument, "invalid limit %q", v))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.deps.History.Recent(limit))
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if s.deps.Frames == nil {
		writeError(w, apperrors.New(apperrors.CodeResourceUnavailable, "frame input disabled"))
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxFrameBytes))
	if err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "read frame"))
		return
	}
	admitted, err := s.deps.Frames.Offer(data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"admitted": admitted})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.deps.Pipeline.Pause()
	writeJSON(w, http.StatusOK, map[string]pipeline.State{"state": s.deps.Pipeline.State()})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.deps.Pipeline.Resume()
	writeJSON(w, http.StatusOK, map[string]pipeline.State{"state": s.deps.Pipeline.State()})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	terminate := s.deps.Pipeline.Dismiss()
	writeJSON(w, http.StatusOK, map[string]bool{"terminate": terminate})
	if terminate {
		s.terminate()
	}
}

func (s *Server) handleShot(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Pipeline.RequestShot(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "armed"})
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Continuous bool `json:"continuous"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	s.deps.Pipeline.SetMode(modeOf(body.Continuous))
	writeJSON(w, http.StatusOK, map[string]pipeline.Mode{"mode": s.deps.Pipeline.Mode()})
}

func (s *Server) handleViewfinder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DW int `json:"dw"`
		DH int `json:"dh"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	applied := s.deps.Viewfinder.Adjust(body.DW, body.DH)
	writeJSON(w, http.StatusOK, ViewfinderMessage{Type: "viewfinder", Applied: applied, Frame: toBox(s.deps.Viewfinder.Frame())})
}

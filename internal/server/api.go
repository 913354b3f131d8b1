package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/viflex/platescan/internal/core"
	"github.com/viflex/platescan/internal/core/store"
	apperrors "github.com/viflex/platescan/internal/errors"
	"github.com/viflex/platescan/internal/imagesource"
	"github.com/viflex/platescan/internal/presenter"
	"github.com/viflex/platescan/internal/selection"
	servermw "github.com/viflex/platescan/internal/server/middleware"
	"github.com/viflex/platescan/internal/workflow"
)

// ImageFieldName is the multipart field read by the upload endpoint.
const ImageFieldName = "image"

// uploadOverhead leaves room for multipart headers around a maximum-size image.
const uploadOverhead = 1 << 20

// History is the read side of the analysis history store.
type History interface {
	ListAnalyses(ctx context.Context, limit int) ([]*core.AnalysisRecord, error)
	GetAnalysis(ctx context.Context, id string) (*core.AnalysisRecord, error)
	DeleteAnalysis(ctx context.Context, id string) error
}

// ImageInfo describes the selected image without its bytes.
type ImageInfo struct {
	Filename   string    `json:"filename"`
	MIMEType   string    `json:"mime_type"`
	Bytes      int64     `json:"bytes"`
	SHA256     string    `json:"sha256"`
	CapturedAt time.Time `json:"captured_at"`
}

// SessionResponse is the JSON form of a session and its workflow snapshot.
type SessionResponse struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Phase     workflow.Phase  `json:"phase"`
	Image     *ImageInfo      `json:"image,omitempty"`
	Message   string          `json:"message,omitempty"`
	Result    *presenter.View `json:"result,omitempty"`
	Seq       uint64          `json:"seq"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// HistoryEntry is one stored analysis with its presented breakdown.
type HistoryEntry struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Filename  string         `json:"filename"`
	MIMEType  string         `json:"mime_type"`
	Bytes     int64          `json:"image_bytes"`
	SHA256    string         `json:"image_sha256"`
	Endpoint  string         `json:"endpoint,omitempty"`
	Result    presenter.View `json:"result"`
}

func newSessionResponse(s *Session) SessionResponse {
	snap := s.Controller.Snapshot()
	resp := SessionResponse{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		Phase:     snap.Phase,
		Message:   snap.Message,
		Seq:       snap.Seq,
		UpdatedAt: snap.UpdatedAt,
	}
	if snap.Image != nil {
		resp.Image = &ImageInfo{
			Filename:   snap.Image.Filename,
			MIMEType:   snap.Image.MIMEType,
			Bytes:      snap.Image.Size(),
			SHA256:     snap.Image.Digest(),
			CapturedAt: snap.Image.CapturedAt,
		}
	}
	if snap.Phase == workflow.PhaseResults && snap.Result != nil {
		view := presenter.Present(snap.Result)
		resp.Result = &view
	}
	return resp
}

func newHistoryEntry(record *core.AnalysisRecord) HistoryEntry {
	return HistoryEntry{
		ID:        record.ID,
		CreatedAt: record.CreatedAt,
		Filename:  record.Filename,
		MIMEType:  record.MIMEType,
		Bytes:     record.ImageBytes,
		SHA256:    record.ImageDigest,
		Endpoint:  record.Endpoint,
		Result:    presenter.Present(record.Result),
	}
}

// registerAPIRoutes mounts the session and history API under /api/v1.
func (s *Server) registerAPIRoutes() {
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.createSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Delete("/", s.deleteSession)
				r.With(servermw.LimitBody(selection.MaxImageBytes+uploadOverhead)).Put("/image", s.putImage)
				r.Delete("/image", s.clearImage)
				r.Post("/analyze", s.analyze)
			})
		})
		r.Route("/history", func(r chi.Router) {
			r.Get("/", s.listHistory)
			r.Get("/{analysisID}", s.getHistory)
			r.Delete("/{analysisID}", s.deleteHistory)
		})
	})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	if s.sessions == nil {
		HandleError(w, r, apperrors.NewServiceUnavailableError("Sessions are not enabled on this server"))
		return nil, false
	}
	sess, err := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		HandleError(w, r, apperrors.WrapNotFound(r.Context(), err, "Session not found or expired"))
		return nil, false
	}
	return sess, true
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		HandleError(w, r, apperrors.NewServiceUnavailableError("Sessions are not enabled on this server"))
		return
	}
	sess, err := s.sessions.Create()
	if err != nil {
		if errors.Is(err, ErrTooManySessions) {
			HandleError(w, r, apperrors.NewConflictError("Too many active sessions, try again later"))
			return
		}
		HandleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/sessions/"+sess.ID)
	writeJSON(w, http.StatusCreated, newSessionResponse(sess))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		HandleError(w, r, apperrors.NewServiceUnavailableError("Sessions are not enabled on this server"))
		return
	}
	if err := s.sessions.Delete(chi.URLParam(r, "sessionID")); err != nil {
		HandleError(w, r, apperrors.WrapNotFound(r.Context(), err, "Session not found or expired"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) putImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	blob, err := readUpload(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			HandleError(w, r, &selection.RejectionError{Reason: selection.ReasonTooLarge, Detail: "upload exceeds the size limit"})
			return
		}
		HandleError(w, r, apperrors.WrapInvalidInput(r.Context(), err, err.Error()))
		return
	}

	if err := sess.Controller.Select(blob); err != nil {
		HandleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

func (s *Server) clearImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Controller.Clear()
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	// The analysis belongs to the session, not the request: a client that
	// disconnects can still poll the session for the outcome.
	if _, err := sess.Controller.Analyze(context.WithoutCancel(r.Context())); err != nil {
		HandleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w, r) {
		return
	}
	limit := store.DefaultListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			HandleError(w, r, apperrors.NewInvalidInputError("limit must be a positive integer"))
			return
		}
		limit = n
	}

	records, err := s.history.ListAnalyses(r.Context(), limit)
	if err != nil {
		HandleError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "Failed to list analyses"))
		return
	}
	entries := make([]HistoryEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, newHistoryEntry(record))
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w, r) {
		return
	}
	record, err := s.history.GetAnalysis(r.Context(), chi.URLParam(r, "analysisID"))
	if err != nil {
		s.historyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newHistoryEntry(record))
}

func (s *Server) deleteHistory(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w, r) {
		return
	}
	if err := s.history.DeleteAnalysis(r.Context(), chi.URLParam(r, "analysisID")); err != nil {
		s.historyError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) historyEnabled(w http.ResponseWriter, r *http.Request) bool {
	if s.history == nil {
		HandleError(w, r, apperrors.NewServiceUnavailableError("Analysis history is disabled"))
		return false
	}
	return true
}

func (s *Server) historyError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		HandleError(w, r, err)
		return
	}
	HandleError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "History lookup failed"))
}

// readUpload accepts either a multipart form with an "image" file field or a
// raw image body. Reads stop one byte past the selection limit so oversized
// images reach validation and are rejected there.
func readUpload(r *http.Request) (*core.ImageBlob, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return readMultipartImage(r)
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, selection.MaxImageBytes+1))
	if err != nil {
		return nil, err
	}
	filename := filepath.Base(strings.TrimSpace(r.URL.Query().Get("filename")))
	return newUploadBlob(data, mediaType, filename), nil
}

func readMultipartImage(r *http.Request) (*core.ImageBlob, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil, errors.New("multipart body has no \"" + ImageFieldName + "\" field")
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() != ImageFieldName {
			_ = part.Close()
			continue
		}
		var buf bytes.Buffer
		_, err = io.Copy(&buf, io.LimitReader(part, selection.MaxImageBytes+1))
		_ = part.Close()
		if err != nil {
			return nil, err
		}
		partType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		return newUploadBlob(buf.Bytes(), partType, filepath.Base(part.FileName())), nil
	}
}

// newUploadBlob prefers the sniffed media type over the declared one so a
// mislabeled upload is judged by its content.
func newUploadBlob(data []byte, declared, filename string) *core.ImageBlob {
	mimeType := declared
	if len(data) > 0 {
		if sniffed := imagesource.SniffMIME(data); strings.HasPrefix(sniffed, "image/") || declared == "" {
			mimeType = sniffed
		}
	}
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		filename = "upload"
	}
	return &core.ImageBlob{
		Data:       data,
		MIMEType:   mimeType,
		Filename:   filename,
		CapturedAt: time.Now().UTC(),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

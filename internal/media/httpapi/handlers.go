// Package httpapi is the HTTP adapter over the media service and the
// cleanup orchestrator.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/paths"
	"github.com/romariotrain/media-derivatives/internal/media/service"
)

const (
	maxUploadBytes = 8 << 30
	multipartMem   = 32 << 20
)

type MediaService interface {
	RegisterUpload(ctx context.Context, req service.UploadRequest) (*models.Media, error)
	Describe(ctx context.Context, id uuid.UUID) (*service.Details, error)
	ChangeStatus(ctx context.Context, id uuid.UUID, to models.Status) (*models.Media, error)
}

type Cleaner interface {
	Cleanup(ctx context.Context, mediaID uuid.UUID) error
}

type Handler struct {
	svc     MediaService
	cleaner Cleaner
	paths   *paths.Resolver
	logger  zerolog.Logger
}

func New(svc MediaService, cleaner Cleaner, resolver *paths.Resolver, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:     svc,
		cleaner: cleaner,
		paths:   resolver,
		logger:  logger.With().Str("component", "httpapi").Logger(),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateMedia accepts multipart/form-data: owner_id, kind, file, and for
// video the optional subtitle, subtitle_language and resolutions fields.
func (h *Handler) CreateMedia(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMem); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	ownerID, err := uuid.Parse(r.FormValue("owner_id"))
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid owner_id")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	req := service.UploadRequest{
		OwnerID:     ownerID,
		Kind:        models.Kind(strings.ToLower(r.FormValue("kind"))),
		FileName:    header.Filename,
		SizeBytes:   header.Size,
		Body:        file,
		Resolutions: splitList(r.MultipartForm.Value["resolutions"]),
	}

	if sub, subHeader, err := r.FormFile("subtitle"); err == nil {
		defer sub.Close()
		req.Subtitle = &service.SubtitleUpload{
			Language: r.FormValue("subtitle_language"),
			FileName: subHeader.Filename,
			Body:     sub,
		}
	} else if !errors.Is(err, http.ErrMissingFile) {
		writeErrorJSON(w, http.StatusBadRequest, "invalid subtitle")
		return
	}

	m, err := h.svc.RegisterUpload(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMediaResponse(m))
}

func (h *Handler) GetMedia(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	d, err := h.svc.Describe(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toDetailsResponse(d))
}

func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()

	var req ChangeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid json body")
		return
	}

	m, err := h.svc.ChangeStatus(r.Context(), id, req.Status)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toMediaResponse(m))
}

func (h *Handler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.cleaner.Cleanup(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// splitList accepts repeated fields as well as comma-separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeErrorJSON(w, http.StatusNotFound, "not found")
	case errors.Is(err, models.ErrInvalidArgument):
		writeErrorJSON(w, http.StatusBadRequest, "invalid argument")
	case errors.Is(err, models.ErrInvalidTransition):
		writeErrorJSON(w, http.StatusConflict, "invalid status transition")
	case errors.Is(err, models.ErrConflict):
		writeErrorJSON(w, http.StatusConflict, "conflict")
	case errors.As(err, &maxBytes):
		writeErrorJSON(w, http.StatusRequestEntityTooLarge, "upload too large")
	default:
		h.logger.Error().Err(err).Msg("request failed")
		writeErrorJSON(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorJSON(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func toMediaResponse(m *models.Media) MediaResponse {
	return MediaResponse{
		ID:        m.ID,
		OwnerID:   m.OwnerID,
		Kind:      m.Kind,
		FileName:  m.FileName,
		SizeBytes: m.SizeBytes,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func (h *Handler) toDetailsResponse(d *service.Details) DetailsResponse {
	m := d.Media
	resp := DetailsResponse{
		MediaResponse: toMediaResponse(m),
		Renditions:    make([]RenditionResponse, 0, len(d.Artifacts.Renditions)),
		Images:        make([]RenditionResponse, 0, len(d.Artifacts.Images)),
		Subtitles:     make([]SubtitleResponse, 0, len(d.Artifacts.Subtitles)),
		Jobs:          make([]JobResponse, 0, len(d.Jobs)),
	}

	if len(d.Artifacts.Renditions) > 0 {
		resp.MasterURL = h.paths.PublicURL(h.paths.MasterPlaylist(m.OwnerID, m.ID))
	}
	for _, r := range d.Artifacts.Renditions {
		resp.Renditions = append(resp.Renditions, RenditionResponse{
			Resolution: r.Resolution,
			Width:      r.Width,
			Height:     r.Height,
			Bitrate:    r.Bitrate,
			URL:        h.paths.PublicURL(r.PlaylistPath),
		})
	}
	for _, i := range d.Artifacts.Images {
		resp.Images = append(resp.Images, RenditionResponse{
			Resolution: i.Resolution,
			Width:      i.Width,
			Height:     i.Height,
			Format:     i.Format,
			URL:        h.paths.PublicURL(i.Path),
		})
	}
	for _, s := range d.Artifacts.Subtitles {
		resp.Subtitles = append(resp.Subtitles, SubtitleResponse{
			Language: s.Language,
			URL:      h.paths.PublicURL(s.Path),
		})
	}

	// thumbnail and preview have no rows; they are reported once their job succeeded
	for _, j := range d.Jobs {
		resp.Jobs = append(resp.Jobs, JobResponse{
			Family:    j.Family,
			State:     j.State,
			Attempts:  j.Attempts,
			LastError: j.LastError,
		})
		if j.State != models.JobSucceeded && j.State != models.JobSkipped {
			continue
		}
		switch j.Family {
		case models.FamilyThumbnail:
			resp.ThumbnailURL = h.paths.PublicURL(h.paths.Thumbnail(m.OwnerID, m.ID))
		case models.FamilyPdfPreview:
			resp.PreviewURL = h.paths.PublicURL(h.paths.PdfPreview(m.OwnerID, m.ID))
		}
	}

	return resp
}

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"pobbin/pkg/domain"
	"pobbin/svc/report"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

const (
	rawCacheControl    = "public, max-age=31536000, immutable"
	oembedCacheControl = "public, max-age=43200"
	oembedProvider     = "Paste of Exile - POB B.in"
)

// Pastes is the paste service as seen by the handlers.
type Pastes interface {
	Upload(ctx context.Context, body []byte) (string, error)
	Download(ctx context.Context, id string) ([]byte, error)
	MaxPasteSize() int64
}

type Hdl struct {
	paste Pastes
	rep   report.Reporter
}

// UploadJSON answers POST /api/v1/paste/ with {"id": ...}.
func (h *Hdl) UploadJSON(w http.ResponseWriter, r *http.Request) {
	id, ok := h.upload(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(domain.UploadResp{ID: id})
}

// UploadText answers POST /pob/ with the bare id, as the desktop client expects.
func (h *Hdl) UploadText(w http.ResponseWriter, r *http.Request) {
	id, ok := h.upload(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, id)
}

func (h *Hdl) upload(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, err := h.readBody(r)
	if err != nil {
		writeErr(w, r, h.rep, err)
		return "", false
	}
	id, err := h.paste.Upload(r.Context(), body)
	if err != nil {
		writeErr(w, r, h.rep, err)
		return "", false
	}
	hlog.FromRequest(r).Debug().Str("id", id).Int("size", len(body)).Msg("upload accepted")
	return id, true
}

func (h *Hdl) readBody(r *http.Request) ([]byte, error) {
	limit := h.paste.MaxPasteSize()
	tooLarge := domain.BadRequest(domain.StageSizeCheck, "paste exceeds "+strconv.FormatInt(limit, 10)+" bytes")
	if r.ContentLength > limit {
		return nil, tooLarge
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, domain.BadRequest(domain.StageReceive, "failed to read request body").WithCause(err)
	}
	if int64(len(body)) > limit {
		return nil, tooLarge
	}
	return body, nil
}

// Raw serves GET /pob/{id} and GET /{id}/raw.
func (h *Hdl) Raw(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := h.paste.Download(r.Context(), id)
	if err != nil {
		writeErr(w, r, h.rep, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", rawCacheControl)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (h *Hdl) Oembed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", oembedCacheControl)
	json.NewEncoder(w).Encode(domain.Oembed{
		Type:         "link",
		Version:      "1.0",
		ProviderName: oembedProvider,
		ProviderURL:  "https://" + r.Host,
	})
}

// notFound is the fallback when no rendering handler is configured.
func (h *Hdl) notFound(w http.ResponseWriter, r *http.Request) {
	writeErr(w, r, h.rep, domain.NotFound("route", r.URL.Path))
}

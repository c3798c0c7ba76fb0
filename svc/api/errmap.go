package api

import (
	"encoding/json"
	"net/http"

	"pobbin/metrics"
	"pobbin/pkg/domain"
	"pobbin/svc/report"
	"pobbin/svc/util"

	"github.com/rs/zerolog/hlog"
)

// writeErr is the only place a failure becomes an HTTP response.
func writeErr(w http.ResponseWriter, r *http.Request, rep report.Reporter, err error) {
	e := domain.AsErr(err)
	resp := domain.ToResp(e)
	requestID := util.GetRequestID(r.Context())
	metrics.Errors.WithLabelValues(e.Kind.String()).Inc()

	log := hlog.FromRequest(r)
	switch {
	case resp.Code >= http.StatusInternalServerError:
		log.Error().Err(err).Str("stage", e.Stage).Str("request_id", requestID).Msg("request failed")
	case e.Kind == domain.KindInvalidPaste:
		log.Warn().Str("reason", e.Msg).Str("request_id", requestID).Msg("paste rejected by validator")
	default:
		log.Debug().Err(err).Str("stage", e.Stage).Msg("client error")
	}

	if rep != nil && (resp.Code >= http.StatusInternalServerError || e.Kind == domain.KindInvalidPaste) {
		info := report.Info{
			Method:    r.Method,
			Path:      r.URL.Path,
			Stage:     e.Stage,
			RequestID: requestID,
			Category:  report.CategoryServer,
		}
		if e.Kind == domain.KindInvalidPaste {
			info.Category = report.CategoryInvalidPaste
			info.Content = e.Content
		}
		rep.Capture(r.Context(), err, info)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Del("Cache-Control")
	w.WriteHeader(resp.Code)
	json.NewEncoder(w).Encode(resp)
}

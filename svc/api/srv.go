package api

import (
	"context"
	"net/http"
	"time"

	"pobbin/cfg"
	"pobbin/svc/cache"
	"pobbin/svc/report"
	"pobbin/svc/sched"
	"pobbin/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

// Deps are the collaborators the HTTP layer needs. Cache, Spawner and
// Fallback are optional.
type Deps struct {
	Paste    Pastes
	Reporter report.Reporter
	Cache    cache.Edge
	Spawner  sched.Spawner
	// Probes are checked by /ready, keyed by the name reported in the response.
	Probes map[string]Pinger
	// Fallback renders routes the API does not know. Defaults to a JSON 404.
	Fallback http.Handler
}

type Server struct {
	router     *chi.Mux
	cfg        *cfg.Cfg
	probes     map[string]Pinger
	httpServer *http.Server
}

func NewServer(c *cfg.Cfg, d Deps) *Server {
	if d.Reporter == nil {
		d.Reporter = report.Log{}
	}
	s := &Server{cfg: c, probes: d.Probes}
	mw := NewMw(c, d.Reporter)
	hdl := &Hdl{paste: d.Paste, rep: d.Reporter}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})
	if c.Environment == "development" {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", util.RedactPastePath(req.URL.Path)).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		if len(c.TrustedProxies) > 0 {
			r.Use(middleware.RealIP)
		}
		r.Use(mw.Metrics)
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		if len(c.AllowedOrigins) > 0 {
			r.Use(mw.CORS)
		}

		api := apiRouter(hdl, d.Fallback)
		if d.Cache != nil && d.Spawner != nil {
			ca := NewCacheAside(d.Cache, d.Spawner, c.EdgeCacheTTL, c.EdgeCacheMaxTTL)
			api = ca.Handler(api)
		}
		r.Handle("/*", api)
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:           ":" + c.Port,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 64 * 1024,
	}
	return s
}

func apiRouter(hdl *Hdl, fallback http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/paste/", hdl.UploadJSON)
	r.Post("/pob/", hdl.UploadText)
	r.Get("/pob/{id}", hdl.Raw)
	r.Get("/{id}/raw", hdl.Raw)
	r.Get("/oembed.json", hdl.Oembed)
	if fallback == nil {
		fallback = http.HandlerFunc(hdl.notFound)
	}
	r.NotFound(fallback.ServeHTTP)
	r.MethodNotAllowed(fallback.ServeHTTP)
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

package api

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pobbin/metrics"
	"pobbin/svc/cache"
	"pobbin/svc/sched"
	"pobbin/svc/util"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const cacheStatusHeader = "X-Cache-Status"

// CacheAside serves GET responses from edge when it can and otherwise runs
// next, queueing cacheable 200s for storage on the scheduler.
type CacheAside struct {
	edge       cache.Edge
	spawner    sched.Spawner
	defaultTTL time.Duration
	maxTTL     time.Duration
	now        func() time.Time
}

func NewCacheAside(edge cache.Edge, spawner sched.Spawner, defaultTTL, maxTTL time.Duration) *CacheAside {
	return &CacheAside{
		edge:       edge,
		spawner:    spawner,
		defaultTTL: defaultTTL,
		maxTTL:     maxTTL,
		now:        time.Now,
	}
}

func (c *CacheAside) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || c.edge == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := cache.Key(r)
		log := hlog.FromRequest(r)

		cached, err := c.edge.Get(r.Context(), key)
		if err != nil {
			metrics.EdgeCache.WithLabelValues("error").Inc()
			log.Warn().Err(err).Msg("edge cache read failed, treating as miss")
			cached = nil
		}
		if cached != nil {
			metrics.EdgeCache.WithLabelValues("hit").Inc()
			tagCacheStatus(r, "HIT")
			writeCached(w, cached, "HIT")
			return
		}
		metrics.EdgeCache.WithLabelValues("miss").Inc()
		tagCacheStatus(r, "MISS")

		rec := newCapture()
		next.ServeHTTP(rec, r)
		resp := rec.response(c.now())
		writeCached(w, resp, "MISS")

		ttl, ok := c.ttlFor(resp)
		if !ok {
			return
		}
		resp.Expires = resp.StoredAt.Add(ttl)
		stored := resp.Clone()
		edge := c.edge
		queued := c.spawner.Spawn("edge-put", func(ctx context.Context) {
			if err := edge.Put(ctx, key, stored, ttl); err != nil {
				metrics.EdgeCache.WithLabelValues("put_error").Inc()
				util.Warn().Err(err).Msg("edge cache write failed")
				return
			}
			metrics.EdgeCache.WithLabelValues("put").Inc()
		})
		if !queued {
			metrics.EdgeCache.WithLabelValues("dropped").Inc()
		}
	})
}

// ttlFor decides whether resp may be cached and for how long.
func (c *CacheAside) ttlFor(resp *cache.Response) (time.Duration, bool) {
	if resp.Status != http.StatusOK {
		return 0, false
	}
	cc := strings.ToLower(resp.Header.Get("Cache-Control"))
	if strings.Contains(cc, "no-store") || strings.Contains(cc, "private") {
		return 0, false
	}
	ttl := c.defaultTTL
	if age, ok := maxAge(cc); ok {
		ttl = age
	}
	if c.maxTTL > 0 && ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	return ttl, ttl > 0
}

func maxAge(cc string) (time.Duration, bool) {
	for _, d := range strings.Split(cc, ",") {
		d = strings.TrimSpace(d)
		v, ok := strings.CutPrefix(d, "max-age=")
		if !ok {
			continue
		}
		secs, err := strconv.ParseInt(strings.Trim(v, `"`), 10, 64)
		if err != nil || secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}

func tagCacheStatus(r *http.Request, status string) {
	hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str("cache", status)
	})
}

func writeCached(w http.ResponseWriter, resp *cache.Response, status string) {
	h := w.Header()
	for k, vs := range resp.Header {
		h[k] = append([]string(nil), vs...)
	}
	h.Set(cacheStatusHeader, status)
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

// capture buffers a complete response so it can be both sent and cached.
type capture struct {
	header      http.Header
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func newCapture() *capture {
	return &capture{header: make(http.Header), status: http.StatusOK}
}

func (c *capture) Header() http.Header { return c.header }

func (c *capture) WriteHeader(status int) {
	if c.wroteHeader {
		return
	}
	c.status = status
	c.wroteHeader = true
}

func (c *capture) Write(b []byte) (int, error) {
	c.wroteHeader = true
	return c.body.Write(b)
}

func (c *capture) response(now time.Time) *cache.Response {
	return &cache.Response{
		Status:   c.status,
		Header:   c.header.Clone(),
		Body:     bytes.Clone(c.body.Bytes()),
		StoredAt: now,
	}
}

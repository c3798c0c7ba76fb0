package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pobbin/cfg"
	"pobbin/pkg/domain"
	"pobbin/pkg/pob"
	"pobbin/svc/cache"
	"pobbin/svc/db"
	"pobbin/svc/report"
	"pobbin/svc/sched"
	"pobbin/svc/svc"

	"github.com/pkg/errors"
)

const build = `<PathOfBuilding>
	<Build level="95" className="Marauder" ascendClassName="Juggernaut" mainSocketGroup="2"/>
	<Skills><Skill enabled="true"><Gem nameSpec="Boneshatter" level="21" quality="20"/></Skill></Skills>
	<Tree activeSpec="1"><Spec nodes="100,200,300"/></Tree>
</PathOfBuilding>`

type captured struct {
	err  error
	info report.Info
}

type fakeReporter struct {
	mu  sync.Mutex
	got []captured
}

func (f *fakeReporter) Capture(ctx context.Context, err error, info report.Info) {
	f.mu.Lock()
	f.got = append(f.got, captured{err: err, info: info})
	f.mu.Unlock()
}

func (f *fakeReporter) Flush(time.Duration) bool { return true }

func (f *fakeReporter) all() []captured {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]captured(nil), f.got...)
}

type env struct {
	srv  *Server
	mem  *db.Memory
	rep  *fakeReporter
	pool *sched.Pool
	lru  *cache.LRU
}

func testCfg() *cfg.Cfg {
	return &cfg.Cfg{
		Port:            "0",
		Environment:     "test",
		MaxPasteSize:    4 * 1024,
		MaxDecodedSize:  1024 * 1024,
		IDLength:        9,
		EdgeCacheTTL:    time.Hour,
		EdgeCacheMaxTTL: 24 * time.Hour,
		ContextTimeout:  5 * time.Second,
	}
}

func newEnv(t *testing.T, c *cfg.Cfg, fallback http.Handler) *env {
	t.Helper()
	mem := db.NewMemory()
	lru, err := cache.NewLRU(64)
	if err != nil {
		t.Fatal(err)
	}
	pool := sched.New(2, 32, time.Second)
	t.Cleanup(func() { pool.Shutdown(context.Background()) })
	rep := &fakeReporter{}
	storage := db.NewStorage(mem, 1, time.Millisecond)
	srv := NewServer(c, Deps{
		Paste:    svc.NewPaste(storage, c),
		Reporter: rep,
		Cache:    lru,
		Spawner:  pool,
		Probes:   map[string]Pinger{"storage": storage},
		Fallback: fallback,
	})
	return &env{srv: srv, mem: mem, rep: rep, pool: pool, lru: lru}
}

func exportCode(t *testing.T, xml string) string {
	t.Helper()
	code, err := pob.Compress(xml)
	if err != nil {
		t.Fatal(err)
	}
	return code
}

func (e *env) do(method, target, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Host = "pob.example"
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) domain.ErrResp {
	t.Helper()
	var resp domain.ErrResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error body is not json: %q", w.Body.String())
	}
	return resp
}

func uploadJSON(t *testing.T, e *env, body string) string {
	t.Helper()
	w := e.do(http.MethodPost, "/api/v1/paste/", body)
	if w.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body %s", w.Code, w.Body.String())
	}
	var resp domain.UploadResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.ID
}

func TestUploadThenDownload(t *testing.T) {
	e := newEnv(t, testCfg(), nil)
	code := exportCode(t, build)

	id := uploadJSON(t, e, code)
	if !domain.IDPattern.MatchString(id) {
		t.Fatalf("id %q has wrong shape", id)
	}

	for _, path := range []string{"/" + id + "/raw", "/pob/" + id} {
		w := e.do(http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, w.Code)
		}
		if w.Body.String() != code {
			t.Errorf("GET %s returned different bytes", path)
		}
		if ct := w.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
			t.Errorf("content type = %q", ct)
		}
		if cc := w.Header().Get("Cache-Control"); cc != rawCacheControl {
			t.Errorf("cache control = %q", cc)
		}
	}
}

func TestUploadTextMatchesJSON(t *testing.T) {
	e := newEnv(t, testCfg(), nil)
	code := exportCode(t, build)

	w := e.do(http.MethodPost, "/pob/", code)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if id := uploadJSON(t, e, code); id != w.Body.String() {
		t.Errorf("text id %q != json id %q", w.Body.String(), id)
	}
	if e.mem.Len() != 1 {
		t.Errorf("stored objects = %d, want 1", e.mem.Len())
	}
}

func TestInvalidPasteReported(t *testing.T) {
	e := newEnv(t, testCfg(), nil)
	bad := `<PathOfBuilding><Build level="1"/></PathOfBuilding>`

	w := e.do(http.MethodPost, "/api/v1/paste/", exportCode(t, bad))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decodeErr(t, w); resp.Code != http.StatusBadRequest || resp.Msg == "" {
		t.Errorf("unexpected error body %+v", resp)
	}
	if e.mem.Puts() != 0 {
		t.Error("invalid paste reached storage")
	}
	got := e.rep.all()
	if len(got) != 1 {
		t.Fatalf("reports = %d, want 1", len(got))
	}
	info := got[0].info
	if info.Category != report.CategoryInvalidPaste || info.Content != bad {
		t.Errorf("unexpected report %+v", info)
	}
	if info.Method != http.MethodPost || info.Path != "/api/v1/paste/" || info.RequestID == "" {
		t.Errorf("report missing request details: %+v", info)
	}
}

func TestGarbageIsBadRequestNotReported(t *testing.T) {
	e := newEnv(t, testCfg(), nil)
	w := e.do(http.MethodPost, "/pob/", "not an export code!!")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if len(e.rep.all()) != 0 {
		t.Error("plain bad requests should not be reported")
	}
}

func TestOversizedUploadRejectedBeforeStorage(t *testing.T) {
	e := newEnv(t, testCfg(), nil)
	w := e.do(http.MethodPost, "/api/v1/paste/", strings.Repeat("A", 4*1024+1))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if e.mem.Puts() != 0 {
		t.Error("oversized paste reached storage")
	}
}

func TestOversizedUploadWithoutContentLength(t *testing.T) {
	e := newEnv(t, testCfg(), nil)
	req := httptest.NewRequest(http.MethodPost, "/pob/", io.MultiReader(strings.NewReader(strings.Repeat("A", 5000))))
	req.ContentLength = -1
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestStorageFailureIs503(t *testing.T) {
	e := newEnv(t, testCfg(), nil)
	e.mem.FailNext(10, errors.New("disk on fire"))

	w := e.do(http.MethodPost, "/api/v1/paste/", exportCode(t, build))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeErr(t, w)
	if resp.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d", resp.Code)
	}
	if strings.Contains(w.Body.String(), "disk on fire") {
		t.Error("backend error text leaked to the client")
	}
	got := e.rep.all()
	if len(got) != 1 || got[0].info.Category != report.CategoryServer {
		t.Fatalf("unexpected reports %+v", got)
	}
	if got[0].info.Stage == "" {
		t.Error("report missing stage")
	}
}

func TestDownloadNotFound(t *testing.T) {
	e := newEnv(t, testCfg(), nil)
	cases := map[string]string{
		"/unknown-id/raw": "unknown-id",
		"/pob/AAAAAAAAA":  "AAAAAAAAA",
	}
	for target, id := range cases {
		w := e.do(http.MethodGet, target, "")
		if w.Code != http.StatusNotFound {
			t.Fatalf("GET %s status = %d", target, w.Code)
		}
		resp := decodeErr(t, w)
		if resp.Code != http.StatusNotFound || !strings.Contains(resp.Msg, id) {
			t.Errorf("GET %s unexpected body %+v", target, resp)
		}
	}
	if len(e.rep.all()) != 0 {
		t.Error("not found should not be reported")
	}
	e.pool.Wait()
	if e.lru.Len() != 0 {
		t.Error("404 was cached")
	}
}

func TestPathSafety(t *testing.T) {
	e := newEnv(t, testCfg(), nil)
	for _, target := range []string{"/a%2Fb/raw", "/pob/..%2F..%2Fetc", "/pob/abc%00def"} {
		w := e.do(http.MethodGet, target, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", target, w.Code)
		}
	}
	if e.mem.Gets() != 0 {
		t.Error("unsafe ids reached storage")
	}
}

func TestCacheMissThenHit(t *testing.T) {
	e := newEnv(t, testCfg(), nil)
	code := exportCode(t, build)
	id := uploadJSON(t, e, code)

	first := e.do(http.MethodGet, "/"+id+"/raw", "")
	if got := first.Header().Get(cacheStatusHeader); got != "MISS" {
		t.Fatalf("first GET cache status = %q", got)
	}
	e.pool.Wait()
	gets := e.mem.Gets()

	second := e.do(http.MethodGet, "/"+id+"/raw", "")
	if got := second.Header().Get(cacheStatusHeader); got != "HIT" {
		t.Fatalf("second GET cache status = %q", got)
	}
	if second.Body.String() != code {
		t.Error("cached body differs")
	}
	if second.Header().Get("Cache-Control") != rawCacheControl {
		t.Error("cached response lost its headers")
	}
	if e.mem.Gets() != gets {
		t.Error("cache hit touched storage")
	}
}

func TestNonGetBypassesCache(t *testing.T) {
	e := newEnv(t, testCfg(), nil)
	w := e.do(http.MethodPost, "/api/v1/paste/", exportCode(t, build))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get(cacheStatusHeader); got != "" {
		t.Errorf("POST carries cache status %q", got)
	}
	e.pool.Wait()
	if e.lru.Len() != 0 {
		t.Error("POST response was cached")
	}
}

func TestOembed(t *testing.T) {
	e := newEnv(t, testCfg(), nil)
	w := e.do(http.MethodGet, "/oembed.json", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got domain.Oembed
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	want := domain.Oembed{Type: "link", Version: "1.0", ProviderName: oembedProvider, ProviderURL: "https://pob.example"}
	if got != want {
		t.Errorf("oembed = %+v, want %+v", got, want)
	}
	if cc := w.Header().Get("Cache-Control"); cc != oembedCacheControl {
		t.Errorf("cache control = %q", cc)
	}
}

func TestFallback(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		e := newEnv(t, testCfg(), nil)
		w := e.do(http.MethodGet, "/builds/latest", "")
		if w.Code != http.StatusNotFound {
			t.Fatalf("status = %d", w.Code)
		}
		decodeErr(t, w)
	})
	t.Run("custom", func(t *testing.T) {
		var calls int
		var mu sync.Mutex
		render := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			calls++
			mu.Unlock()
			w.Header().Set("Cache-Control", "public, max-age=3600")
			io.WriteString(w, "<html>rendered</html>")
		})
		e := newEnv(t, testCfg(), render)
		w := e.do(http.MethodGet, "/builds/latest", "")
		if w.Code != http.StatusOK || w.Body.String() != "<html>rendered</html>" {
			t.Fatalf("unexpected fallback response %d %q", w.Code, w.Body.String())
		}
		e.pool.Wait()
		w = e.do(http.MethodGet, "/builds/latest", "")
		if w.Header().Get(cacheStatusHeader) != "HIT" {
			t.Error("rendered page was not served from cache")
		}
		mu.Lock()
		defer mu.Unlock()
		if calls != 1 {
			t.Errorf("fallback calls = %d, want 1", calls)
		}
	})
	t.Run("method not allowed", func(t *testing.T) {
		e := newEnv(t, testCfg(), nil)
		w := e.do(http.MethodDelete, "/pob/AAAAAAAAA", "")
		if w.Code != http.StatusNotFound {
			t.Fatalf("status = %d", w.Code)
		}
	})
}

func TestConcurrentIdenticalUploads(t *testing.T) {
	e := newEnv(t, testCfg(), nil)
	code := exportCode(t, build)
	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := e.do(http.MethodPost, "/pob/", code)
			if w.Code == http.StatusOK {
				ids[i] = w.Body.String()
			}
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if ids[i] == "" || ids[i] != ids[0] {
			t.Fatalf("upload %d id = %q, want %q", i, ids[i], ids[0])
		}
	}
	if e.mem.Len() != 1 {
		t.Errorf("stored objects = %d, want 1", e.mem.Len())
	}
}

func TestRequestIDEchoed(t *testing.T) {
	e := newEnv(t, testCfg(), nil)
	req := httptest.NewRequest(http.MethodGet, "/oembed.json", nil)
	req.Header.Set("X-Request-ID", "trace-42")
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "trace-42" {
		t.Errorf("request id = %q", got)
	}
	w = e.do(http.MethodGet, "/oembed.json", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing generated request id")
	}
}

type panicPastes struct{}

func (panicPastes) Upload(context.Context, []byte) (string, error) { panic("boom") }
func (panicPastes) Download(context.Context, string) ([]byte, error) {
	panic("boom")
}
func (panicPastes) MaxPasteSize() int64 { return 1024 }

func TestRecovererWritesJSON(t *testing.T) {
	rep := &fakeReporter{}
	srv := NewServer(testCfg(), Deps{Paste: panicPastes{}, Reporter: rep})
	req := httptest.NewRequest(http.MethodPost, "/pob/", strings.NewReader("x"))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decodeErr(t, w); resp.Msg != "internal error" {
		t.Errorf("message = %q", resp.Msg)
	}
	if len(rep.all()) != 1 {
		t.Error("panic was not reported")
	}
}

func TestMetricsBasicAuth(t *testing.T) {
	c := testCfg()
	c.MetricsUser = "prom"
	c.MetricsPass = cfg.NewSecret("scrape")
	e := newEnv(t, c, nil)

	if w := e.do(http.MethodGet, "/metrics", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", w.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("prom", "scrape")
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authenticated status = %d", w.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	e := newEnv(t, testCfg(), nil)
	if w := e.do(http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
	if w := e.do(http.MethodGet, "/ready", ""); w.Code != http.StatusOK {
		t.Errorf("ready status = %d", w.Code)
	}

	e.mem.FailNext(1, errors.New("unreachable"))
	w := e.do(http.MethodGet, "/ready", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready with failing storage = %d", w.Code)
	}
	var resp ReadyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Ready || resp.Checks["storage"] != "down" {
		t.Errorf("unexpected readiness %+v", resp)
	}
}

func TestCacheTTL(t *testing.T) {
	c := NewCacheAside(nil, nil, time.Hour, 24*time.Hour)
	cases := []struct {
		name   string
		status int
		cc     string
		ttl    time.Duration
		ok     bool
	}{
		{"default", 200, "", time.Hour, true},
		{"max-age", 200, "public, max-age=600", 10 * time.Minute, true},
		{"capped", 200, "public, max-age=31536000, immutable", 24 * time.Hour, true},
		{"zero", 200, "max-age=0", 0, false},
		{"no-store", 200, "no-store", 0, false},
		{"private", 200, "private, max-age=60", 0, false},
		{"not ok", 404, "public, max-age=60", 0, false},
		{"malformed", 200, "max-age=soon", time.Hour, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := &cache.Response{Status: tc.status, Header: http.Header{}}
			if tc.cc != "" {
				resp.Header.Set("Cache-Control", tc.cc)
			}
			ttl, ok := c.ttlFor(resp)
			if ok != tc.ok || (ok && ttl != tc.ttl) {
				t.Errorf("ttlFor = (%v, %v), want (%v, %v)", ttl, ok, tc.ttl, tc.ok)
			}
		})
	}
}

type failingEdge struct{}

func (failingEdge) Get(context.Context, string) (*cache.Response, error) {
	return nil, errors.New("edge down")
}
func (failingEdge) Put(context.Context, string, *cache.Response, time.Duration) error {
	return errors.New("edge down")
}

func TestEdgeReadErrorIsMiss(t *testing.T) {
	pool := sched.New(1, 4, time.Second)
	defer pool.Shutdown(context.Background())
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "fresh")
	})
	h := NewCacheAside(failingEdge{}, pool, time.Hour, time.Hour).Handler(inner)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusOK || w.Body.String() != "fresh" {
		t.Fatalf("unexpected response %d %q", w.Code, w.Body.String())
	}
	if w.Header().Get(cacheStatusHeader) != "MISS" {
		t.Error("read error should be served as a miss")
	}
	pool.Wait()
}

package offline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nccevidence/evidencedesk/internal/conf"
	"github.com/nccevidence/evidencedesk/internal/errors"
	"github.com/nccevidence/evidencedesk/internal/logger"
	"github.com/nccevidence/evidencedesk/internal/observability/metrics"
	"golang.org/x/sync/errgroup"
)

// maxCachedBody bounds a response body the worker will buffer and store.
const maxCachedBody = 32 << 20

// installConcurrency caps parallel manifest fetches.
const installConcurrency = 4

// State is a worker's lifecycle position.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Routing strategies, also used as metric labels.
const (
	strategyPassthrough  = "passthrough"
	strategyNetworkFirst = "network_first"
	strategyCacheFirst   = "cache_first"
)

// Config describes one worker version.
type Config struct {
	// Scope is the origin URL the worker fronts; relative manifest entries
	// and incoming request paths resolve against it.
	Scope *url.URL
	// CacheName is the current bucket, "<prefix>-<version>".
	CacheName string
	Manifest  []string
	// Shell is the app-shell document served when navigation fails.
	Shell    string
	Denylist []string
	// InstallStrategy is conf.InstallAtomic or conf.InstallBestEffort.
	InstallStrategy string
	Client          *http.Client
	Metrics         *metrics.Metrics
	Log             logger.Logger
}

// ConfigFromSettings builds a worker Config from settings.
func ConfigFromSettings(s conf.WorkerSettings) (Config, error) {
	scope, err := url.Parse(s.Origin)
	if err != nil || (scope.Scheme != "http" && scope.Scheme != "https") || scope.Host == "" {
		return Config{}, errors.Newf("worker origin %q is not an absolute http(s) URL", s.Origin).
			Component("offline").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if !strings.HasSuffix(scope.Path, "/") {
		scope.Path += "/"
	}
	return Config{
		Scope:           scope,
		CacheName:       s.CacheName(),
		Manifest:        s.Manifest,
		Shell:           s.Shell,
		Denylist:        s.Denylist,
		InstallStrategy: s.InstallStrategy,
		Client:          &http.Client{Timeout: s.FetchTimeout.Std()},
	}, nil
}

// Worker is one version of the offline cache worker.
type Worker struct {
	cfg     Config
	storage CacheStorage
	log     logger.Logger
	network http.Handler

	mu    sync.RWMutex
	state State
}

// NewWorker creates a worker in the parsed state.
func NewWorker(cfg Config, storage CacheStorage) (*Worker, error) {
	if cfg.Scope == nil || !cfg.Scope.IsAbs() {
		return nil, fmt.Errorf("worker scope must be an absolute URL")
	}
	if cfg.CacheName == "" {
		return nil, fmt.Errorf("worker cache name is required")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Log == nil {
		cfg.Log = logger.NewNopLogger()
	}
	if cfg.InstallStrategy == "" {
		cfg.InstallStrategy = conf.InstallAtomic
	}
	return &Worker{
		cfg:     cfg,
		storage: storage,
		log:     cfg.Log.Module("offline").With(logger.String("cache", cfg.CacheName)),
		network: NewPassthrough(cfg.Scope, cfg.Client.Transport),
		state:   StateParsed,
	}, nil
}

// CacheName returns the worker's bucket name.
func (w *Worker) CacheName() string { return w.cfg.CacheName }

// Storage returns the cache storage the worker writes to.
func (w *Worker) Storage() CacheStorage { return w.storage }

// State returns the lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
}

// resolve turns a manifest or shell entry into an absolute URL.
func (w *Worker) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return w.cfg.Scope.ResolveReference(u), nil
}

// Install fetches every manifest entry and stores it in the worker's bucket.
// With the atomic strategy one failure fails the install and nothing is
// written; with best effort misses are logged and the rest is cached.
func (w *Worker) Install(ctx context.Context) error {
	w.setState(StateInstalling)
	start := time.Now()

	err := w.install(ctx)
	if err != nil {
		w.setState(StateRedundant)
		w.lifecycle("install", metrics.ResultFailed)
		return errors.New(err).
			Component("offline").
			Category(errors.CategoryCache).
			Context("cache", w.cfg.CacheName).
			Context("strategy", w.cfg.InstallStrategy).
			Build()
	}

	w.setState(StateInstalled)
	w.lifecycle("install", metrics.ResultSuccess)
	w.log.Info("worker installed",
		logger.Int("manifest", len(w.cfg.Manifest)),
		logger.Duration("duration", time.Since(start)))
	return nil
}

type fetched struct {
	key  string
	resp *Response
}

func (w *Worker) install(ctx context.Context) error {
	atomic := w.cfg.InstallStrategy != conf.InstallBestEffort
	results := make([]*fetched, len(w.cfg.Manifest))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)
	for i, ref := range w.cfg.Manifest {
		g.Go(func() error {
			u, err := w.resolve(ref)
			if err != nil {
				return fmt.Errorf("manifest entry %q: %w", ref, err)
			}
			resp, err := w.fetch(gctx, u, nil, false)
			if err == nil && resp.Streaming() {
				_ = resp.Close()
				err = fmt.Errorf("body larger than %d bytes", maxCachedBody)
			}
			if err == nil && !resp.OK() {
				err = fmt.Errorf("bad status %d", resp.StatusCode)
			}
			if err != nil {
				if atomic {
					return fmt.Errorf("fetch %s: %w", u, err)
				}
				w.log.Warn("manifest entry not cached",
					logger.String("url", u.String()),
					logger.Error(err))
				return nil
			}
			results[i] = &fetched{key: RequestKey(http.MethodGet, u), resp: resp}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	cache, err := w.storage.Open(ctx, w.cfg.CacheName)
	if err != nil {
		return err
	}
	for _, f := range results {
		if f == nil {
			continue
		}
		if err := cache.Put(ctx, f.key, f.resp); err != nil {
			if atomic {
				_, _ = w.storage.Delete(context.WithoutCancel(ctx), w.cfg.CacheName)
			}
			return fmt.Errorf("store %s: %w", f.key, err)
		}
		w.countWrite()
	}
	return nil
}

// Activate deletes every bucket other than the worker's own.
func (w *Worker) Activate(ctx context.Context) error {
	w.setState(StateActivating)

	names, err := w.storage.Keys(ctx)
	if err != nil {
		w.lifecycle("activate", metrics.ResultFailed)
		return errors.New(err).
			Component("offline").
			Category(errors.CategoryCache).
			Build()
	}
	for _, name := range names {
		if name == w.cfg.CacheName {
			continue
		}
		if _, err := w.storage.Delete(ctx, name); err != nil {
			w.lifecycle("activate", metrics.ResultFailed)
			return errors.New(err).
				Component("offline").
				Category(errors.CategoryCache).
				Context("bucket", name).
				Build()
		}
		w.log.Info("deleted stale cache bucket", logger.String("bucket", name))
	}

	w.setState(StateActivated)
	w.lifecycle("activate", metrics.ResultSuccess)
	return nil
}

// ClearCache drops the worker's bucket. Later cache writes recreate it.
func (w *Worker) ClearCache(ctx context.Context) (bool, error) {
	return w.storage.Delete(ctx, w.cfg.CacheName)
}

func (w *Worker) terminate() {
	w.setState(StateRedundant)
	w.log.Info("worker is redundant")
}

// target maps an incoming request onto the URL it asks for: absolute-form
// requests keep their URL, everything else resolves against the scope.
func (w *Worker) target(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		return r.URL
	}
	ref := &url.URL{Path: strings.TrimPrefix(r.URL.Path, "/"), RawQuery: r.URL.RawQuery}
	return w.cfg.Scope.ResolveReference(ref)
}

// inScope reports whether u is on the worker's origin.
func (w *Worker) inScope(u *url.URL) bool {
	return sameOrigin(w.cfg.Scope, u)
}

func (w *Worker) denied(u *url.URL) bool {
	s := u.String()
	for _, d := range w.cfg.Denylist {
		if d != "" && strings.Contains(s, d) {
			return true
		}
	}
	return false
}

// route picks the strategy for a request.
func (w *Worker) route(r *http.Request, u *url.URL) string {
	if r.Method != http.MethodGet || (u.Scheme != "http" && u.Scheme != "https") {
		return strategyPassthrough
	}
	if w.denied(u) {
		return strategyPassthrough
	}
	// Partial content is never cached.
	if r.Header.Get("Range") != "" {
		return strategyPassthrough
	}
	if isNavigation(r) {
		return strategyNetworkFirst
	}
	return strategyCacheFirst
}

func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// destination classifies asset requests for placeholders.
func destination(r *http.Request, u *url.URL) string {
	if d := r.Header.Get("Sec-Fetch-Dest"); d != "" && d != "empty" {
		return d
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico", ".avif":
		return "image"
	case ".css":
		return "style"
	}
	accept := r.Header.Get("Accept")
	switch {
	case strings.HasPrefix(accept, "image/"):
		return "image"
	case strings.HasPrefix(accept, "text/css"):
		return "style"
	}
	return ""
}

// ServeHTTP answers one request. Requests for other origins are rejected;
// requests the worker does not intercept are proxied to the network as is.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	u := w.target(r)
	if !w.inScope(u) {
		w.log.Debug("rejected request outside scope", logger.String("url", u.String()))
		outOfScope(rw)
		return
	}
	if w.route(r, u) == strategyPassthrough {
		w.countFetch(strategyPassthrough, metrics.ResultPassthrough)
		w.network.ServeHTTP(rw, r)
		return
	}
	w.HandleFetch(r).write(rw)
}

// HandleFetch answers an in-scope GET request from the cache or the network.
// It always returns a response; network and cache errors turn into
// fallbacks. Requests it does not intercept get 421 and are left to
// ServeHTTP. A streaming response must be written or closed.
func (w *Worker) HandleFetch(r *http.Request) *Response {
	u := w.target(r)
	if !w.inScope(u) {
		return misdirectedResponse(u.String(), "request outside the worker scope")
	}
	switch w.route(r, u) {
	case strategyNetworkFirst:
		return w.networkFirst(r, u)
	case strategyCacheFirst:
		return w.cacheFirst(r, u)
	default:
		return misdirectedResponse(u.String(), "request is not intercepted")
	}
}

func (w *Worker) networkFirst(r *http.Request, u *url.URL) *Response {
	ctx := r.Context()
	resp, err := w.fetch(ctx, u, r.Header, true)
	if err == nil {
		w.countFetch(strategyNetworkFirst, metrics.ResultNetwork)
		return resp
	}
	w.log.Debug("navigation failed, serving shell",
		logger.String("url", u.String()),
		logger.Error(err))

	if shell := w.shell(ctx); shell != nil {
		w.countFetch(strategyNetworkFirst, metrics.ResultFallback)
		return shell
	}
	w.countFetch(strategyNetworkFirst, metrics.ResultFailed)
	return offlineResponse(u.String())
}

func (w *Worker) cacheFirst(r *http.Request, u *url.URL) *Response {
	ctx := r.Context()
	key := RequestKey(http.MethodGet, u)

	cached, err := w.storage.Match(ctx, key)
	if err == nil {
		w.countFetch(strategyCacheFirst, metrics.ResultHit)
		return cached
	}
	if !errors.Is(err, ErrCacheMiss) {
		w.log.Warn("cache lookup failed", logger.String("key", key), logger.Error(err))
	}

	resp, err := w.fetch(ctx, u, r.Header, false)
	if err == nil {
		w.countFetch(strategyCacheFirst, metrics.ResultMiss)
		if resp.OK() && !resp.Streaming() {
			w.store(ctx, key, resp)
		}
		return resp
	}
	w.log.Debug("asset unavailable", logger.String("url", u.String()), logger.Error(err))

	switch destination(r, u) {
	case "image":
		w.countFetch(strategyCacheFirst, metrics.ResultFallback)
		return imagePlaceholder(u.String())
	case "style":
		w.countFetch(strategyCacheFirst, metrics.ResultFallback)
		return stylePlaceholder(u.String())
	}
	if shell := w.shell(ctx); shell != nil {
		w.countFetch(strategyCacheFirst, metrics.ResultFallback)
		return shell
	}
	w.countFetch(strategyCacheFirst, metrics.ResultFailed)
	return offlineResponse(u.String())
}

func (w *Worker) store(ctx context.Context, key string, resp *Response) {
	// The copy is stored even if the page has gone away.
	ctx = context.WithoutCancel(ctx)
	cache, err := w.storage.Open(ctx, w.cfg.CacheName)
	if err == nil {
		err = cache.Put(ctx, key, resp)
	}
	if err != nil {
		w.log.Warn("failed to cache response", logger.String("key", key), logger.Error(err))
		return
	}
	w.countWrite()
}

func (w *Worker) shell(ctx context.Context) *Response {
	if w.cfg.Shell == "" {
		return nil
	}
	u, err := w.resolve(w.cfg.Shell)
	if err != nil {
		return nil
	}
	resp, err := w.storage.Match(ctx, RequestKey(http.MethodGet, u))
	if err != nil {
		return nil
	}
	return resp
}

// forwardHeaders are copied from the page's request to the network fetch.
var forwardHeaders = []string{"Accept", "Accept-Language", "User-Agent", "Cache-Control"}

// credentialHeaders are forwarded on navigations only. Asset fetches go out
// without them so whatever they return is safe to cache.
var credentialHeaders = []string{"Cookie", "Authorization"}

// fetch performs a GET and buffers the response. A body over maxCachedBody
// comes back as a streaming response for the page to read from the network.
func (w *Worker) fetch(ctx context.Context, u *url.URL, header http.Header, credentials bool) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	copyHeaders(req.Header, header, forwardHeaders)
	if credentials {
		copyHeaders(req.Header, header, credentialHeaders)
	}

	resp, err := w.cfg.Client.Do(req)
	if err != nil {
		return nil, err
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     storableHeader(resp.Header),
		URL:        u.String(),
		StoredAt:   time.Now(),
	}
	if credentials {
		out.Header = liveHeader(resp.Header)
	}
	if resp.ContentLength > maxCachedBody {
		out.Body = []byte{}
		out.stream = resp.Body
		return out, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCachedBody+1))
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	if len(body) > maxCachedBody {
		out.Body = body
		out.stream = resp.Body
		return out, nil
	}
	_ = resp.Body.Close()
	out.Body = body
	return out, nil
}

func copyHeaders(dst, src http.Header, keys []string) {
	for _, k := range keys {
		if v := src.Values(k); len(v) > 0 {
			dst[http.CanonicalHeaderKey(k)] = slices.Clone(v)
		}
	}
}

func (w *Worker) countFetch(strategy, result string) {
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.CacheRequests.WithLabelValues(strategy, result).Inc()
	}
}

func (w *Worker) countWrite() {
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.CacheWrites.Inc()
	}
}

func (w *Worker) lifecycle(event, result string) {
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.WorkerLifecycle.WithLabelValues(event, result).Inc()
	}
}

package viz

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// viewedWindow is how long after a page view a bucket keeps being rendered.
const viewedWindow = time.Second

type ImageContainer struct {
	name string
	data []byte
}

func (c *ImageContainer) Name() string { return c.name }
func (c *ImageContainer) Data() []byte { return c.data }

// Producer renders one image. GetImage may return nil when it has nothing to
// show yet.
type Producer interface {
	Name() string
	GetImage() (*ImageContainer, error)
	AddPlotOption(opt PlotOptions)
}

// Server renders registered producers, grouped in buckets, and serves the
// resulting PNGs. Only buckets someone looked at recently are rendered.
type Server struct {
	mu              sync.RWMutex
	images          map[string]map[string]*ImageContainer
	producerBuckets map[string]map[string]Producer
	lastViewed      map[string]time.Time
	updateInterval  time.Duration
	enabled         bool
	srv             *http.Server
	logger          zerolog.Logger
}

type ServerOption func(s *Server)

func WithServerLogger(logger zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(port int, updateInterval time.Duration, opts ...ServerOption) *Server {
	s := &Server{
		images:          make(map[string]map[string]*ImageContainer),
		producerBuckets: make(map[string]map[string]Producer),
		lastViewed:      make(map[string]time.Time),
		updateInterval:  updateInterval,
		enabled:         true,
		srv:             &http.Server{Addr: fmt.Sprintf(":%d", port)},
		logger:          log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv.Handler = s.Handler()
	return s
}

func (s *Server) Enable(enable bool) {
	s.mu.Lock()
	s.enabled = enable
	s.mu.Unlock()
}

func (s *Server) SetUpdateInterval(interval time.Duration) {
	s.mu.Lock()
	s.updateInterval = interval
	s.mu.Unlock()
}

func (s *Server) UpdateInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updateInterval
}

func (s *Server) Register(bucket string, p Producer) {
	s.mu.Lock()
	b, ok := s.producerBuckets[bucket]
	if !ok {
		b = make(map[string]Producer)
		s.producerBuckets[bucket] = b
	}
	b[p.Name()] = p
	s.mu.Unlock()
}

func (s *Server) buckets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]string, 0, len(s.producerBuckets))
	for name := range s.producerBuckets {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

func (s *Server) markViewed(bucket string) {
	s.mu.Lock()
	s.lastViewed[bucket] = time.Now()
	s.mu.Unlock()
}

// RefreshBucket renders every producer in bucket concurrently and stores the
// images. Producer errors are logged and leave the previous image in place.
func (s *Server) RefreshBucket(bucket string) {
	s.mu.RLock()
	producers := make([]Producer, 0, len(s.producerBuckets[bucket]))
	for _, p := range s.producerBuckets[bucket] {
		producers = append(producers, p)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range producers {
		wg.Add(1)
		go func(p Producer) {
			defer wg.Done()
			img, err := p.GetImage()
			if err != nil {
				s.logger.Warn().Err(err).Str("bucket", bucket).Str("producer", p.Name()).Msg("failed to render image")
				return
			}
			if img == nil {
				return
			}
			s.mu.Lock()
			imgs, ok := s.images[bucket]
			if !ok {
				imgs = make(map[string]*ImageContainer)
				s.images[bucket] = imgs
			}
			imgs[img.name] = img
			s.mu.Unlock()
		}(p)
	}
	wg.Wait()
}

func (s *Server) refreshViewed() {
	s.mu.RLock()
	enabled := s.enabled
	s.mu.RUnlock()
	if !enabled {
		return
	}
	for _, bucket := range s.buckets() {
		s.mu.RLock()
		viewed := s.lastViewed[bucket]
		s.mu.RUnlock()
		if time.Since(viewed) < viewedWindow {
			s.RefreshBucket(bucket)
		}
	}
}

func (s *Server) Image(bucket, name string) (*ImageContainer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[bucket][name]
	return img, ok
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Run serves HTTP and re-renders viewed buckets every update interval until
// ctx is done.
func (s *Server) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		timer := time.NewTimer(s.UpdateInterval())
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-timer.C:
				s.refreshViewed()
				timer.Reset(s.UpdateInterval())
			}
		}
	})

	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("starting viz server")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	return eg.Wait()
}

// Handler routes "/" to the first bucket, "/view/:bucket" to a page of every
// image in a bucket and "/img/:bucket/:img" to the PNG itself.
func (s *Server) Handler() http.Handler {
	handler := httprouter.New()

	handler.GET("/", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		buckets := s.buckets()
		if len(buckets) == 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Location", "/view/"+url.PathEscape(buckets[0]))
		w.WriteHeader(http.StatusFound)
	})

	handler.GET("/view/:bucket", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		bucket := params.ByName("bucket")
		s.mu.RLock()
		producers, ok := s.producerBuckets[bucket]
		names := make([]string, 0, len(producers))
		for name := range producers {
			names = append(names, name)
		}
		s.mu.RUnlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		sort.Strings(names)

		s.markViewed(bucket)
		s.RefreshBucket(bucket)

		w.Header().Add("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><head><title>benchtop %s</title>
<script type="text/javascript">
	var refresh = true;
	function toggleRefresh() { refresh = !refresh; }
	function changeBucket() {
		window.location.href = '/view/' + document.getElementById('bucketSelector').value;
	}
	window.onload = function() {
		setInterval(function() {
			if (!refresh) { return; }
			var imgs = document.getElementsByTagName('img');
			for (var i = 0; i < imgs.length; i++) {
				imgs[i].src = imgs[i].src.split("?")[0] + "?" + new Date().getTime();
			}
		}, %d);
	}
</script></head><body style="background-color: black">`, bucket, s.UpdateInterval().Milliseconds())

		fmt.Fprint(w, `<select id="bucketSelector" onchange="changeBucket()">`)
		for _, name := range s.buckets() {
			selected := ""
			if name == bucket {
				selected = " selected"
			}
			fmt.Fprintf(w, `<option value="%s"%s>%s</option>`, name, selected, name)
		}
		fmt.Fprint(w, `</select><button onclick="toggleRefresh()">Refresh?</button>`)

		fmt.Fprint(w, `<div style="display: flex; flex-direction: row; flex-wrap: wrap">`)
		for _, name := range names {
			fmt.Fprintf(w, `<div><img src="/img/%s/%s?%d" /></div>`, url.PathEscape(bucket), url.PathEscape(name), time.Now().UnixMicro())
		}
		fmt.Fprint(w, `</div></body></html>`)
	})

	handler.GET("/img/:bucket/:img", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		bucket := params.ByName("bucket")
		s.markViewed(bucket)

		img, ok := s.Image(bucket, params.ByName("img"))
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Add("Content-Type", "image/png")
		w.Write(img.data)
	})

	return handler
}

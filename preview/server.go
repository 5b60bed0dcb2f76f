// Package preview serves the generated dist tree and the local index over
// HTTP so stylesheets can be tried in a browser before they are deployed.
// Absolute CDN URLs inside stylesheets are rewritten to this server, so the
// chunks load from disk rather than the bucket.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"
	"github.com/sanyyao/fontpub/deploy"
	"github.com/sanyyao/fontpub/publisher"
	"github.com/sanyyao/fontpub/state"
)

// Config wires the server to its sources. Ledger, State and Metrics are
// optional.
type Config struct {
	DistDir   string
	IndexPath string
	AssetBase string // CDN prefix rewritten to the server root
	Ledger    *publisher.Ledger
	State     *state.Store
	Metrics   http.Handler
}

// Server is the preview HTTP server
type Server struct {
	config Config
	router chi.Router
}

// New builds the router
func New(config Config) (*Server, error) {
	if config.DistDir == "" {
		return nil, errors.New("dist directory is required")
	}
	config.AssetBase = strings.TrimRight(config.AssetBase, "/")

	s := &Server{config: config}
	r := chi.NewRouter()
	r.Use(corsMiddleware)

	r.Get("/", s.handleRoot)
	r.Get("/index.css", s.handleIndex)
	r.Route("/api", func(r chi.Router) {
		r.Get("/releases", s.handleReleases)
		r.Get("/state", s.handleState)
	})
	if config.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", config.Metrics)
	}
	r.Get("/*", s.handleDist)

	s.router = r
	return s, nil
}

// Handler returns the gzip-wrapped router
func (s *Server) Handler() http.Handler {
	return gzhttp.GzipHandler(s.router)
}

// ListenAndServe serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("dist", s.config.DistDir).Msg("Preview server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown preview server: %w", err)
		}
		return nil
	}
}

// localize points absolute CDN URLs at the preview server root
func (s *Server) localize(css []byte) []byte {
	if s.config.AssetBase == "" {
		return css
	}
	return bytes.ReplaceAll(css, []byte(s.config.AssetBase+"/"), []byte("/"))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	keys, err := deploy.Keys(s.config.DistDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	var stylesheets []string
	for _, k := range keys {
		if path.Ext(k) == ".css" {
			stylesheets = append(stylesheets, "/"+k)
		}
	}
	writeJSONResponse(w, map[string]interface{}{
		"dist":        s.config.DistDir,
		"stylesheets": stylesheets,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.config.IndexPath == "" {
		http.NotFound(w, r)
		return
	}
	s.serveCSS(w, r, s.config.IndexPath)
}

func (s *Server) handleDist(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	clean := path.Clean("/" + rel)
	if clean == "/" || strings.HasPrefix(path.Base(clean), ".") {
		http.NotFound(w, r)
		return
	}
	full := filepath.Join(s.config.DistDir, filepath.FromSlash(strings.TrimPrefix(clean, "/")))

	if path.Ext(clean) == ".css" {
		s.serveCSS(w, r, full)
		return
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", deploy.ContentType(clean))
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, full)
}

func (s *Server) serveCSS(w http.ResponseWriter, r *http.Request, name string) {
	data, err := os.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(s.localize(data))
}

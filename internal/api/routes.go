// Package api provides HTTP handlers for the fragment server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/gtav-tiles/server/internal/metrics"
	"github.com/gtav-tiles/server/internal/render"
	"github.com/gtav-tiles/server/internal/service"
	"github.com/gtav-tiles/server/pkg/colormap"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *MapRegistry
	CORSOrigins []string
	Logger      *zap.Logger
	Fragments   FragmentDefaults
}

// FragmentDefaults bounds and fills fragment query parameters.
type FragmentDefaults struct {
	Width   int
	Height  int
	MaxSize int
	Color   colormap.MarkerColor
}

func (d FragmentDefaults) withFallbacks() FragmentDefaults {
	if d.Width <= 0 {
		d.Width = 700
	}
	if d.Height <= 0 {
		d.Height = 700
	}
	if d.MaxSize <= 0 {
		d.MaxSize = 4096
	}
	return d
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := cfg.Fragments.withFallbacks()

	r := chi.NewRouter()

	// Middleware
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	// JPEG is excluded by gzhttp's default content-type filter.
	r.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	// Global maps endpoint (not map-scoped)
	r.Get("/api/maps", mapsHandler(cfg.Registry))

	// Default map shortcut
	r.Get("/fragment.jpg", func(w http.ResponseWriter, r *http.Request) {
		svc, err := cfg.Registry.Default()
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		fragmentHandler(svc, defaults, logger)(w, r)
	})

	// Map-scoped routes: /m/{map}/...
	r.Route("/m/{map}", func(r chi.Router) {
		r.Use(mapMiddleware(cfg.Registry))

		r.Get("/fragment.jpg", func(w http.ResponseWriter, r *http.Request) {
			fragmentHandler(getMapService(r), defaults, logger)(w, r)
		})

		r.Route("/api", func(r chi.Router) {
			r.Get("/bounds", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, logger, getMapService(r).Info())
			})
			r.Get("/cache", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, logger, getMapService(r).CacheStats())
			})
		})
	})

	return r
}

// Context key for map service
type ctxKey string

const mapServiceKey ctxKey = "mapService"

// mapMiddleware resolves the map from URL and injects its service into context.
func mapMiddleware(registry *MapRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			svc, err := registry.Get(chi.URLParam(r, "map"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), mapServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getMapService(r *http.Request) *service.FragmentService {
	svc, _ := r.Context().Value(mapServiceKey).(*service.FragmentService)
	return svc
}

// mapsHandler returns the list of available maps.
func mapsHandler(registry *MapRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"default": registry.DefaultMapID(),
			"maps":    registry.Maps(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

func fragmentHandler(svc *service.FragmentService, defaults FragmentDefaults, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parseFragmentRequest(r.URL.Query(), defaults)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		data, stats, err := svc.RenderWithStats(req)
		if err != nil {
			if errors.Is(err, render.ErrInvalidSize) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.Error("Fragment render failed",
				zap.String("map", svc.MapID()),
				zap.String("request_id", RequestID(r.Context())),
				zap.Error(err),
			)
			http.Error(w, "failed to render fragment", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		if stats.Failed > 0 {
			w.Header().Set("Cache-Control", "no-store")
		} else {
			w.Header().Set("Cache-Control", "public, max-age=3600")
		}
		w.Write(data)
	}
}

// parseFragmentRequest reads x, y (required), w, h, marker and color.
func parseFragmentRequest(query url.Values, defaults FragmentDefaults) (service.FragmentRequest, error) {
	req := service.FragmentRequest{Marker: true, Color: defaults.Color}

	var err error
	if req.X, err = parseCoordinate(query, "x"); err != nil {
		return req, err
	}
	if req.Y, err = parseCoordinate(query, "y"); err != nil {
		return req, err
	}
	if req.Width, err = parseSize(query, "w", defaults.Width, defaults.MaxSize); err != nil {
		return req, err
	}
	if req.Height, err = parseSize(query, "h", defaults.Height, defaults.MaxSize); err != nil {
		return req, err
	}

	if raw := strings.TrimSpace(query.Get("marker")); raw != "" {
		marker, err := strconv.ParseBool(raw)
		if err != nil {
			return req, fmt.Errorf("invalid marker %q", raw)
		}
		req.Marker = marker
	}
	if raw := strings.TrimSpace(query.Get("color")); raw != "" {
		req.Color = colormap.ParseMarkerColor(raw)
	}
	return req, nil
}

func parseCoordinate(query url.Values, name string) (float64, error) {
	raw := strings.TrimSpace(query.Get(name))
	if raw == "" {
		return 0, fmt.Errorf("missing required query param: %s", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

func parseSize(query url.Values, name string, def, maxSize int) (int, error) {
	raw := strings.TrimSpace(query.Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	if v < 1 || v > maxSize {
		return 0, fmt.Errorf("%s must be between 1 and %d", name, maxSize)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", zap.Error(err))
	}
}

package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DoyleJ11/duet-canvas/internal/hub"
	"github.com/DoyleJ11/duet-canvas/internal/ws"
)

type RouterOptions struct {
	AllowedOrigins []string
	// CreateRateLimit requests per CreateRateWindow per client IP; zero disables.
	CreateRateLimit  int
	CreateRateWindow time.Duration
	Gateway          ws.Options
	Logger           *zap.Logger
}

func SetupRoutes(h *hub.Hub, opts RouterOptions) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Gateway.Logger == nil {
		opts.Gateway.Logger = log
	}
	if opts.Gateway.OriginPatterns == nil {
		opts.Gateway.OriginPatterns = originHosts(opts.AllowedOrigins)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/", Root)
	r.Get("/healthz", Healthz(h))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if opts.CreateRateLimit > 0 {
			r.Use(httprate.LimitByIP(opts.CreateRateLimit, opts.CreateRateWindow))
		}
		r.Get("/create_server", CreateSession(h, http.StatusOK, log))
		r.Post("/sessions", CreateSession(h, http.StatusCreated, log))
	})
	r.Get("/start_game/{code}", StartGame(h, log))
	r.Get("/ws/{code}/{participantID}", ws.Handler(h, opts.Gateway))
	return r
}

// originHosts turns "http://localhost:3000" into "localhost:3000", the form
// websocket origin patterns match against.
func originHosts(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		out = append(out, strings.TrimSuffix(o, "/"))
	}
	return out
}

package rest

import (
	"log"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	v0_rest "github.com/fenix-social/realtime/pkg/api/rest/v0"
	"github.com/fenix-social/realtime/pkg/networks"
)

type Options struct {
	CORSOrigins []string

	// Header carrying the client address when running behind a proxy.
	RealIPHeader string

	// Live event stream, mounted at /events when set.
	Events http.Handler

	// Clients outside the allowlist are turned away. Nil allows everyone.
	Allowlist *networks.Allowlist
}

func Router(opts Options, server *v0_rest.Server) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// CORS middleware
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"OPTIONS", "GET", "POST", "PATCH", "PUT", "DELETE"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler)

	// IP address middleware
	r.Use(func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.RealIPHeader != "" {
				r.RemoteAddr = r.Header.Get(opts.RealIPHeader)
			} else if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				r.RemoteAddr = host
			}
			h.ServeHTTP(w, r)
		})
	})

	// Network allowlist middleware
	if opts.Allowlist != nil {
		r.Use(func(h http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				allowed, err := opts.Allowlist.Allowed(r.RemoteAddr)
				if err != nil {
					log.Println(err)
				}
				if !allowed {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusForbidden)
					w.Write([]byte(`{"error":true,"type":"ipBlocked"}`))
					return
				}
				h.ServeHTTP(w, r)
			})
		})
	}

	// Mount routers
	if opts.Events != nil {
		r.Handle("/events", opts.Events)
	}
	r.Mount("/", server.Router()) // default
	r.Mount("/v0", server.Router())

	return r
}

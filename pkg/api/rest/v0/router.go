package v0_rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fenix-social/realtime/pkg/bus"
	"github.com/fenix-social/realtime/pkg/interactions"
	"github.com/fenix-social/realtime/pkg/messages"
	"github.com/fenix-social/realtime/pkg/notifications"
	"github.com/fenix-social/realtime/pkg/session"
)

type Options struct {
	Engine *notifications.Engine

	// Inbox returns the signed-in session's inbox, or nil when signed out.
	Inbox func() *messages.Inbox

	// Local optimistic interactions are published here.
	Interactions bus.Publisher[interactions.Interaction]

	Session *session.Store

	Ratelimiter *Ratelimiter
}

// Server is the local read surface over the reconciliation state.
type Server struct {
	engine       *notifications.Engine
	inbox        func() *messages.Inbox
	interactions bus.Publisher[interactions.Interaction]
	session      *session.Store
	ratelimiter  *Ratelimiter
}

func NewServer(opts Options) *Server {
	if opts.Ratelimiter == nil {
		opts.Ratelimiter = NewRatelimiter()
	}
	return &Server{
		engine:       opts.Engine,
		inbox:        opts.Inbox,
		interactions: opts.Interactions,
		session:      opts.Session,
		ratelimiter:  opts.Ratelimiter,
	}
}

func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Mount("/", s.RootRouter())
	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Mount("/notifications", s.NotificationsRouter())
		r.Mount("/interactions", s.InteractionsRouter())
		r.Mount("/conversations/{peerId}", s.ConversationsRouter())
	})

	return r
}

func (s *Server) requireSession(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.session.CurrentUser() == nil {
			returnErr(w, http.StatusUnauthorized, ErrUnauthorized, nil)
			return
		}
		h.ServeHTTP(w, r)
	})
}

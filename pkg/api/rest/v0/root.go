package v0_rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fenix-social/realtime/pkg/rdb"
)

func (s *Server) RootRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Get("/", s.getStatus)
	r.Get("/pairing.svg", s.getPairingCode)
	r.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {})

	return r
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResp{
		Error:   false,
		Relayed: rdb.Client != nil,
	}
	if user := s.session.CurrentUser(); user != nil {
		resp.SignedIn = true
		resp.UserId = user.Id
		resp.Username = user.Username
	}
	returnData(w, http.StatusOK, resp)
}

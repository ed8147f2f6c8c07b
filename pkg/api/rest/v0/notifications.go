package v0_rest

import (
	"log"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
)

func (s *Server) NotificationsRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Get("/", s.getNotifications)
	r.Post("/open", s.openNotifications)
	r.Post("/close", s.closeNotifications)
	r.Post("/read", s.readNotifications)
	r.Get("/posts/{postId}", s.getNotificationPost)

	return r
}

func (s *Server) getNotifications(w http.ResponseWriter, r *http.Request) {
	returnData(w, http.StatusOK, SummaryResp{Error: false, Summary: s.engine.Summary()})
}

func (s *Server) openNotifications(w http.ResponseWriter, r *http.Request) {
	s.engine.Open()
	returnData(w, http.StatusOK, SummaryResp{Error: false, Summary: s.engine.Summary()})
}

// Closing the view settles everything that was shown. If the backend refuses,
// the view still closes and the unread state stays for the next attempt.
func (s *Server) closeNotifications(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Close(r.Context()); err != nil {
		log.Println(err)
		sentry.CaptureException(err)
		returnErr(w, http.StatusBadGateway, ErrUpstream, nil)
		return
	}
	returnData(w, http.StatusOK, SummaryResp{Error: false, Summary: s.engine.Summary()})
}

func (s *Server) readNotifications(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Settle(r.Context()); err != nil {
		log.Println(err)
		sentry.CaptureException(err)
		returnErr(w, http.StatusBadGateway, ErrUpstream, nil)
		return
	}
	returnData(w, http.StatusOK, SummaryResp{Error: false, Summary: s.engine.Summary()})
}

func (s *Server) getNotificationPost(w http.ResponseWriter, r *http.Request) {
	post, ok := s.engine.Post(idParam(r, "postId"))
	if !ok {
		returnErr(w, http.StatusNotFound, ErrNotFound, nil)
		return
	}
	returnData(w, http.StatusOK, PostResp{Error: false, PostView: post})
}

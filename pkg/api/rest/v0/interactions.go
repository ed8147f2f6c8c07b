package v0_rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fenix-social/realtime/pkg/interactions"
)

func (s *Server) InteractionsRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Post("/", s.createInteraction)

	return r
}

// createInteraction records an action the signed-in user just performed.
// The engine drops it as a self-echo; other subscribers of the bus see it
// right away instead of waiting for the server.
func (s *Server) createInteraction(w http.ResponseWriter, r *http.Request) {
	user := s.session.CurrentUser()

	// Check ratelimit
	userId := strconv.FormatInt(user.Id, 10)
	if s.ratelimiter.ratelimited("interaction", "user", userId) {
		returnErr(w, http.StatusTooManyRequests, ErrRatelimited, nil)
		return
	}

	// Decode body
	var body InteractionReq
	if !decodeBody(w, r, &body) {
		return
	}
	action := interactions.Action(body.Action)
	if kind, _ := action.Kind(); kind != interactions.KindFollow && body.PostId == 0 {
		returnErr(w, http.StatusBadRequest, ErrBadRequest, map[string]string{
			"post_id": "post_id is required for " + body.Action,
		})
		return
	}

	// Ratelimit
	if err := s.ratelimiter.ratelimit(w, "interaction", "user", userId, 30, 10); err != nil {
		returnErr(w, http.StatusInternalServerError, ErrInternal, nil)
		return
	}

	i := interactions.Local(action, body.PostId, &interactions.Actor{
		Id:          user.Id,
		DisplayName: user.Username,
		Handle:      user.Username,
	}, time.Now())
	i.PostSnippet = body.PostSnippet
	i.PostImage = body.PostImage
	i.PostAuthorName = body.PostAuthorName
	i.PostAuthorHandle = body.PostAuthorHandle
	if err := i.Validate(); err != nil {
		returnErr(w, http.StatusBadRequest, ErrBadRequest, nil)
		return
	}

	s.interactions.Publish(i)

	returnData(w, http.StatusAccepted, InteractionResp{Error: false, Interaction: i})
}

package v0_rest

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"

	"github.com/fenix-social/realtime/pkg/messages"
)

const maxAttachmentSize = 25 << 20

type ctxKey string

const conversationKey ctxKey = "conversation"

func (s *Server) ConversationsRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.conversationCtx)

	r.Get("/", s.getConversation)
	r.Post("/open", s.openConversation)
	r.Post("/close", s.closeConversation)
	r.Get("/draft", s.getDraft)
	r.Put("/draft", s.updateDraft)
	r.Post("/messages", s.sendMessage)
	r.Post("/messages/{messageId}/resend", s.resendMessage)

	return r
}

func (s *Server) conversationCtx(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inbox := s.inbox()
		if inbox == nil {
			returnErr(w, http.StatusUnauthorized, ErrUnauthorized, nil)
			return
		}
		peerId := idParam(r, "peerId")
		if peerId == 0 || peerId == s.session.UserId() {
			returnErr(w, http.StatusNotFound, ErrNotFound, nil)
			return
		}
		ctx := context.WithValue(r.Context(), conversationKey, inbox.Conversation(peerId))
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

func conversation(r *http.Request) *messages.Conversation {
	return r.Context().Value(conversationKey).(*messages.Conversation)
}

func conversationResp(c *messages.Conversation) ConversationResp {
	return ConversationResp{Error: false, Snapshot: c.Snapshot(), Draft: c.Draft()}
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	returnData(w, http.StatusOK, conversationResp(conversation(r)))
}

func (s *Server) openConversation(w http.ResponseWriter, r *http.Request) {
	c := conversation(r)
	if err := c.Open(r.Context()); err != nil {
		log.Println(err)
		sentry.CaptureException(err)
		returnErr(w, http.StatusBadGateway, ErrUpstream, nil)
		return
	}
	returnData(w, http.StatusOK, conversationResp(c))
}

func (s *Server) closeConversation(w http.ResponseWriter, r *http.Request) {
	c := conversation(r)
	c.Close()
	returnData(w, http.StatusOK, conversationResp(c))
}

func (s *Server) getDraft(w http.ResponseWriter, r *http.Request) {
	returnData(w, http.StatusOK, DraftResp{Error: false, Content: conversation(r).Draft()})
}

func (s *Server) updateDraft(w http.ResponseWriter, r *http.Request) {
	var body DraftReq
	if !decodeBody(w, r, &body) {
		return
	}
	c := conversation(r)
	c.SetDraft(body.Content)
	returnData(w, http.StatusOK, DraftResp{Error: false, Content: c.Draft()})
}

// sendMessage takes either a JSON body or a multipart form with a content
// field and an optional attachment file.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	c := conversation(r)

	// Check ratelimit
	userId := strconv.FormatInt(s.session.UserId(), 10)
	if s.ratelimiter.ratelimited("send_message", "user", userId) {
		returnErr(w, http.StatusTooManyRequests, ErrRatelimited, nil)
		return
	}

	var draft messages.Draft
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxAttachmentSize); err != nil {
			returnErr(w, http.StatusBadRequest, ErrBadRequest, nil)
			return
		}
		body := SendMessageReq{Content: r.FormValue("content")}
		if !validateBody(w, &body) {
			return
		}
		draft.Content = body.Content

		file, header, err := r.FormFile("attachment")
		if err == nil {
			defer file.Close()
			draft.Attachment = &messages.Attachment{Name: header.Filename, Data: file}
		} else if err != http.ErrMissingFile {
			returnErr(w, http.StatusBadRequest, ErrBadRequest, nil)
			return
		}
	} else {
		var body SendMessageReq
		if !decodeBody(w, r, &body) {
			return
		}
		draft.Content = body.Content
	}

	// Ratelimit
	if err := s.ratelimiter.ratelimit(w, "send_message", "user", userId, 6, 5); err != nil {
		returnErr(w, http.StatusInternalServerError, ErrInternal, nil)
		return
	}

	msg, err := c.Send(r.Context(), draft)
	switch {
	case errors.Is(err, messages.ErrEmptyMessage):
		returnErr(w, http.StatusBadRequest, ErrEmptyMessage, nil)
		return
	case errors.Is(err, messages.ErrNoUploader):
		returnErr(w, http.StatusBadRequest, ErrBadRequest, nil)
		return
	case errors.Is(err, messages.ErrUploadFailed):
		log.Println(err)
		returnErr(w, http.StatusBadGateway, ErrUploadFailed, nil)
		return
	case err != nil && msg.Id == 0:
		log.Println(err)
		sentry.CaptureException(err)
		returnErr(w, http.StatusInternalServerError, ErrInternal, nil)
		return
	case err != nil:
		// the message is in the list as failed and can be resent
		log.Println(err)
	}

	returnData(w, http.StatusCreated, MessageResp{Error: false, Message: msg})
}

func (s *Server) resendMessage(w http.ResponseWriter, r *http.Request) {
	c := conversation(r)

	messageId, err := strconv.ParseInt(chi.URLParam(r, "messageId"), 10, 64)
	if err != nil {
		returnErr(w, http.StatusNotFound, ErrNotFound, nil)
		return
	}

	switch err := c.Resend(messageId); {
	case errors.Is(err, messages.ErrNotFound):
		returnErr(w, http.StatusNotFound, ErrNotFound, nil)
		return
	case errors.Is(err, messages.ErrNotFailed):
		returnErr(w, http.StatusConflict, ErrMessageNotFailed, nil)
		return
	case err != nil:
		log.Println(err)
		returnErr(w, http.StatusBadGateway, ErrUpstream, nil)
		return
	}

	returnData(w, http.StatusOK, conversationResp(c))
}

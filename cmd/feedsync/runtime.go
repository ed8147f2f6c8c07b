package main

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/getsentry/sentry-go"

	"github.com/fenix-social/realtime/pkg/backend"
	"github.com/fenix-social/realtime/pkg/bus"
	"github.com/fenix-social/realtime/pkg/ingest"
	"github.com/fenix-social/realtime/pkg/messages"
	"github.com/fenix-social/realtime/pkg/notifications"
	"github.com/fenix-social/realtime/pkg/session"
	"github.com/fenix-social/realtime/pkg/transport"
)

// runtime owns everything that lives exactly as long as one signed-in user.
type runtime struct {
	transport transport.Options
	messages  messages.Options
	store     *session.Store
	api       *backend.Client
	engine    *notifications.Engine
	updates   bus.Publisher[messages.ConversationUpdated]

	mu       sync.Mutex
	conn     *transport.Client
	pipeline *ingest.Pipeline
	inbox    *messages.Inbox
}

func (rt *runtime) sessionChanged(user *session.User) {
	rt.stop()
	rt.engine.Reset()
	if user != nil {
		go rt.start(user.Id)
	}
}

func (rt *runtime) start(userId int64) {
	opts := rt.transport
	opts.Token = rt.store.Token()
	conn := transport.New(opts)
	inbox := messages.NewInbox(userId, conn, rt.updates, rt.messages)
	pipeline := ingest.New(rt.store, rt.api, conn, rt.engine)

	rt.mu.Lock()
	if rt.store.UserId() != userId || rt.conn != nil {
		rt.mu.Unlock()
		return
	}
	rt.conn = conn
	rt.inbox = inbox
	rt.pipeline = pipeline
	rt.mu.Unlock()

	// The personal room is remembered and joined once the channel is up
	if err := inbox.Start(conn); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		log.Println(err)
	}
	if err := pipeline.Activate(context.Background()); err != nil {
		log.Println("Failed to activate notifications:", err)
		sentry.CaptureException(err)
		return
	}
	log.Printf("Session started for user %d", userId)
}

func (rt *runtime) stop() {
	rt.mu.Lock()
	conn, inbox, pipeline := rt.conn, rt.inbox, rt.pipeline
	rt.conn, rt.inbox, rt.pipeline = nil, nil, nil
	rt.mu.Unlock()

	if pipeline != nil {
		pipeline.Deactivate()
	}
	if inbox != nil {
		inbox.Stop()
	}
	if conn != nil {
		conn.Close()
	}
}

func (rt *runtime) currentInbox() *messages.Inbox {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.inbox
}

package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/fenix-social/realtime/pkg/api/events"
	"github.com/fenix-social/realtime/pkg/api/rest"
	v0_rest "github.com/fenix-social/realtime/pkg/api/rest/v0"
	"github.com/fenix-social/realtime/pkg/backend"
	"github.com/fenix-social/realtime/pkg/bus"
	"github.com/fenix-social/realtime/pkg/config"
	"github.com/fenix-social/realtime/pkg/interactions"
	"github.com/fenix-social/realtime/pkg/messages"
	"github.com/fenix-social/realtime/pkg/networks"
	"github.com/fenix-social/realtime/pkg/notifications"
	"github.com/fenix-social/realtime/pkg/rdb"
	"github.com/fenix-social/realtime/pkg/session"
	"github.com/fenix-social/realtime/pkg/transport"
)

func main() {
	// Load config (and dotenv)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalln(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalln(err)
	}

	// Init Sentry
	if err := sentry.Init(sentry.ClientOptions{
		Dsn: cfg.SentryDSN,
	}); err != nil {
		panic(err)
	}
	defer sentry.Flush(time.Second * 5)

	format, err := transport.ParseFormat(cfg.ProtoFormat)
	if err != nil {
		log.Fatalln(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Session and backend
	var store *session.Store
	api := backend.NewClient(cfg.APIURL, cfg.HTTPTimeout, func() string { return store.Token() })
	store = session.NewStore(api)

	// Engine and buses
	engine := notifications.NewEngine(api, store.UserId)
	interactionBus := bus.New[interactions.Interaction]()
	interactionBus.Subscribe(engine.Process)
	updateBus := bus.New[messages.ConversationUpdated]()

	// Live event stream for local clients
	stream := events.NewServer()
	go stream.Run(ctx)
	engine.OnChange(func() {
		logErr(stream.SendNotifications(engine.Summary()))
	})
	interactionBus.Subscribe(func(i interactions.Interaction) {
		logErr(stream.SendInteraction(i))
	})
	updateBus.Subscribe(func(u messages.ConversationUpdated) {
		logErr(stream.SendConversationUpdated(u))
	})

	var localInteractions bus.Publisher[interactions.Interaction] = interactionBus
	var updates bus.Publisher[messages.ConversationUpdated] = updateBus

	// Init Redis, optional
	if cfg.RedisURL != "" {
		if err := rdb.Init(cfg.RedisURL); err != nil {
			panic(err)
		}
		defer rdb.Close()

		interactionRelay := bus.NewRelay(interactionBus, rdb.Client, "interactions", bus.OpInteraction)
		updateRelay := bus.NewRelay(updateBus, rdb.Client, "conversation_updates", bus.OpConversationUpdated)
		go runRelay(ctx, "interactions", interactionRelay.Run)
		go runRelay(ctx, "conversation updates", updateRelay.Run)
		localInteractions = interactionRelay
		updates = updateRelay
	}

	// Per-session push channel, pipeline and inbox
	rt := &runtime{
		transport: transport.Options{
			URL:               cfg.EventsURL,
			Format:            format,
			ReconnectAttempts: cfg.ReconnectAttempts,
			ReconnectInterval: cfg.ReconnectInterval,
		},
		messages: messages.Options{
			History:       api,
			Uploader:      api,
			SettleTimeout: cfg.SettleTimeout,
		},
		store:   store,
		api:     api,
		engine:  engine,
		updates: updates,
	}
	store.OnChange(rt.sessionChanged)
	store.OnChange(func(u *session.User) {
		if u == nil {
			logErr(stream.SendSession(0, ""))
		} else {
			logErr(stream.SendSession(u.Id, u.Username))
		}
	})

	if cfg.AuthToken != "" {
		if err := store.Login(cfg.AuthToken, cfg.RefreshToken); err != nil {
			log.Println("Starting signed out:", err)
		}
	} else {
		log.Println("No AUTH_TOKEN set, starting signed out")
	}

	// Serve HTTP router
	allowlist, err := networks.NewAllowlist(cfg.AllowedNets)
	if err != nil {
		log.Fatalln(err)
	}
	server := v0_rest.NewServer(v0_rest.Options{
		Engine:       engine,
		Inbox:        rt.currentInbox,
		Interactions: localInteractions,
		Session:      store,
	})
	router := rest.Router(rest.Options{
		CORSOrigins:  cfg.CORSOrigins,
		RealIPHeader: cfg.RealIPHeader,
		Events:       stream,
		Allowlist:    allowlist,
	}, server)

	log.Println("Serving HTTP server on " + cfg.ListenAddress)
	if err := http.ListenAndServe(cfg.ListenAddress, router); err != nil {
		log.Println(err)
		sentry.CaptureException(err)
	}

	rt.stop()
}

func runRelay(ctx context.Context, name string, run func(context.Context) error) {
	if err := run(ctx); err != nil {
		log.Println("Relay for "+name+" stopped:", err)
		sentry.CaptureException(err)
	}
}

func logErr(err error) {
	if err != nil {
		log.Println(err)
		sentry.CaptureException(err)
	}
}

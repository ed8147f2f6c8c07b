package ingest

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/fenix-social/realtime/pkg/interactions"
	"github.com/fenix-social/realtime/pkg/messages"
	"github.com/fenix-social/realtime/pkg/transport"
)

const CmdNotification = "notification"

type Session interface {
	Token() string
	UserId() int64
	Refresh(ctx context.Context) error
	Logout()
}

type Snapshot interface {
	Notifications(ctx context.Context) ([]json.RawMessage, error)
}

// Conn is the push channel. transport.Client satisfies it.
type Conn interface {
	On(cmd string, fn transport.Handler) (off func())
	Join(room string) error
	SetToken(token string)
	Connect(ctx context.Context) error
	Close() error
}

type Processor interface {
	Process(i interactions.Interaction)
}

// Pipeline feeds the engine from the notification snapshot and the live
// push channel. Both paths stamp rows the same way before handing them over.
type Pipeline struct {
	session  Session
	snapshot Snapshot
	conn     Conn
	engine   Processor
	now      func() time.Time

	// how long to spend refreshing and reconnecting after a transport error
	RecoverTimeout time.Duration

	mu         sync.Mutex
	active     bool
	offs       []func()
	generation uint64
}

func New(session Session, snapshot Snapshot, conn Conn, engine Processor) *Pipeline {
	return &Pipeline{
		session:        session,
		snapshot:       snapshot,
		conn:           conn,
		engine:         engine,
		now:            time.Now,
		RecoverTimeout: 30 * time.Second,
	}
}

// Activate subscribes to the push channel and then loads the snapshot. The
// engine is idempotent, so rows showing up on both paths are harmless.
func (p *Pipeline) Activate(ctx context.Context) error {
	token := p.session.Token()
	if token == "" {
		return ErrNoSession
	}

	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return ErrAlreadyActive
	}
	p.active = true
	p.generation++
	generation := p.generation
	p.offs = []func(){
		p.conn.On(CmdNotification, func(pkt *transport.Packet) {
			row, err := pkt.JSON()
			if err != nil {
				log.Println("dropping notification packet:", err)
				return
			}
			p.ingest(row, generation)
		}),
		p.conn.On(transport.CmdError, func(*transport.Packet) {
			go p.recover(generation)
		}),
	}
	p.mu.Unlock()

	if err := p.subscribe(ctx, generation, token); err != nil {
		log.Println("push channel:", err)
		if err := p.refreshAndSubscribe(ctx, generation); err != nil {
			p.giveUp(err)
			return err
		}
	}

	rows, err := p.snapshot.Notifications(ctx)
	if err != nil {
		// live updates still flow, the snapshot is retried on the next activation
		log.Println("notification snapshot:", err)
		sentry.CaptureException(err)
		return nil
	}
	for _, row := range rows {
		p.ingest(row, generation)
	}
	return nil
}

// Deactivate detaches from the push channel. The pipeline stays dormant until
// Activate is called again.
func (p *Pipeline) Deactivate() {
	p.mu.Lock()
	wasActive := p.active
	p.active = false
	p.generation++
	offs := p.offs
	p.offs = nil
	p.mu.Unlock()

	for _, off := range offs {
		off()
	}
	if wasActive {
		if err := p.conn.Close(); err != nil {
			log.Println(err)
		}
	}
}

func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Pipeline) current(generation uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active && p.generation == generation
}

func (p *Pipeline) subscribe(ctx context.Context, generation uint64, token string) error {
	if !p.current(generation) {
		return nil
	}
	p.conn.SetToken(token)
	if err := p.conn.Connect(ctx); err != nil {
		return err
	}
	if userId := p.session.UserId(); userId != 0 {
		if err := p.conn.Join(messages.UserRoom(userId)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) refreshAndSubscribe(ctx context.Context, generation uint64) error {
	if err := p.session.Refresh(ctx); err != nil {
		return err
	}
	return p.subscribe(ctx, generation, p.session.Token())
}

// recover runs after the transport gave up reconnecting.
func (p *Pipeline) recover(generation uint64) {
	if !p.current(generation) {
		return
	}
	p.conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), p.RecoverTimeout)
	defer cancel()
	if err := p.refreshAndSubscribe(ctx, generation); err != nil {
		p.giveUp(err)
	}
}

// giveUp ends the session. Whoever listens for session changes tears the
// rest down.
func (p *Pipeline) giveUp(err error) {
	log.Println("push channel unrecoverable, logging out:", err)
	sentry.CaptureException(err)
	p.Deactivate()
	p.session.Logout()
}

func (p *Pipeline) ingest(row json.RawMessage, generation uint64) {
	i, err := interactions.Decode(row)
	if err != nil {
		log.Println("dropping notification:", err)
		return
	}
	i.Source = interactions.SourceServer
	i.Persisted = true
	if i.Timestamp.IsZero() {
		i.Timestamp = p.now()
	}

	if !p.current(generation) {
		return
	}
	p.engine.Process(i)
}

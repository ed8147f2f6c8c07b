package transport

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	CmdHello     = "hello"
	CmdJoinRoom  = "join_room"
	CmdLeaveRoom = "leave_room"

	// Raised locally once the connection is lost and every reconnect
	// attempt has failed.
	CmdError = "transport_error"
)

type Options struct {
	URL               string
	Token             string
	Format            Format
	ReconnectAttempts int
	ReconnectInterval time.Duration
	Dialer            *websocket.Dialer
}

type Handler func(p *Packet)

// Client is a push channel connection. It keeps the server session id and
// the last nonce it saw so a dropped connection can be resumed without losing
// packets, and it rejoins its rooms when the server hands out a new session.
//
// Handlers survive Close, so a client can be closed and connected again, for
// example with a refreshed token.
type Client struct {
	opts    Options
	limiter *rate.Limiter

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	conn        *websocket.Conn
	sessionId   string
	lastNonce   int64
	rooms       map[string]struct{}
	handlers    map[string]map[uint64]Handler
	nextHandler uint64
	closed      bool
	epoch       uint64 // bumped by Close, stale read loops compare against it

	writeMu sync.Mutex
}

// Dial connects and starts reading. Use New and Connect instead when handlers
// must see the first packets.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	c := New(opts)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// New returns an unconnected client so handlers can be registered first.
func New(opts Options) *Client {
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = 5
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:      opts,
		limiter:   rate.NewLimiter(rate.Every(opts.ReconnectInterval), 1),
		ctx:       ctx,
		cancel:    cancel,
		lastNonce: -1,
		rooms:     make(map[string]struct{}),
		handlers:  make(map[string]map[uint64]Handler),
	}
}

// SetToken changes the token used by the next connection attempt.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.opts.Token = token
	c.mu.Unlock()
}

// Connect opens the connection if there is none. It may be called again after
// Close or after a CmdError.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.closed = false
		c.ctx, c.cancel = context.WithCancel(context.Background())
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	epoch := c.epoch
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed || c.epoch != epoch {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn, epoch)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	q := u.Query()
	if c.sessionId != "" {
		q.Set("sid", c.sessionId)
		q.Set("nonce", strconv.FormatInt(c.lastNonce, 10))
	}
	q.Set("format", c.opts.Format.String())
	u.RawQuery = q.Encode()
	token := c.opts.Token
	c.mu.Unlock()

	header := http.Header{}
	if token != "" {
		header.Add("Authorization", "Bearer "+token)
	}

	conn, resp, err := c.opts.Dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			// the server no longer knows our session, start a fresh one
			c.mu.Lock()
			c.sessionId = ""
			c.lastNonce = -1
			c.mu.Unlock()
		}
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	return conn, nil
}

func (c *Client) current(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.epoch == epoch
}

func (c *Client) readLoop(conn *websocket.Conn, epoch uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if !c.current(epoch) {
				return
			}
			log.Println("push channel lost:", err)

			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()

			conn, err = c.reconnect(epoch)
			if err != nil {
				if c.current(epoch) {
					c.raise(err)
				}
				return
			}
			continue
		}

		p, err := decodePacket(c.opts.Format, data)
		if err != nil {
			log.Println(err)
			continue
		}

		if p.Cmd == CmdHello {
			c.hello(p)
		}

		// Make sure to not handle replayed packets twice
		if p.Nonce >= 0 {
			c.mu.Lock()
			if p.Nonce <= c.lastNonce {
				c.mu.Unlock()
				continue
			}
			c.lastNonce = p.Nonce
			c.mu.Unlock()
		}

		c.dispatch(p)
	}
}

func (c *Client) hello(p *Packet) {
	var hello Hello
	if err := p.Decode(&hello); err != nil {
		log.Println(err)
		return
	}

	c.mu.Lock()
	resumed := c.sessionId != "" && c.sessionId == hello.SessionId
	c.sessionId = hello.SessionId
	if !resumed {
		// nonces restart with every new session
		c.lastNonce = -1
	}
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()

	if resumed {
		return
	}
	sort.Strings(rooms)
	for _, room := range rooms {
		if err := c.Emit(CmdJoinRoom, Room{Room: room}); err != nil {
			log.Println(err)
		}
	}
}

func (c *Client) reconnect(epoch uint64) (*websocket.Conn, error) {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, ErrClosed
		}
		conn, err := c.dial(ctx)
		if err == nil {
			c.mu.Lock()
			if c.closed || c.epoch != epoch {
				c.mu.Unlock()
				conn.Close()
				return nil, ErrClosed
			}
			c.conn = conn
			c.mu.Unlock()
			return conn, nil
		}
		lastErr = err
		log.Printf("reconnect attempt %d/%d failed: %v", attempt, c.opts.ReconnectAttempts, err)
	}
	return nil, fmt.Errorf("%w: %v", ErrReconnectFailed, lastErr)
}

// raise dispatches a CmdError packet to local handlers.
func (c *Client) raise(cause error) {
	p, err := NewPacket(c.opts.Format, CmdError, ErrorVal{Error: cause.Error()})
	if err != nil {
		log.Println(err)
		return
	}
	c.dispatch(p)
}

func (c *Client) dispatch(p *Packet) {
	c.mu.Lock()
	subs := c.handlers[p.Cmd]
	ids := make([]uint64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]Handler, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, subs[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(p)
	}
}

// On registers fn for cmd and returns a func that removes it.
func (c *Client) On(cmd string, fn Handler) (off func()) {
	c.mu.Lock()
	id := c.nextHandler
	c.nextHandler++
	if c.handlers[cmd] == nil {
		c.handlers[cmd] = make(map[uint64]Handler)
	}
	c.handlers[cmd][id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.handlers[cmd], id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) Emit(cmd string, val interface{}) error {
	data, err := encodePacket(c.opts.Format, cmd, val, "", "")
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(c.opts.Format.MessageType(), data)
}

// Join subscribes to a room. Rooms are remembered and rejoined whenever the
// server starts a new session for this client.
func (c *Client) Join(room string) error {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
	return c.Emit(CmdJoinRoom, Room{Room: room})
}

func (c *Client) Leave(room string) error {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
	return c.Emit(CmdLeaveRoom, Room{Room: room})
}

func (c *Client) SessionId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionId
}

// Close ends the connection and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.epoch++
	conn := c.conn
	c.conn = nil
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return conn.Close()
}

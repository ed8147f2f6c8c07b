package messages

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fenix-social/realtime/pkg/tempid"
)

const CmdSendMessage = "send_message"

type Channel interface {
	Emit(cmd string, val interface{}) error
	Join(room string) error
	Leave(room string) error
}

type History interface {
	History(ctx context.Context, peerId int64) ([]Message, error)
}

type Uploader interface {
	Upload(ctx context.Context, name string, r io.Reader, progress func(float64)) (string, error)
}

type Options struct {
	History  History
	Uploader Uploader

	// A provisional message still unconfirmed after SettleTimeout is marked
	// failed. Zero leaves it provisional forever.
	SettleTimeout time.Duration

	Now func() time.Time
}

type Attachment struct {
	Name string
	Data io.Reader
}

type Draft struct {
	Content    string
	Attachment *Attachment
}

// Outcome says what Receive did with a message.
type Outcome uint8

const (
	Dropped Outcome = iota
	SettledByCorrelation
	SettledByContent
	Inserted
)

func (o Outcome) String() string {
	switch o {
	case SettledByCorrelation:
		return "settled_by_correlation"
	case SettledByContent:
		return "settled_by_content"
	case Inserted:
		return "inserted"
	}
	return "dropped"
}

// Conversation is the message list between the signed-in user and one peer.
type Conversation struct {
	self    int64
	peer    int64
	channel Channel
	opts    Options

	mu       sync.Mutex
	messages []Message
	timers   map[int64]*time.Timer
	draft    string
	open     bool
	loading  bool
	progress float64

	// bumped on every Open and Close so stale history loads are ignored
	generation uint64
}

func NewConversation(self, peer int64, channel Channel, opts Options) *Conversation {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Conversation{
		self:    self,
		peer:    peer,
		channel: channel,
		opts:    opts,
		timers:  make(map[int64]*time.Timer),
	}
}

func (c *Conversation) Peer() int64 {
	return c.peer
}

func (c *Conversation) Room() string {
	return RoomID(c.self, c.peer)
}

// Open joins the conversation's rooms and loads its history. History is
// merged through Receive so it never duplicates pushed messages.
func (c *Conversation) Open(ctx context.Context) error {
	c.mu.Lock()
	c.open = true
	c.generation++
	generation := c.generation
	c.loading = c.opts.History != nil
	c.mu.Unlock()

	if err := c.channel.Join(UserRoom(c.self)); err != nil {
		log.Println(err)
	}
	if err := c.channel.Join(c.Room()); err != nil {
		log.Println(err)
	}

	if c.opts.History == nil {
		return nil
	}
	history, err := c.opts.History.History(ctx, c.peer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return nil
	}
	c.loading = false
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	for _, m := range history {
		c.receive(m)
	}
	return nil
}

// Close leaves the pair room. The personal room stays joined.
func (c *Conversation) Close() {
	c.mu.Lock()
	c.open = false
	c.loading = false
	c.generation++
	c.mu.Unlock()

	if err := c.channel.Leave(c.Room()); err != nil {
		log.Println(err)
	}
}

func (c *Conversation) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Send uploads the attachment if there is one, inserts a provisional message
// and emits it. An upload failure inserts nothing and keeps the draft.
func (c *Conversation) Send(ctx context.Context, d Draft) (Message, error) {
	if strings.TrimSpace(d.Content) == "" && d.Attachment == nil {
		return Message{}, ErrEmptyMessage
	}

	var attachmentURL string
	if d.Attachment != nil {
		if c.opts.Uploader == nil {
			return Message{}, ErrNoUploader
		}
		c.setProgress(0)
		url, err := c.opts.Uploader.Upload(ctx, d.Attachment.Name, d.Attachment.Data, c.setProgress)
		if err != nil {
			c.setProgress(0)
			return Message{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
		}
		attachmentURL = url
	}

	id := tempid.Next()
	msg := Message{
		Id:            id,
		CorrelationId: id,
		Status:        StatusProvisional,
		Content:       d.Content,
		AttachmentURL: attachmentURL,
		SenderId:      c.self,
		ReceiverId:    c.peer,
		CreatedAt:     c.opts.Now(),
	}

	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.resort()
	c.draft = ""
	c.progress = 0
	c.arm(id)
	c.mu.Unlock()

	if err := c.emit(msg); err != nil {
		c.fail(id)
		msg.Status = StatusFailed
		return msg, err
	}
	return msg, nil
}

// Resend emits a failed message again under the same correlation id.
func (c *Conversation) Resend(id int64) error {
	c.mu.Lock()
	idx := c.indexOf(id)
	if idx < 0 {
		c.mu.Unlock()
		return ErrNotFound
	}
	if c.messages[idx].Status != StatusFailed {
		c.mu.Unlock()
		return ErrNotFailed
	}
	c.messages[idx].Status = StatusProvisional
	msg := c.messages[idx]
	c.arm(id)
	c.mu.Unlock()

	if err := c.emit(msg); err != nil {
		c.fail(id)
		return err
	}
	return nil
}

func (c *Conversation) emit(msg Message) error {
	err := c.channel.Emit(CmdSendMessage, Outgoing{
		CorrelationId: msg.CorrelationId,
		ReceiverId:    msg.ReceiverId,
		Content:       msg.Content,
		AttachmentURL: msg.AttachmentURL,
	})
	if err != nil {
		return fmt.Errorf("emit %s: %w", CmdSendMessage, err)
	}
	return nil
}

// Receive merges a message from the server into the list.
func (c *Conversation) Receive(m Message) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receive(m)
}

func (c *Conversation) receive(m Message) Outcome {
	if m.Id <= 0 {
		return Dropped
	}
	m.Status = StatusSettled

	if c.indexOf(m.Id) >= 0 {
		return Dropped
	}

	if m.CorrelationId != 0 {
		for i := range c.messages {
			if !c.messages[i].Settled() && c.messages[i].Id == m.CorrelationId {
				c.settle(i, m)
				return SettledByCorrelation
			}
		}
	}

	// provisional messages are always our own
	if m.SenderId == c.self && m.ReceiverId == c.peer {
		for i := range c.messages {
			if !c.messages[i].Settled() && c.messages[i].matches(&m) {
				c.settle(i, m)
				return SettledByContent
			}
		}
	}

	c.messages = append(c.messages, m)
	c.resort()
	return Inserted
}

func (c *Conversation) settle(i int, m Message) {
	provisional := c.messages[i].Id
	if t, ok := c.timers[provisional]; ok {
		t.Stop()
		delete(c.timers, provisional)
	}
	if m.CorrelationId == 0 {
		m.CorrelationId = c.messages[i].CorrelationId
	}
	c.messages[i] = m
}

func (c *Conversation) arm(id int64) {
	if c.opts.SettleTimeout <= 0 {
		return
	}
	if t, ok := c.timers[id]; ok {
		t.Stop()
	}
	c.timers[id] = time.AfterFunc(c.opts.SettleTimeout, func() { c.fail(id) })
}

// fail marks a still provisional message as failed.
func (c *Conversation) fail(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
	if idx := c.indexOf(id); idx >= 0 && c.messages[idx].Status == StatusProvisional {
		c.messages[idx].Status = StatusFailed
	}
}

func (c *Conversation) indexOf(id int64) int {
	for i := range c.messages {
		if c.messages[i].Id == id {
			return i
		}
	}
	return -1
}

func (c *Conversation) resort() {
	sort.SliceStable(c.messages, func(i, j int) bool {
		return c.messages[i].CreatedAt.Before(c.messages[j].CreatedAt)
	})
}

func (c *Conversation) setProgress(p float64) {
	c.mu.Lock()
	c.progress = p
	c.mu.Unlock()
}

func (c *Conversation) SetDraft(s string) {
	c.mu.Lock()
	c.draft = s
	c.mu.Unlock()
}

func (c *Conversation) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Conversation) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

func (c *Conversation) UploadProgress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Snapshot is the read surface of one conversation.
type Snapshot struct {
	PeerId         int64     `json:"peer_id"`
	Room           string    `json:"room"`
	Open           bool      `json:"open"`
	Loading        bool      `json:"loading"`
	UploadProgress float64   `json:"upload_progress"`
	Messages       []Message `json:"messages"`
}

func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]Message, len(c.messages))
	copy(msgs, c.messages)
	return Snapshot{
		PeerId:         c.peer,
		Room:           RoomID(c.self, c.peer),
		Open:           c.open,
		Loading:        c.loading,
		UploadProgress: c.progress,
		Messages:       msgs,
	}
}

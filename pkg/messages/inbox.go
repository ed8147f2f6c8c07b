package messages

import (
	"log"
	"sync"

	"github.com/fenix-social/realtime/pkg/bus"
	"github.com/fenix-social/realtime/pkg/transport"
)

const CmdNewMessage = "new_message"

// Listener is the inbound half of the push channel.
type Listener interface {
	On(cmd string, fn transport.Handler) (off func())
}

// Inbox routes pushed messages to per-peer conversations for the whole
// session and announces activity in conversations that are not open.
type Inbox struct {
	self    int64
	channel Channel
	opts    Options
	updates bus.Publisher[ConversationUpdated]

	mu            sync.Mutex
	conversations map[int64]*Conversation
	off           func()
}

func NewInbox(self int64, channel Channel, updates bus.Publisher[ConversationUpdated], opts Options) *Inbox {
	return &Inbox{
		self:          self,
		channel:       channel,
		opts:          opts,
		updates:       updates,
		conversations: make(map[int64]*Conversation),
	}
}

// Start joins the personal room and listens for new messages.
func (in *Inbox) Start(l Listener) error {
	in.mu.Lock()
	in.off = l.On(CmdNewMessage, func(p *transport.Packet) {
		var m Message
		if err := p.Decode(&m); err != nil {
			log.Println(err)
			return
		}
		in.Receive(m)
	})
	in.mu.Unlock()

	return in.channel.Join(UserRoom(in.self))
}

// Stop detaches from the push channel.
func (in *Inbox) Stop() {
	in.mu.Lock()
	off := in.off
	in.off = nil
	in.mu.Unlock()

	if off != nil {
		off()
	}
}

// Conversation returns the conversation with peer, creating it on first use.
func (in *Inbox) Conversation(peer int64) *Conversation {
	in.mu.Lock()
	defer in.mu.Unlock()

	c, ok := in.conversations[peer]
	if !ok {
		c = NewConversation(in.self, peer, in.channel, in.opts)
		in.conversations[peer] = c
	}
	return c
}

func (in *Inbox) Receive(m Message) Outcome {
	if m.SenderId != in.self && m.ReceiverId != in.self {
		log.Printf("dropping message %d not addressed to user %d", m.Id, in.self)
		return Dropped
	}
	peer := m.Peer(in.self)
	if peer == 0 {
		return Dropped
	}

	c := in.Conversation(peer)
	outcome := c.Receive(m)
	if outcome != Dropped && !c.IsOpen() && in.updates != nil {
		in.updates.Publish(ConversationUpdated{PeerId: peer})
	}
	return outcome
}

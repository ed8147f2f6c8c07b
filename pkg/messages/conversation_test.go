package messages

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fenix-social/realtime/pkg/bus"
	"github.com/fenix-social/realtime/pkg/transport"
)

type emitted struct {
	Cmd string
	Val interface{}
}

type fakeChannel struct {
	mu       sync.Mutex
	emits    []emitted
	joined   map[string]bool
	emitErr  error
	handlers map[string]transport.Handler
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{joined: make(map[string]bool), handlers: make(map[string]transport.Handler)}
}

func (f *fakeChannel) Emit(cmd string, val interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emits = append(f.emits, emitted{cmd, val})
	return nil
}

func (f *fakeChannel) Join(room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined[room] = true
	return nil
}

func (f *fakeChannel) Leave(room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.joined, room)
	return nil
}

func (f *fakeChannel) On(cmd string, fn transport.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[cmd] = fn
	return func() {
		f.mu.Lock()
		delete(f.handlers, cmd)
		f.mu.Unlock()
	}
}

func (f *fakeChannel) sent() []Outgoing {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Outgoing
	for _, e := range f.emits {
		if e.Cmd == CmdSendMessage {
			out = append(out, e.Val.(Outgoing))
		}
	}
	return out
}

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, name string, r io.Reader, progress func(float64)) (string, error) {
	args := m.Called(ctx, name, r, progress)
	if progress != nil {
		progress(1)
	}
	return args.String(0), args.Error(1)
}

type historyFunc func(ctx context.Context, peerId int64) ([]Message, error)

func (f historyFunc) History(ctx context.Context, peerId int64) ([]Message, error) {
	return f(ctx, peerId)
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func clock() func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

func TestRoomID(t *testing.T) {
	assert.Equal(t, "3_7", RoomID(7, 3))
	assert.Equal(t, "3_7", RoomID(3, 7))
	assert.Equal(t, "user_3", UserRoom(3))
}

func TestCorrelationSettlement(t *testing.T) {
	ch := newFakeChannel()
	c := NewConversation(3, 7, ch, Options{Now: clock()})
	c.SetDraft("hi there")

	sent, err := c.Send(context.Background(), Draft{Content: "hi there"})
	require.NoError(t, err)
	assert.Less(t, sent.Id, int64(0))
	assert.Equal(t, sent.Id, sent.CorrelationId)
	assert.Equal(t, StatusProvisional, sent.Status)
	assert.Empty(t, c.Draft())

	require.Len(t, ch.sent(), 1)
	assert.Equal(t, sent.Id, ch.sent()[0].CorrelationId)

	outcome := c.Receive(Message{Id: 900, CorrelationId: sent.Id, Content: "hi there", SenderId: 3, ReceiverId: 7, CreatedAt: t0})
	assert.Equal(t, SettledByCorrelation, outcome)

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(900), msgs[0].Id)
	assert.Equal(t, "hi there", msgs[0].Content)
	assert.True(t, msgs[0].Settled())
}

func TestFallbackSettlement(t *testing.T) {
	c := NewConversation(3, 7, newFakeChannel(), Options{Now: clock()})

	_, err := c.Send(context.Background(), Draft{Content: "  hola "})
	require.NoError(t, err)

	outcome := c.Receive(Message{Id: 901, Content: "hola", SenderId: 3, ReceiverId: 7, CreatedAt: t0})
	assert.Equal(t, SettledByContent, outcome)

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(901), msgs[0].Id)
	assert.Equal(t, StatusSettled, msgs[0].Status)
}

func TestDuplicateDeliveryDropped(t *testing.T) {
	c := NewConversation(3, 7, newFakeChannel(), Options{})

	m := Message{Id: 50, Content: "yo", SenderId: 7, ReceiverId: 3, CreatedAt: t0}
	assert.Equal(t, Inserted, c.Receive(m))
	assert.Equal(t, Dropped, c.Receive(m))
	assert.Len(t, c.Messages(), 1)
}

func TestInsertKeepsCreatedAtOrder(t *testing.T) {
	c := NewConversation(3, 7, newFakeChannel(), Options{})

	c.Receive(Message{Id: 3, Content: "c", SenderId: 7, ReceiverId: 3, CreatedAt: t0.Add(3 * time.Minute)})
	c.Receive(Message{Id: 1, Content: "a", SenderId: 7, ReceiverId: 3, CreatedAt: t0.Add(1 * time.Minute)})
	c.Receive(Message{Id: 2, Content: "b", SenderId: 3, ReceiverId: 7, CreatedAt: t0.Add(2 * time.Minute)})

	var ids []int64
	for _, m := range c.Messages() {
		ids = append(ids, m.Id)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestPeerMessageDoesNotSettleProvisional(t *testing.T) {
	c := NewConversation(3, 7, newFakeChannel(), Options{Now: clock()})
	sent, err := c.Send(context.Background(), Draft{Content: "ok"})
	require.NoError(t, err)

	// the peer happens to say the same thing
	assert.Equal(t, Inserted, c.Receive(Message{Id: 70, Content: "ok", SenderId: 7, ReceiverId: 3, CreatedAt: t0}))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	var ids []int64
	for _, m := range msgs {
		ids = append(ids, m.Id)
	}
	assert.ElementsMatch(t, []int64{sent.Id, 70}, ids)
	for _, m := range msgs {
		if m.Id == sent.Id {
			assert.Equal(t, StatusProvisional, m.Status)
			assert.Equal(t, int64(3), m.SenderId)
		}
	}

	// our own echo still settles it
	assert.Equal(t, SettledByContent, c.Receive(Message{Id: 71, Content: "ok", SenderId: 3, ReceiverId: 7, CreatedAt: t0}))
	assert.Len(t, c.Messages(), 2)
}

func TestUploadFailureInsertsNothing(t *testing.T) {
	uploader := &mockUploader{}
	uploader.On("Upload", mock.Anything, "cat.png", mock.Anything, mock.Anything).Return("", errors.New("413")).Once()

	ch := newFakeChannel()
	c := NewConversation(3, 7, ch, Options{Uploader: uploader})
	c.SetDraft("look")

	_, err := c.Send(context.Background(), Draft{Content: "look", Attachment: &Attachment{Name: "cat.png", Data: strings.NewReader("png")}})
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.Empty(t, c.Messages())
	assert.Empty(t, ch.sent())
	assert.Equal(t, "look", c.Draft())
	uploader.AssertExpectations(t)
}

func TestUploadBeforeSend(t *testing.T) {
	uploader := &mockUploader{}
	uploader.On("Upload", mock.Anything, "cat.png", mock.Anything, mock.Anything).Return("https://cdn/cat.png", nil).Once()

	ch := newFakeChannel()
	c := NewConversation(3, 7, ch, Options{Uploader: uploader})

	sent, err := c.Send(context.Background(), Draft{Attachment: &Attachment{Name: "cat.png", Data: strings.NewReader("png")}})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/cat.png", sent.AttachmentURL)
	require.Len(t, ch.sent(), 1)
	assert.Equal(t, "https://cdn/cat.png", ch.sent()[0].AttachmentURL)

	assert.Equal(t, SettledByContent, c.Receive(Message{Id: 10, AttachmentURL: "https://cdn/cat.png", SenderId: 3, ReceiverId: 7, CreatedAt: t0}))
	assert.Len(t, c.Messages(), 1)
}

func TestEmptySendRejected(t *testing.T) {
	c := NewConversation(3, 7, newFakeChannel(), Options{})
	_, err := c.Send(context.Background(), Draft{Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestUnsettledStaysProvisionalWithoutTimeout(t *testing.T) {
	c := NewConversation(3, 7, newFakeChannel(), Options{})
	_, err := c.Send(context.Background(), Draft{Content: "anyone?"})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatusProvisional, c.Messages()[0].Status)
}

func TestSettleTimeoutAndResend(t *testing.T) {
	ch := newFakeChannel()
	c := NewConversation(3, 7, ch, Options{SettleTimeout: 50 * time.Millisecond})

	sent, err := c.Send(context.Background(), Draft{Content: "anyone?"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return c.Messages()[0].Status == StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Resend(sent.Id))
	assert.Equal(t, StatusProvisional, c.Messages()[0].Status)
	require.Len(t, ch.sent(), 2)
	assert.Equal(t, sent.Id, ch.sent()[1].CorrelationId)

	assert.Equal(t, SettledByCorrelation, c.Receive(Message{Id: 77, CorrelationId: sent.Id, Content: "anyone?", SenderId: 3, ReceiverId: 7}))
	assert.ErrorIs(t, c.Resend(77), ErrNotFailed)
	assert.ErrorIs(t, c.Resend(-1), ErrNotFound)
}

func TestEmitFailureMarksFailed(t *testing.T) {
	ch := newFakeChannel()
	ch.emitErr = transport.ErrNotConnected
	c := NewConversation(3, 7, ch, Options{})
	c.SetDraft("x")

	sent, err := c.Send(context.Background(), Draft{Content: "x"})
	assert.ErrorIs(t, err, transport.ErrNotConnected)
	assert.Equal(t, StatusFailed, sent.Status)
	assert.Equal(t, StatusFailed, c.Messages()[0].Status)
	assert.Empty(t, c.Draft())
}

func TestOpenLoadsHistoryAndJoinsRooms(t *testing.T) {
	ch := newFakeChannel()
	history := historyFunc(func(ctx context.Context, peerId int64) ([]Message, error) {
		assert.Equal(t, int64(7), peerId)
		return []Message{
			{Id: 1, Content: "old", SenderId: 7, ReceiverId: 3, CreatedAt: t0},
			{Id: 2, Content: "older?", SenderId: 3, ReceiverId: 7, CreatedAt: t0.Add(time.Second)},
		}, nil
	})
	c := NewConversation(3, 7, ch, Options{History: history})

	c.Receive(Message{Id: 2, Content: "older?", SenderId: 3, ReceiverId: 7, CreatedAt: t0.Add(time.Second)})
	require.NoError(t, c.Open(context.Background()))

	assert.False(t, c.Loading())
	assert.Len(t, c.Messages(), 2)
	assert.True(t, ch.joined["user_3"])
	assert.True(t, ch.joined["3_7"])

	c.Close()
	assert.False(t, ch.joined["3_7"])
	assert.True(t, ch.joined["user_3"])
}

func TestHistoryAfterCloseIgnored(t *testing.T) {
	var c *Conversation
	history := historyFunc(func(ctx context.Context, peerId int64) ([]Message, error) {
		c.Close()
		return []Message{{Id: 1, Content: "late", SenderId: 7, ReceiverId: 3, CreatedAt: t0}}, nil
	})
	c = NewConversation(3, 7, newFakeChannel(), Options{History: history})

	require.NoError(t, c.Open(context.Background()))
	assert.Empty(t, c.Messages())
	assert.False(t, c.Loading())
}

func TestInboxPublishesForClosedConversations(t *testing.T) {
	ch := newFakeChannel()
	updates := bus.New[ConversationUpdated]()
	var got []ConversationUpdated
	updates.Subscribe(func(u ConversationUpdated) { got = append(got, u) })

	in := NewInbox(3, ch, updates, Options{})
	require.NoError(t, in.Start(ch))
	assert.True(t, ch.joined["user_3"])

	p, err := transport.NewPacket(transport.FormatJSON, CmdNewMessage, Message{Id: 11, Content: "hey", SenderId: 7, ReceiverId: 3, CreatedAt: t0})
	require.NoError(t, err)
	ch.handlers[CmdNewMessage](p)

	assert.Equal(t, []ConversationUpdated{{PeerId: 7}}, got)
	assert.Len(t, in.Conversation(7).Messages(), 1)

	require.NoError(t, in.Conversation(9).Open(context.Background()))
	assert.Equal(t, Inserted, in.Receive(Message{Id: 12, Content: "open", SenderId: 3, ReceiverId: 9, CreatedAt: t0}))
	assert.Len(t, got, 1)

	assert.Equal(t, Dropped, in.Receive(Message{Id: 13, SenderId: 8, ReceiverId: 9}))

	in.Stop()
	assert.Empty(t, ch.handlers)
}

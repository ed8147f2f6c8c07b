package notifications

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fenix-social/realtime/pkg/interactions"
)

type mockMarker struct {
	mock.Mock
}

func (m *mockMarker) MarkRead(ctx context.Context, ids []int64) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

func server(action interactions.Action, postId, actorId, notificationId int64, ts time.Time) interactions.Interaction {
	i := interactions.Interaction{
		PostId:         postId,
		Action:         action,
		Timestamp:      ts,
		NotificationId: notificationId,
		Source:         interactions.SourceServer,
		Persisted:      true,
	}
	if actorId != 0 {
		i.Actor = &interactions.Actor{Id: actorId, DisplayName: "user"}
	}
	return i
}

func newEngine(marker Marker) *Engine {
	return NewEngine(marker, func() int64 { return 1 })
}

func TestPostScenario(t *testing.T) {
	marker := &mockMarker{}
	marker.On("MarkRead", mock.Anything, []int64{500, 501}).Return(nil).Once()

	e := newEngine(marker)
	e.Process(server(interactions.ActionLike, 42, 7, 500, at(0)))
	e.Process(server(interactions.ActionLike, 42, 9, 501, at(1)))

	post, ok := e.Post(42)
	require.True(t, ok)
	assert.Len(t, post.Likes, 2)
	assert.True(t, e.HasUnread())
	assert.True(t, e.Flags().Like)

	e.Open()
	require.NoError(t, e.Close(context.Background()))

	post, _ = e.Post(42)
	assert.False(t, e.HasUnread())
	assert.Len(t, post.Likes, 2)
	for _, entry := range post.Likes {
		assert.False(t, entry.Unread())
	}
	marker.AssertExpectations(t)
}

func TestFollowDeliveredTwice(t *testing.T) {
	e := newEngine(nil)
	follow := server(interactions.ActionFollow, 0, 5, 100, at(0))
	e.Process(follow)
	e.Process(follow)

	assert.Len(t, e.Follows(), 1)
	assert.Equal(t, 1, e.UnreadCount())
	assert.Equal(t, BadgeFollow, e.Badge())
}

func TestIdempotentCounters(t *testing.T) {
	e := newEngine(nil)

	// count-only payload on a post and an orphaned comment
	countOnly := server(interactions.ActionRepost, 8, 0, 300, at(0))
	orphan := server(interactions.ActionComment, 0, 4, 301, at(1))
	for n := 0; n < 3; n++ {
		e.Process(countOnly)
		e.Process(orphan)
	}

	post, ok := e.Post(8)
	require.True(t, ok)
	assert.Equal(t, 1, post.RepostCount)
	assert.Equal(t, map[interactions.Kind]int{interactions.KindComment: 1}, e.Globals())
	assert.Equal(t, 2, e.UnreadCount())
}

func TestSelfEchoSuppressed(t *testing.T) {
	e := newEngine(nil)

	self := interactions.Local(interactions.ActionLike, 42, &interactions.Actor{Id: 1}, at(0))
	self.Persisted = true
	e.Process(self)

	assert.False(t, e.HasUnread())
	_, ok := e.Post(42)
	assert.False(t, ok)
}

func TestLocalInteractionIsReadAndCarriesNoId(t *testing.T) {
	e := newEngine(nil)

	local := interactions.Local(interactions.ActionLike, 42, &interactions.Actor{Id: 3}, at(0))
	local.NotificationId = 77
	e.Process(local)

	post, ok := e.Post(42)
	require.True(t, ok)
	require.Len(t, post.Likes, 1)
	assert.False(t, post.Likes[0].Unread())
	assert.Zero(t, post.Likes[0].NotificationId)
	assert.Empty(t, post.NotificationIds)
	assert.False(t, e.HasUnread())
}

func TestUnknownActionRejected(t *testing.T) {
	e := newEngine(nil)
	e.Process(server("poke", 42, 3, 9, at(0)))
	e.Process(server("", 42, 3, 10, at(0)))

	_, ok := e.Post(42)
	assert.False(t, ok)
	assert.False(t, e.HasUnread())
}

func TestRosterCap(t *testing.T) {
	e := newEngine(nil)
	for n := 1; n <= 60; n++ {
		e.Process(server(interactions.ActionLike, 42, int64(n), int64(1000+n), at(n)))
	}

	post, _ := e.Post(42)
	require.Len(t, post.Likes, RosterCap)
	// newest first, oldest ten dropped
	assert.Equal(t, int64(60), post.Likes[0].Actor.Id)
	assert.Equal(t, int64(11), post.Likes[RosterCap-1].Actor.Id)
}

func TestUnreadSurvivesLaterReadEvent(t *testing.T) {
	e := newEngine(nil)
	e.Process(server(interactions.ActionLike, 42, 7, 500, at(0)))

	read := server(interactions.ActionLike, 42, 7, 501, at(5))
	read.Read = true
	read.Actor.DisplayName = "renamed"
	e.Process(read)

	post, _ := e.Post(42)
	require.Len(t, post.Likes, 1)
	assert.True(t, post.Likes[0].Unread())
	assert.Equal(t, "renamed", post.Likes[0].Actor.DisplayName)
	assert.Equal(t, int64(501), post.Likes[0].NotificationId)
	assert.Equal(t, at(5), post.Likes[0].Timestamp)
}

func TestDenormalizedFieldsFirstSeenWins(t *testing.T) {
	e := newEngine(nil)

	first := server(interactions.ActionLike, 42, 7, 500, at(0))
	first.PostSnippet = "hello"
	e.Process(first)

	second := server(interactions.ActionComment, 42, 9, 501, at(1))
	second.PostSnippet = "changed"
	second.PostAuthorName = "ana"
	e.Process(second)

	post, _ := e.Post(42)
	assert.Equal(t, "hello", post.Snippet)
	assert.Equal(t, "ana", post.AuthorName)
	assert.Equal(t, at(1), post.LastTimestamp)
}

func TestSettleTwice(t *testing.T) {
	marker := &mockMarker{}
	marker.On("MarkRead", mock.Anything, []int64{500}).Return(nil).Once()

	e := newEngine(marker)
	e.Process(server(interactions.ActionLike, 42, 7, 500, at(0)))

	require.NoError(t, e.Settle(context.Background()))
	before := e.Summary()
	require.NoError(t, e.Settle(context.Background()))
	assert.Equal(t, before, e.Summary())

	marker.AssertNumberOfCalls(t, "MarkRead", 1)
}

func TestSettleFailureKeepsUnread(t *testing.T) {
	marker := &mockMarker{}
	marker.On("MarkRead", mock.Anything, mock.Anything).Return(errors.New("boom")).Once()
	marker.On("MarkRead", mock.Anything, []int64{100, 500}).Return(nil).Once()

	e := newEngine(marker)
	e.Process(server(interactions.ActionLike, 42, 7, 500, at(0)))
	e.Process(server(interactions.ActionFollow, 0, 5, 100, at(1)))

	e.Open()
	assert.Error(t, e.Close(context.Background()))
	assert.True(t, e.HasUnread())
	assert.Equal(t, 2, e.UnreadCount())

	e.Open()
	require.NoError(t, e.Close(context.Background()))
	assert.False(t, e.HasUnread())
	assert.Equal(t, BadgeNone, e.Badge())
	marker.AssertExpectations(t)
}

func TestCloseWithoutOpen(t *testing.T) {
	marker := &mockMarker{}
	e := newEngine(marker)
	e.Process(server(interactions.ActionLike, 42, 7, 500, at(0)))

	require.NoError(t, e.Close(context.Background()))
	marker.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything)
}

func TestSettleClearsCountersAndGlobals(t *testing.T) {
	marker := &mockMarker{}
	marker.On("MarkRead", mock.Anything, []int64{300, 301}).Return(nil).Once()

	e := newEngine(marker)
	e.Process(server(interactions.ActionRepost, 8, 0, 300, at(0)))
	e.Process(server(interactions.ActionComment, 0, 4, 301, at(1)))
	require.Equal(t, 2, e.UnreadCount())

	require.NoError(t, e.Settle(context.Background()))
	assert.Zero(t, e.UnreadCount())
	assert.Empty(t, e.Globals())
}

func TestSettledIdRedeliveredStaysRead(t *testing.T) {
	marker := &mockMarker{}
	marker.On("MarkRead", mock.Anything, []int64{500}).Return(nil).Once()

	e := newEngine(marker)
	like := server(interactions.ActionLike, 42, 7, 500, at(0))
	e.Process(like)
	require.NoError(t, e.Settle(context.Background()))

	e.Process(like)
	assert.False(t, e.HasUnread())
}

func TestUnreadArrivingDuringSettlementSurvives(t *testing.T) {
	marker := &mockMarker{}
	e := newEngine(marker)

	marker.On("MarkRead", mock.Anything, []int64{500}).Run(func(mock.Arguments) {
		e.Process(server(interactions.ActionLike, 42, 7, 501, at(5)))
	}).Return(nil).Once()

	e.Process(server(interactions.ActionLike, 42, 7, 500, at(0)))
	require.NoError(t, e.Settle(context.Background()))

	post, _ := e.Post(42)
	require.Len(t, post.Likes, 1)
	assert.True(t, post.Likes[0].Unread())
	assert.True(t, e.HasUnread())
}

func TestOlderUnreadArrivingDuringSettlementSurvives(t *testing.T) {
	marker := &mockMarker{}
	e := newEngine(marker)

	marker.On("MarkRead", mock.Anything, []int64{500}).Run(func(mock.Arguments) {
		e.Process(server(interactions.ActionLike, 42, 7, 499, at(0)))
	}).Return(nil).Once()
	marker.On("MarkRead", mock.Anything, []int64{499}).Return(nil).Once()

	e.Process(server(interactions.ActionLike, 42, 7, 500, at(5)))
	require.NoError(t, e.Settle(context.Background()))

	post, _ := e.Post(42)
	require.Len(t, post.Likes, 1)
	assert.Equal(t, int64(500), post.Likes[0].NotificationId)
	assert.True(t, post.Likes[0].Unread())
	assert.True(t, e.HasUnread())
	assert.Equal(t, 1, e.UnreadCount())

	require.NoError(t, e.Settle(context.Background()))
	post, _ = e.Post(42)
	assert.False(t, post.Likes[0].Unread())
	assert.False(t, e.HasUnread())
	marker.AssertExpectations(t)
}

func TestRetractions(t *testing.T) {
	e := newEngine(nil)
	e.Process(server(interactions.ActionLike, 42, 7, 500, at(0)))
	e.Process(server(interactions.ActionLike, 42, 9, 501, at(1)))
	e.Process(server(interactions.ActionFollow, 0, 5, 100, at(2)))

	e.Process(server(interactions.ActionUnlike, 42, 7, 0, at(3)))
	e.Process(server(interactions.ActionUnfollow, 0, 5, 0, at(4)))
	e.Process(server(interactions.ActionUnrepost, 99, 7, 0, at(5)))

	post, _ := e.Post(42)
	require.Len(t, post.Likes, 1)
	assert.Equal(t, int64(9), post.Likes[0].Actor.Id)
	assert.Empty(t, e.Follows())
	_, ok := e.Post(99)
	assert.False(t, ok)
}

func TestResetDiscardsInFlightSettlement(t *testing.T) {
	marker := &mockMarker{}
	e := newEngine(marker)

	marker.On("MarkRead", mock.Anything, []int64{500}).Run(func(mock.Arguments) {
		e.Reset()
		e.Process(server(interactions.ActionLike, 1, 2, 900, at(0)))
	}).Return(nil).Once()

	e.Process(server(interactions.ActionLike, 42, 7, 500, at(0)))
	require.NoError(t, e.Settle(context.Background()))

	assert.True(t, e.HasUnread())
	_, ok := e.Post(42)
	assert.False(t, ok)
}

func TestOrderingInvariance(t *testing.T) {
	var events []interactions.Interaction
	id := int64(1)
	for actor := int64(2); actor < 12; actor++ {
		for _, action := range []interactions.Action{interactions.ActionLike, interactions.ActionComment} {
			events = append(events, server(action, 42, actor, id, at(int(id%7))))
			id++
		}
		events = append(events, server(interactions.ActionFollow, 0, actor, id, at(int(id%5))))
		id++
	}
	// same actor twice in one bucket with distinct ids
	events = append(events, server(interactions.ActionLike, 42, 2, id, at(3)))
	events = append(events, server(interactions.ActionRepost, 42, 0, id+1, at(1)))
	events = append(events, server(interactions.ActionRepost, 0, 3, id+2, at(1)))

	reference := newEngine(nil)
	for _, ev := range events {
		reference.Process(ev)
	}
	want := reference.Summary()

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		shuffled := append([]interactions.Interaction(nil), events...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		e := newEngine(nil)
		for _, ev := range shuffled {
			e.Process(ev)
		}
		assert.Equal(t, want, e.Summary())
	}
}

func TestOnChange(t *testing.T) {
	marker := &mockMarker{}
	marker.On("MarkRead", mock.Anything, []int64{500}).Return(nil).Once()
	e := newEngine(marker)

	var unread []int
	off := e.OnChange(func() { unread = append(unread, e.UnreadCount()) })

	e.Process(server(interactions.ActionLike, 42, 7, 500, at(0)))
	e.Process(interactions.Local(interactions.ActionLike, 42, &interactions.Actor{Id: 1}, at(1)))
	e.Process(interactions.Interaction{Action: "poke"})
	e.Open()
	require.NoError(t, e.Close(context.Background()))

	// process, open, close, settle
	assert.Equal(t, []int{1, 1, 1, 0}, unread)

	off()
	e.Reset()
	assert.Len(t, unread, 4)
}

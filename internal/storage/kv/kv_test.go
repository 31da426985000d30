package kv

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/omochice/roomchat/internal/chat"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_Record_Multiple_Message(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC()
	msgs := []chat.Message{
		chat.NewTextMessage("room-42", "Alice", "first", at),
		chat.NewTextMessage("room-42", "Bob", "second", at.Add(time.Minute)),
		chat.NewTextMessage("room-42", "Clara", "third", at.Add(2*time.Minute)),
	}
	for _, m := range msgs {
		req.NoError(s.Append(ctx, m))
	}

	got, err := s.History(ctx, "room-42", 10)

	req.NoError(err)
	req.Len(got, len(msgs))
	for i := range msgs {
		req.Equal(msgs[i].Content, got[i].Content)
		req.Equal(msgs[i].SenderID, got[i].SenderID)
		req.True(msgs[i].Timestamp.Equal(got[i].Timestamp))
		req.Equal(chat.MessageTypeText, got[i].MessageType)
	}
}

func Test_Record_Multiple_Message_And_Limit(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC()
	for i := 0; i < 5; i++ {
		req.NoError(s.Append(ctx, chat.NewTextMessage("r", "u", fmt.Sprintf("m%d", i), at.Add(time.Duration(i)*time.Second))))
	}

	got, err := s.History(ctx, "r", 2)

	req.NoError(err)
	req.Len(got, 2)
	req.Equal("m3", got[0].Content)
	req.Equal("m4", got[1].Content)
}

func Test_Same_Nanosecond_Does_Not_Collide(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC()

	req.NoError(s.Append(ctx, chat.NewTextMessage("r", "a", "one", at)))
	req.NoError(s.Append(ctx, chat.NewTextMessage("r", "b", "two", at)))

	got, err := s.History(ctx, "r", 10)
	req.NoError(err)
	req.Len(got, 2)
}

func Test_Rooms_Sharing_A_Prefix_Stay_Separate(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC()

	req.NoError(s.Append(ctx, chat.NewTextMessage("a", "u", "in a", at)))
	req.NoError(s.Append(ctx, chat.NewTextMessage("a:b", "u", "in a:b", at)))

	got, err := s.History(ctx, "a", 10)
	req.NoError(err)
	req.Len(got, 1)
	req.Equal("in a", got[0].Content)

	empty, err := s.History(ctx, "missing", 10)
	req.NoError(err)
	req.Empty(empty)
}

package repo

import (
	"context"
	"testing"

	"github.com/tbourn/transcript-chat/internal/domain"
)

func TestStats(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	ch := mustChannel(t, db, "u1", "a")

	n, latest, err := ConversationsStats(ctx, db, "u1")
	if err != nil || n != 0 || latest != nil {
		t.Fatalf("empty stats = %d %v %v", n, latest, err)
	}
	c, _ := CreateConversation(ctx, db, "u1", ch.ID, "t")
	n, latest, err = ConversationsStats(ctx, db, "u1")
	if err != nil || n != 1 || latest == nil {
		t.Fatalf("stats = %d %v %v", n, latest, err)
	}
	_, _ = CreateMessage(db, c.ID, "user", "hi", nil, nil)
	if n, _, _ := MessagesStats(ctx, db, c.ID); n != 1 {
		t.Fatalf("message stats = %d", n)
	}

	a := mustVideo(t, db, ch.ID, "a")
	mustVideo(t, db, ch.ID, "b")
	advance(t, db, a.ID, domain.StateChunking, domain.StateFailed)
	counts, err := VideoStateCounts(ctx, db, ch.ID)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[domain.StatePending] != 1 || counts[domain.StateFailed] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestUserStats(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	empty, err := UserStats(ctx, db, "nobody")
	if err != nil || empty.Channels != 0 || len(empty.Videos) != 0 || empty.Chunks != 0 {
		t.Fatalf("empty totals = %+v %v", empty, err)
	}

	a := mustChannel(t, db, "u1", "a")
	b := mustChannel(t, db, "u1", "b")
	other := mustChannel(t, db, "u2", "c")
	va := mustVideo(t, db, a.ID, "va")
	mustVideo(t, db, b.ID, "vb")
	mustChunks(t, db, va.ID, 3)
	mustChunks(t, db, mustVideo(t, db, other.ID, "vc").ID, 2)
	advance(t, db, va.ID, domain.StateChunking, domain.StateEmbedding, domain.StateIndexed)

	got, err := UserStats(ctx, db, "u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if got.Channels != 2 || got.Chunks != 3 {
		t.Fatalf("totals = %+v", got)
	}
	if got.Videos[domain.StateIndexed] != 1 || got.Videos[domain.StatePending] != 1 {
		t.Fatalf("videos = %v", got.Videos)
	}
}

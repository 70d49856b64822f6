package services

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/text/language"

	"github.com/tbourn/transcript-chat/internal/embedding"
	"github.com/tbourn/transcript-chat/internal/repo"
)

type stubAnswerer struct {
	res *AnswerResult
	err error
}

func (s stubAnswerer) Answer(context.Context, Principal, string, string) (*AnswerResult, error) {
	return s.res, s.err
}

func TestMessageService_PostPersistsPairWithCitation(t *testing.T) {
	e := newEnv(t)
	ch := e.channel(t, "u1", "alpha")
	v := e.video(t, ch.ID, "vid1", "Pricing explained", 0)
	p := e.principal(t, "u1")
	ctx := context.Background()
	if _, err := e.ing.Ingest(ctx, p, embedding.Credential{}, v.ID, lecture); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	convs := NewConversationService(e.db, conversationRepo{})
	conv, err := convs.Create(ctx, p, ch.ID, "")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	svc := &MessageService{DB: e.db, Answers: e.ans}
	msg, err := svc.Post(ctx, p, conv.ID, "what does the pro plan cost")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if msg.Role != roleAssistant || msg.Citation == nil || msg.Citation.VideoID != v.ID {
		t.Fatalf("assistant message = %+v", msg)
	}

	items, total, err := svc.ListPage(ctx, "u1", conv.ID, 1, 10)
	if err != nil || total != 2 || len(items) != 2 {
		t.Fatalf("list: total=%d len=%d err=%v", total, len(items), err)
	}
	if items[0].Role != roleUser || items[0].Citation != nil {
		t.Fatalf("user message = %+v", items[0])
	}
	if items[1].Citation == nil || items[1].Citation.Timestamp == "" {
		t.Fatalf("citation not reloaded: %+v", items[1])
	}

	got, _ := convs.Get(ctx, "u1", conv.ID)
	if got.Title != "Pro Plan Cost" {
		t.Fatalf("auto title = %q", got.Title)
	}
}

func TestMessageService_FailureStoresNothing(t *testing.T) {
	e := newEnv(t)
	ch := e.channel(t, "u1", "alpha")
	p := e.principal(t, "u1")
	ctx := context.Background()
	conv, err := repo.CreateConversation(ctx, e.db, "u1", ch.ID, "Kept title")
	if err != nil {
		t.Fatal(err)
	}

	svc := &MessageService{DB: e.db, Answers: stubAnswerer{err: ErrQueryTimeout}}
	if _, err := svc.Post(ctx, p, conv.ID, "q"); !errors.Is(err, ErrQueryTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if n, _ := repo.CountMessages(e.db, conv.ID); n != 0 {
		t.Fatalf("%d messages stored after failure", n)
	}
}

func TestMessageService_NotFoundAndValidation(t *testing.T) {
	e := newEnv(t)
	ch := e.channel(t, "u1", "alpha")
	p := e.principal(t, "u1")
	ctx := context.Background()
	conv, _ := repo.CreateConversation(ctx, e.db, "u1", ch.ID, "Mine")

	svc := &MessageService{DB: e.db, Answers: stubAnswerer{res: &AnswerResult{Answer: Answer{Text: NotFoundText}}}}
	if _, err := svc.Post(ctx, p, conv.ID, "   "); !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("expected empty question, got %v", err)
	}
	if _, err := svc.Post(ctx, NewPrincipal("u2", nil), conv.ID, "hi"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected not found for other user, got %v", err)
	}
	if _, _, err := svc.ListPage(ctx, "u2", conv.ID, 1, 10); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected not found listing, got %v", err)
	}

	msg, err := svc.Post(ctx, p, conv.ID, "anything there?")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if msg.Content != NotFoundText || msg.Citation != nil || msg.Score != nil {
		t.Fatalf("not-found answer = %+v", msg)
	}
	got, _ := repo.GetConversation(ctx, e.db, conv.ID, "u1")
	if got.Title != "Mine" {
		t.Fatalf("custom title overwritten: %q", got.Title)
	}
}

func TestGenerateTitle(t *testing.T) {
	s := &MessageService{TitleMaxLen: 12}
	if got := s.generateTitle("What is the price of the pro plan?"); got != "Price Pro Plan" {
		t.Fatalf("title = %q", got)
	}
	if got := s.clipTitle("Price Pro Plan Details"); got != "Price Pro Pl" {
		t.Fatalf("clip = %q", got)
	}
	if s.TitleLocaleOrDefault() != language.English {
		t.Fatal("default locale should be English")
	}
	for _, tc := range []struct {
		in   string
		want bool
	}{{"", true}, {"New conversation", true}, {" untitled ", true}, {"Pricing", false}} {
		if got := shouldAutoTitle(tc.in); got != tc.want {
			t.Fatalf("shouldAutoTitle(%q) = %v", tc.in, got)
		}
	}
}

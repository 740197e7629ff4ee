package publisher

import (
	"context"
	"errors"
	"strings"
	"testing"

	kit "quotebot/internal/transport"
	logx "quotebot/pkg/logx"
)

func TestExecutorSendsReviewCopy(t *testing.T) {
	t.Parallel()
	send := &fakeSender{}
	ex := NewExecutor(&fakeGenerator{}, send, " -1002 ", logx.Nop())
	if err := ex.Run(context.Background(), "@quotes"); err != nil {
		t.Fatal(err)
	}
	sent := send.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent = %+v", sent)
	}
	if sent[0].Chat != "@quotes" || sent[1].Chat != "-1002" {
		t.Fatalf("targets = %+v", sent)
	}
	if !strings.HasSuffix(sent[1].Text, "Topic: patience") {
		t.Fatalf("review = %q", sent[1].Text)
	}
}

type emptyGenerator struct{}

func (emptyGenerator) Generate(context.Context) (Content, error) { return Content{Message: "  "}, nil }

func TestExecutorErrorClasses(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		gen     Generator
		send    *fakeSender
		channel string
		want    error
	}{
		{"bad channel", &fakeGenerator{}, &fakeSender{}, "quotes", ErrConfiguration},
		{"generator fails", &fakeGenerator{err: errors.New("quota")}, &fakeSender{}, "@quotes", ErrGeneration},
		{"empty message", emptyGenerator{}, &fakeSender{}, "@quotes", ErrGeneration},
		{"send fails", &fakeGenerator{}, &fakeSender{err: errors.New("blocked")}, "@quotes", ErrDelivery},
	}
	for _, tc := range cases {
		err := NewExecutor(tc.gen, tc.send, "", logx.Nop()).Run(context.Background(), tc.channel)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
		if tc.want != ErrDelivery && len(tc.send.Sent()) != 0 {
			t.Fatalf("%s: sent = %+v", tc.name, tc.send.Sent())
		}
	}
}

func TestExecutorReviewFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	send := &failOnChat{chat: "-1002"}
	if err := NewExecutor(&fakeGenerator{}, send, "-1002", logx.Nop()).Run(context.Background(), "@quotes"); err != nil {
		t.Fatalf("review failure leaked: %v", err)
	}
	if send.ok != 1 {
		t.Fatalf("channel sends = %d", send.ok)
	}
}

type failOnChat struct {
	chat string
	ok   int
}

func (s *failOnChat) Send(_ context.Context, chatID, _ string, _ *kit.SendOptions) error {
	if chatID == s.chat {
		return errors.New("review chat gone")
	}
	s.ok++
	return nil
}

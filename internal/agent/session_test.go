package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/evogatehq/evogate/internal/providers"
)

// echoProvider replies with a canned answer and records each request.
type echoProvider struct {
	reply    string
	err      error
	requests []providers.ChatRequest
}

func (p *echoProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	return &providers.ChatResponse{Content: p.reply}, nil
}

func (p *echoProvider) DefaultModel() string { return "echo-1" }
func (p *echoProvider) Name() string         { return "echo" }

func TestInvokeBuildsSystemHistoryUserOrder(t *testing.T) {
	prov := &echoProvider{reply: "hi there"}
	inv := NewChatInvoker(prov, "you are a shop assistant", 512)

	s, err := inv.NewSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := inv.Invoke(context.Background(), s, "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := inv.Invoke(context.Background(), s, "second"); err != nil {
		t.Fatal(err)
	}

	req := prov.requests[1]
	wantRoles := []string{"system", "user", "assistant", "user"}
	if len(req.Messages) != len(wantRoles) {
		t.Fatalf("second request has %d messages, want %d", len(req.Messages), len(wantRoles))
	}
	for i, role := range wantRoles {
		if req.Messages[i].Role != role {
			t.Errorf("message[%d].Role = %q, want %q", i, req.Messages[i].Role, role)
		}
	}
	if req.Messages[0].Content != "you are a shop assistant" {
		t.Errorf("system content = %q", req.Messages[0].Content)
	}
	if req.Messages[3].Content != "second" {
		t.Errorf("trailing user content = %q", req.Messages[3].Content)
	}
	if req.MaxTokens != 512 {
		t.Errorf("maxTokens = %d", req.MaxTokens)
	}
}

func TestInvokeAccumulatesHistory(t *testing.T) {
	prov := &echoProvider{reply: "ok"}
	inv := NewChatInvoker(prov, "prompt", 0)

	s, _ := inv.NewSession(context.Background())
	for i := 0; i < 3; i++ {
		if _, err := inv.Invoke(context.Background(), s, "q"); err != nil {
			t.Fatal(err)
		}
	}
	if s.Len() != 6 {
		t.Errorf("history len = %d after 3 turns, want 6", s.Len())
	}
}

func TestInvokeErrorLeavesHistoryUntouched(t *testing.T) {
	prov := &echoProvider{err: errors.New("rate limited")}
	inv := NewChatInvoker(prov, "prompt", 0)

	s, _ := inv.NewSession(context.Background())
	if _, err := inv.Invoke(context.Background(), s, "q"); err == nil {
		t.Fatal("want provider error surfaced")
	}
	if s.Len() != 0 {
		t.Errorf("history len = %d after failed invoke, want 0", s.Len())
	}
}

func TestResetKeepsPrompt(t *testing.T) {
	prov := &echoProvider{reply: "ok"}
	inv := NewChatInvoker(prov, "the prompt", 0)

	s, _ := inv.NewSession(context.Background())
	_, _ = inv.Invoke(context.Background(), s, "q")
	s.Reset()

	if s.Len() != 0 {
		t.Fatalf("history survived Reset")
	}
	if _, err := inv.Invoke(context.Background(), s, "again"); err != nil {
		t.Fatal(err)
	}
	last := prov.requests[len(prov.requests)-1]
	if last.Messages[0].Content != "the prompt" {
		t.Errorf("system prompt after Reset = %q", last.Messages[0].Content)
	}
	if len(last.Messages) != 2 {
		t.Errorf("request after Reset has %d messages, want system+user only", len(last.Messages))
	}
}

func TestSetPromptAffectsNewSessionsOnly(t *testing.T) {
	prov := &echoProvider{reply: "ok"}
	inv := NewChatInvoker(prov, "old prompt", 0)

	oldSession, _ := inv.NewSession(context.Background())
	inv.SetPrompt("new prompt")
	newSession, _ := inv.NewSession(context.Background())

	_, _ = inv.Invoke(context.Background(), oldSession, "q")
	if prov.requests[0].Messages[0].Content != "old prompt" {
		t.Errorf("existing session lost its prompt: %q", prov.requests[0].Messages[0].Content)
	}

	_, _ = inv.Invoke(context.Background(), newSession, "q")
	if prov.requests[1].Messages[0].Content != "new prompt" {
		t.Errorf("new session prompt = %q", prov.requests[1].Messages[0].Content)
	}
}

func TestCloseSessionNilSafe(t *testing.T) {
	inv := NewChatInvoker(&echoProvider{}, "p", 0)
	if err := inv.CloseSession(context.Background(), nil); err != nil {
		t.Errorf("CloseSession(nil) = %v", err)
	}
}

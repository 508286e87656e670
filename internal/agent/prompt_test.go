package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadPromptTrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("\n  You are a shop assistant.  \n\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadPrompt(path)
	if err != nil {
		t.Fatalf("LoadPrompt: %v", err)
	}
	if got != "You are a shop assistant." {
		t.Errorf("prompt = %q", got)
	}
}

func TestLoadPromptMissingFile(t *testing.T) {
	if _, err := LoadPrompt(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Fatal("want error for missing prompt file")
	}
}

func TestWatchPromptReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.txt")
	if err := os.WriteFile(path, []byte("first prompt"), 0o644); err != nil {
		t.Fatal(err)
	}

	inv := NewChatInvoker(&echoProvider{}, "first prompt", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := WatchPrompt(ctx, path, inv); err != nil {
		t.Fatalf("WatchPrompt: %v", err)
	}

	if err := os.WriteFile(path, []byte("second prompt"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if inv.Prompt() == "second prompt" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("prompt never reloaded, still %q", inv.Prompt())
}

func TestWatchPromptIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.txt")
	if err := os.WriteFile(path, []byte("the prompt"), 0o644); err != nil {
		t.Fatal(err)
	}

	inv := NewChatInvoker(&echoProvider{}, "the prompt", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := WatchPrompt(ctx, path, inv); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("noise"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	if inv.Prompt() != "the prompt" {
		t.Errorf("prompt changed to %q on a sibling file write", inv.Prompt())
	}
}

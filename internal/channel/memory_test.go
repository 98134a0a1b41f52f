package channel

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryProvider(t *testing.T) {
	m := NewMemoryProvider()
	ctx := context.Background()
	var closed []string
	m.OnClosed(func(agentID string) { closed = append(closed, agentID) })

	m.CreateErr = errors.New("no tty")
	m.FailCreates = 1
	if _, err := m.Create(ctx, "a1", Config{}); err == nil {
		t.Fatal("expected first Create to fail")
	}
	h, err := m.Create(ctx, "a1", Config{Kind: KindClaude, WorkDir: "/tmp/a1"})
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if cfg, ok := m.LastConfig("a1"); !ok || cfg.WorkDir != "/tmp/a1" {
		t.Errorf("LastConfig = %+v, %v", cfg, ok)
	}

	if err := m.Send(ctx, h, "hello"); err != nil {
		t.Fatal(err)
	}
	if got := m.Sent("a1"); len(got) != 1 || got[0] != "hello" {
		t.Errorf("Sent = %v", got)
	}

	if !m.Close("a1") {
		t.Fatal("Close returned false for open channel")
	}
	if len(closed) != 1 || closed[0] != "a1" {
		t.Errorf("closed callbacks = %v", closed)
	}
	if m.IsOpen("a1") {
		t.Error("channel still open after Close")
	}
	if err := m.Send(ctx, h, "again"); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close: got %v", err)
	}
	if m.Close("a1") {
		t.Error("second Close should report false")
	}

	h2, _ := m.Create(ctx, "a2", Config{})
	if err := m.Dispose(h2); err != nil {
		t.Fatal(err)
	}
	if len(closed) != 1 {
		t.Errorf("Dispose must not fire OnClosed, got %v", closed)
	}
}

package measure

import (
	"context"
	"testing"
	"time"
)

// These tests assume `unbuffer` (expect-dev / tcl) is present on PATH, same
// prerequisite the status manager checks for at startup (spec.md §4.F).

func TestProcRunStreamsLinesInOrder(t *testing.T) {
	p := &Proc{}
	var lines []string
	res := p.Run(context.Background(), 5*time.Second, "printf", []string{"a\\nb\\nc\\n"}, func(l string) {
		lines = append(lines, l)
	})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	want := []string{"a", "b", "c"}
	if len(lines) != len(want) {
		t.Fatalf("expected %v, got %v", want, lines)
	}
	for i, l := range want {
		if lines[i] != l {
			t.Fatalf("line %d: expected %q, got %q", i, l, lines[i])
		}
	}
}

func TestProcRunDetectsTimeout(t *testing.T) {
	p := &Proc{}
	res := p.Run(context.Background(), 50*time.Millisecond, "sleep", []string{"5"}, nil)
	if !res.TimedOut {
		t.Fatalf("expected TimedOut=true, result: %+v", res)
	}
}

func TestProcKillSuppressesWaitError(t *testing.T) {
	p := &Proc{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan ProcResult, 1)
	go func() {
		done <- p.Run(ctx, 0, "sh", []string{"-c", "echo hi; sleep 5"}, func(string) {
			p.Kill()
		})
	}()

	select {
	case res := <-done:
		if !res.WasKilled {
			t.Fatalf("expected WasKilled=true, result: %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Kill")
	}
}

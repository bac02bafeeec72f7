package server

import (
	"testing"
	"time"
)

func TestConflictDetectorFlagsConcurrentWritersWithinWindow(t *testing.T) {
	cd := NewConflictDetector(100*time.Millisecond, StrategyLastWriteWins)

	if conflicting := cd.RecordWrite("mem-1", "agent-1"); len(conflicting) != 0 {
		t.Fatalf("expected no conflict on first write, got %v", conflicting)
	}
	conflicting := cd.RecordWrite("mem-1", "agent-2")
	if len(conflicting) != 1 || conflicting[0] != "agent-1" {
		t.Fatalf("expected conflict with agent-1, got %v", conflicting)
	}
}

func TestConflictDetectorIgnoresSameAgentRewrites(t *testing.T) {
	cd := NewConflictDetector(100*time.Millisecond, StrategyLastWriteWins)

	cd.RecordWrite("mem-1", "agent-1")
	conflicting := cd.RecordWrite("mem-1", "agent-1")
	if len(conflicting) != 0 {
		t.Fatalf("expected no self-conflict, got %v", conflicting)
	}
}

func TestConflictDetectorExpiresOldWrites(t *testing.T) {
	cd := NewConflictDetector(10*time.Millisecond, StrategyLastWriteWins)

	cd.RecordWrite("mem-1", "agent-1")
	time.Sleep(30 * time.Millisecond)
	conflicting := cd.RecordWrite("mem-1", "agent-2")
	if len(conflicting) != 0 {
		t.Fatalf("expected the first write to have aged out of the window, got %v", conflicting)
	}
}

func TestConflictDetectorDefaultsStrategyToLastWriteWins(t *testing.T) {
	cd := NewConflictDetector(time.Second, "")
	if cd.Strategy() != StrategyLastWriteWins {
		t.Fatalf("expected default last_write_wins, got %s", cd.Strategy())
	}
}

package logging

import (
	"log"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitTailAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	Init(path)
	t.Cleanup(Close)

	log.Printf("first entry")
	log.Printf("second entry")

	tail, err := ReadTail(10)
	if err != nil {
		t.Fatalf("ReadTail: %v", err)
	}
	if !strings.Contains(tail, "first entry") || !strings.Contains(tail, "second entry") {
		t.Errorf("tail = %q", tail)
	}

	if err := Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	tail, err = ReadTail(10)
	if err != nil {
		t.Fatalf("ReadTail after clear: %v", err)
	}
	if strings.Contains(tail, "entry") {
		t.Errorf("tail after clear = %q", tail)
	}

	// The handle stays open; new entries land in the emptied file.
	log.Printf("after clear")
	tail, err = ReadTail(10)
	if err != nil {
		t.Fatalf("ReadTail after relog: %v", err)
	}
	if !strings.Contains(tail, "after clear") {
		t.Errorf("tail = %q", tail)
	}
}

func TestReadTailLimitsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	Init(path)
	t.Cleanup(Close)

	for i := 0; i < 20; i++ {
		log.Printf("line %d", i)
	}

	tail, err := ReadTail(3)
	if err != nil {
		t.Fatalf("ReadTail: %v", err)
	}
	lines := strings.Split(tail, "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3: %q", len(lines), tail)
	}
	if !strings.Contains(lines[2], "line 19") {
		t.Errorf("last line = %q", lines[2])
	}
}

func TestClearWithoutFileIsNoop(t *testing.T) {
	Close()
	mu.Lock()
	logPath = ""
	mu.Unlock()

	if err := Clear(); err != nil {
		t.Errorf("Clear with no log file: %v", err)
	}
}

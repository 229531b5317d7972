package diag

import (
	"strings"
	"sync"
	"testing"
)

func TestWarnOnceDeduplicates(t *testing.T) {
	c := New()
	for i := 0; i < 3; i++ {
		c.WarnOnce("UnimplementedCommand", "SET_ADV", "ignored")
	}
	c.WarnOnce("UnimplementedCommand", "ADJUST", "ignored")
	if got := c.Len(); got != 2 {
		t.Fatalf("expected 2 warnings, got %d", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.Warn("x", "y", "z")
	c.WarnOnce("x", "y", "z")
	if c.Len() != 0 || c.Warnings() != nil {
		t.Fatalf("nil collector should drop warnings")
	}
}

func TestConcurrentWarn(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Warn("UnimplementedElement", "DIAG", "skipped")
		}()
	}
	wg.Wait()
	if got := c.Codes()["UnimplementedElement"]; got != 20 {
		t.Fatalf("expected 20 warnings, got %d", got)
	}
	if !strings.Contains(c.Summary(), "UnimplementedElement: 20") {
		t.Fatalf("unexpected summary: %q", c.Summary())
	}
}

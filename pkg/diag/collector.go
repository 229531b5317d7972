// Package diag collects non-fatal warnings raised while building or
// simulating a linac. A Collector is passed explicitly to the code that can
// warn; nothing in this module keeps warning state in globals.
package diag

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Warning is a single diagnostic entry.
type Warning struct {
	Code    string
	Subject string
	Message string
}

func (w Warning) String() string {
	if w.Subject == "" {
		return fmt.Sprintf("[%s] %s", w.Code, w.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", w.Code, w.Subject, w.Message)
}

// Collector accumulates warnings. The zero value is ready to use and a nil
// *Collector silently drops everything.
type Collector struct {
	mu       sync.Mutex
	warnings []Warning
	seen     map[string]struct{}
}

// New returns an empty collector.
func New() *Collector {
	return &Collector{}
}

// Warn records a warning every time it is called.
func (c *Collector) Warn(code, subject, format string, args ...interface{}) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, Warning{Code: code, Subject: subject, Message: fmt.Sprintf(format, args...)})
}

// WarnOnce records a warning only the first time a (code, subject) pair is seen.
func (c *Collector) WarnOnce(code, subject, format string, args ...interface{}) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = make(map[string]struct{})
	}
	key := code + "\x00" + subject
	if _, ok := c.seen[key]; ok {
		return
	}
	c.seen[key] = struct{}{}
	c.warnings = append(c.warnings, Warning{Code: code, Subject: subject, Message: fmt.Sprintf(format, args...)})
}

// Warnings returns a copy of the recorded warnings in insertion order.
func (c *Collector) Warnings() []Warning {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Warning, len(c.warnings))
	copy(out, c.warnings)
	return out
}

// Len returns the number of recorded warnings.
func (c *Collector) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.warnings)
}

// Codes counts warnings per code.
func (c *Collector) Codes() map[string]int {
	counts := make(map[string]int)
	for _, w := range c.Warnings() {
		counts[w.Code]++
	}
	return counts
}

// Summary renders one line per code with its count, sorted by code.
func (c *Collector) Summary() string {
	counts := c.Codes()
	codes := make([]string, 0, len(counts))
	for code := range counts {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	var b strings.Builder
	for _, code := range codes {
		fmt.Fprintf(&b, "%s: %d\n", code, counts[code])
	}
	return b.String()
}

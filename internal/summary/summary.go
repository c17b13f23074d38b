// Package summary accumulates per-table counters over one synchronization
// run. The poller logs the collected totals and writes them into the
// execution audit note.
package summary

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type tableCounts struct {
	Added    int
	Modified int
	Ignored  int
}

// Collector is safe for concurrent use by the per-record workers of a run.
type Collector struct {
	mu     sync.Mutex
	tables map[string]*tableCounts
	errs   []string
}

func NewCollector() *Collector {
	return &Collector{tables: make(map[string]*tableCounts)}
}

func (c *Collector) counts(table string) *tableCounts {
	tc, ok := c.tables[table]
	if !ok {
		tc = &tableCounts{}
		c.tables[table] = tc
	}
	return tc
}

func (c *Collector) Added(table string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts(table).Added += n
}

func (c *Collector) Modified(table string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts(table).Modified += n
}

func (c *Collector) Ignored(table string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts(table).Ignored += n
}

func (c *Collector) Error(context string, err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, context+": "+err.Error())
}

func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

// OK reports whether the run finished without a single recorded error.
func (c *Collector) OK() bool {
	return c.ErrorCount() == 0
}

// String renders the totals in a stable one-line form, tables sorted by
// name, suitable for logs and the audit note.
func (c *Collector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names)+1)
	for _, name := range names {
		tc := c.tables[name]
		parts = append(parts, fmt.Sprintf("%s: agregados=%d modificados=%d ignorados=%d",
			name, tc.Added, tc.Modified, tc.Ignored))
	}
	if len(c.errs) > 0 {
		parts = append(parts, fmt.Sprintf("errores=%d", len(c.errs)))
	}
	if len(parts) == 0 {
		return "sin cambios"
	}
	return strings.Join(parts, "; ")
}

// Errors returns a copy of the recorded error lines.
func (c *Collector) Errors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.errs))
	copy(out, c.errs)
	return out
}

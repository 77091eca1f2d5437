// Package retention trims a document: entry history beyond the caps in
// Meta, and pool resources no live or historical node refers to.
// It never removes groups, entries or fields.
package retention

import (
	"maps"

	"github.com/dmitrijs2005/gokdbx/internal/document"
	"github.com/google/uuid"
)

// Options selects which rules Apply runs. The zero value runs none.
type Options struct {
	HistoryRules bool
	CustomIcons  bool
	Binaries     bool
}

// All enables every rule.
var All = Options{HistoryRules: true, CustomIcons: true, Binaries: true}

// Report counts what Apply removed.
type Report struct {
	History     int
	CustomIcons int
	Binaries    int
}

// Empty reports whether nothing was removed.
func (r Report) Empty() bool { return r == Report{} }

// Apply runs the selected rules on d. History is trimmed before the pools
// are pruned, so a resource referenced only by a dropped snapshot goes too.
// Running Apply again with the same caps removes nothing.
func Apply(d *document.Document, opts Options) Report {
	var r Report
	if d == nil || d.Meta == nil {
		return r
	}
	if opts.HistoryRules {
		maxItems, maxSize := limit(d.Meta.HistoryMaxItems), limit(d.Meta.HistoryMaxSize)
		d.WalkEntries(func(e *document.Entry) {
			r.History += trimHistory(e, maxItems, maxSize)
		})
	}
	if opts.CustomIcons {
		used := map[uuid.UUID]bool{}
		d.WalkGroups(func(g *document.Group) {
			used[g.CustomIcon] = true
		})
		eachEntry(d, func(e *document.Entry) { used[e.CustomIcon] = true })
		r.CustomIcons = prune(d.Meta.CustomIcons, used)
	}
	if opts.Binaries {
		used := map[string]bool{}
		eachEntry(d, func(e *document.Entry) {
			for _, b := range e.Binaries {
				used[b.Ref] = true
			}
		})
		r.Binaries = prune(d.Meta.Binaries, used)
	}
	return r
}

// limit maps a stored cap to -1 (unlimited) or a non-negative bound.
func limit(v *int64) int64 {
	if v == nil || *v < 0 {
		return -1
	}
	return *v
}

// trimHistory drops the oldest snapshots until both caps hold.
func trimHistory(e *document.Entry, maxItems, maxSize int64) int {
	var size int64
	for _, h := range e.History {
		size += h.Size()
	}
	n := 0
	for n < len(e.History) {
		over := maxItems >= 0 && int64(len(e.History)-n) > maxItems
		over = over || maxSize >= 0 && size > maxSize
		if !over {
			break
		}
		size -= e.History[n].Size()
		n++
	}
	if n == 0 {
		return 0
	}
	clear(e.History[:n])
	e.History = e.History[n:]
	return n
}

// eachEntry visits live entries and their history snapshots.
func eachEntry(d *document.Document, fn func(*document.Entry)) {
	d.WalkEntries(func(e *document.Entry) {
		fn(e)
		for _, h := range e.History {
			fn(h)
		}
	})
}

func prune[K comparable, V any](pool map[K]V, used map[K]bool) int {
	before := len(pool)
	maps.DeleteFunc(pool, func(k K, _ V) bool { return !used[k] })
	return before - len(pool)
}

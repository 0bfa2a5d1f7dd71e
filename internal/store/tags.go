package store

import (
	"sort"

	"github.com/zenoss/zenoss-zep-sub000/internal/event"
	"github.com/zenoss/zenoss-zep-sub000/internal/query"
)

// tagCounter accumulates per-tag severity counts across events. Totals sum
// occurrence counts; per-severity counts are numbers of events.
type tagCounter struct {
	order   []string
	byTag   map[string]map[event.Severity]*event.SeverityCount
	totals  map[string]int
	allowed map[string]bool
}

// newTagCounter pre-populates the tags named by filter's tag filters, so they
// are reported even with no matching events, and restricts counting to them.
func newTagCounter(filter *query.Filter) *tagCounter {
	c := &tagCounter{
		byTag:  make(map[string]map[event.Severity]*event.SeverityCount),
		totals: make(map[string]int),
	}
	if filter == nil || !filter.HasTagFilter() {
		return c
	}
	c.allowed = make(map[string]bool)
	for _, tf := range filter.TagFilters {
		for _, u := range tf.TagUUIDs {
			if c.allowed[u] {
				continue
			}
			c.allowed[u] = true
			c.ensure(u)
		}
	}
	return c
}

func (c *tagCounter) ensure(tag string) map[event.Severity]*event.SeverityCount {
	m, ok := c.byTag[tag]
	if !ok {
		m = make(map[event.Severity]*event.SeverityCount)
		c.byTag[tag] = m
		c.order = append(c.order, tag)
	}
	return m
}

// add counts e under its element uuid, or, when tags were requested, under
// every tag it carries.
func (c *tagCounter) add(e *event.Summary) {
	tags := e.TagUUIDs()
	if c.allowed == nil {
		tags = nil
		if e.Actor.ElementUUID != "" {
			tags = []string{e.Actor.ElementUUID}
		}
	}
	for _, tag := range tags {
		if c.allowed != nil && !c.allowed[tag] {
			continue
		}
		m := c.ensure(tag)
		sc, ok := m[e.Severity]
		if !ok {
			sc = &event.SeverityCount{Severity: e.Severity}
			m[e.Severity] = sc
		}
		sc.Count++
		if e.Status == event.StatusAcknowledged {
			sc.AckedCount++
		}
		c.totals[tag] += e.Count
	}
}

// result lists pre-populated tags first, in filter order, then the rest by
// uuid. Severities are reported most severe first.
func (c *tagCounter) result() []event.TagSeverities {
	order := c.order
	if c.allowed == nil {
		order = append([]string(nil), c.order...)
		sort.Strings(order)
	}
	out := make([]event.TagSeverities, 0, len(order))
	for _, tag := range order {
		ts := event.TagSeverities{TagUUID: tag, Total: c.totals[tag], Severities: []event.SeverityCount{}}
		for _, sc := range c.byTag[tag] {
			ts.Severities = append(ts.Severities, *sc)
		}
		sort.Slice(ts.Severities, func(i, j int) bool {
			return ts.Severities[i].Severity > ts.Severities[j].Severity
		})
		out = append(out, ts)
	}
	return out
}

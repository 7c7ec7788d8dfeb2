package insights

import "sort"

type entry struct {
	key   string
	count int
}

// counter counts keys and remembers the order each key was first seen in,
// which is the tie-break for every ranking below.
type counter struct {
	index   map[string]int
	entries []entry
}

func newCounter() *counter {
	return &counter{index: make(map[string]int)}
}

func (c *counter) add(keys ...string) {
	for _, k := range keys {
		if i, ok := c.index[k]; ok {
			c.entries[i].count++
			continue
		}
		c.index[k] = len(c.entries)
		c.entries = append(c.entries, entry{key: k, count: 1})
	}
}

// ranked returns entries with count >= minCount by descending count.
func (c *counter) ranked(minCount int) []entry {
	out := make([]entry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.count >= minCount {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].count > out[j].count })
	return out
}

func (c *counter) top(n, minCount int) []entry {
	ranked := c.ranked(minCount)
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func (c *counter) topKeys(n int) []string {
	top := c.top(n, 1)
	keys := make([]string, len(top))
	for i, e := range top {
		keys[i] = e.key
	}
	return keys
}

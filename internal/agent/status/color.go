package status

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

var palette = []string{"red", "green", "yellow", "blue", "magenta", "cyan", "white", "gray"}

// ColorTable assigns display colours to agent names. It is bounded: names not seen for a
// while are forgotten and get a fresh colour when they come back.
type ColorTable struct {
	mu    sync.Mutex
	cache *lru.Cache[string, string]
	next  int
}

func NewColorTable(size int) *ColorTable {
	if size <= 0 {
		size = 64
	}
	cache, _ := lru.New[string, string](size)
	return &ColorTable{cache: cache}
}

func (c *ColorTable) Color(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if col, ok := c.cache.Get(name); ok {
		return col
	}
	col := palette[c.next%len(palette)]
	c.next++
	c.cache.Add(name, col)
	return col
}

func (c *ColorTable) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

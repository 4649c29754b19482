package dispatcher

import (
	"sync"
	"time"
)

// messageCounter tracks how many message events have been resolved today,
// for /status and snapshot_stats. It resets implicitly at midnight local
// time rather than running a scheduled reset task.
type messageCounter struct {
	mu    sync.Mutex
	day   string
	count int64
}

func newMessageCounter() *messageCounter {
	return &messageCounter{}
}

func (c *messageCounter) Increment() {
	day := time.Now().Format("2006-01-02")
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.day != day {
		c.day = day
		c.count = 0
	}
	c.count++
}

// Today implements style.MessageCounter.
func (c *messageCounter) Today() int64 {
	day := time.Now().Format("2006-01-02")
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.day != day {
		return 0
	}
	return c.count
}

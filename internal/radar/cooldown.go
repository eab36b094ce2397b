package radar

import (
	"sync"
	"time"
)

type cooldownKey struct {
	deviceID int64
	sourceID int64
}

type Cooldown struct {
	mu   sync.Mutex
	last map[cooldownKey]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[cooldownKey]time.Time)}
}

func (c *Cooldown) Allow(deviceID, sourceID int64, at time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	key := cooldownKey{deviceID: deviceID, sourceID: sourceID}
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.last[key]; ok && at.Sub(last) < cooldown {
		return false
	}
	c.last[key] = at
	return true
}

func (c *Cooldown) Reset() {
	c.mu.Lock()
	c.last = make(map[cooldownKey]time.Time)
	c.mu.Unlock()
}

// RemoveDevice drops every cooldown entry for the device.
func (c *Cooldown) RemoveDevice(deviceID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.last {
		if key.deviceID == deviceID {
			delete(c.last, key)
		}
	}
}

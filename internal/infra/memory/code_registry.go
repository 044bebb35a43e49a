package memory

import (
	"context"
	"sync"
	"time"

	"quiz-room-service/internal/domain"
)

// CodeRegistry reserves room codes in process memory with an expiry.
type CodeRegistry struct {
	mu    sync.Mutex
	now   func() time.Time
	codes map[string]time.Time
}

func NewCodeRegistry() *CodeRegistry {
	return &CodeRegistry{now: time.Now, codes: make(map[string]time.Time)}
}

// WithClock swaps the clock used for expiry; tests only.
func (c *CodeRegistry) WithClock(now func() time.Time) *CodeRegistry {
	c.now = now
	return c
}

// Reserve claims code until ttl elapses. A live reservation yields ErrRoomCodeTaken.
func (c *CodeRegistry) Reserve(ctx context.Context, code string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if expires, ok := c.codes[code]; ok && now.Before(expires) {
		return domain.ErrRoomCodeTaken
	}
	c.purgeLocked(now)
	c.codes[code] = now.Add(ttl)
	return nil
}

// Release frees a reservation early.
func (c *CodeRegistry) Release(_ context.Context, code string) error {
	c.mu.Lock()
	delete(c.codes, code)
	c.mu.Unlock()
	return nil
}

func (c *CodeRegistry) purgeLocked(now time.Time) {
	for code, expires := range c.codes {
		if !now.Before(expires) {
			delete(c.codes, code)
		}
	}
}

package inference

import (
	"errors"
	"fmt"
)

// ErrCacheOrder is returned when a cache position would be revisited or skipped.
var ErrCacheOrder = errors.New("cache position out of order")

// CachePosition tracks where the next tokens land in the model's incremental
// context. It only moves forward, by exactly the number of tokens submitted.
type CachePosition struct {
	next    int
	started bool
}

// Prefill claims positions [0, n) for the prompt. It must be the first claim.
func (c *CachePosition) Prefill(n int) ([]int, error) {
	if c.started {
		return nil, fmt.Errorf("%w: prefill requested at position %d", ErrCacheOrder, c.next)
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: prefill of %d tokens", ErrCacheOrder, n)
	}
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	c.started = true
	c.next = n
	return ids, nil
}

// Advance claims the single position at, which must be the next free one.
func (c *CachePosition) Advance(at int) ([]int, error) {
	if !c.started {
		return nil, fmt.Errorf("%w: advance to %d before prefill", ErrCacheOrder, at)
	}
	if at != c.next {
		return nil, fmt.Errorf("%w: advance to %d, next free position is %d", ErrCacheOrder, at, c.next)
	}
	c.next++
	return []int{at}, nil
}

// Next returns the next free position.
func (c *CachePosition) Next() int {
	return c.next
}

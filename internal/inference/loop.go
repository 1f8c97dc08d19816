package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/samcharles93/tokenloop/internal/logger"
	"github.com/samcharles93/tokenloop/internal/logits"
)

// State is the phase of a generation call.
type State int

const (
	StateInit State = iota
	StatePrefill
	StateDecode
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePrefill:
		return "prefill"
	case StateDecode:
		return "decode"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stats describes one finished generation call.
type Stats struct {
	Steps           int // generated columns
	TokensGenerated int // Steps times batch size
	ForwardCalls    int
	EarlyStop       bool // every sequence hit EOS before the target length
	Duration        time.Duration
	TPS             float64
}

// selectFunc turns one forward output into the column appended to the
// result and the column fed back to the model. done reports that the
// whole batch has finished.
type selectFunc[T any] func(out T) (appended, fed []int, done bool, err error)

type forwardFunc[T any] func(ctx context.Context, tokens [][]int, cacheIDs []int) (T, error)

// controller owns the cache position and the generated columns for one
// generation call.
type controller[T any] struct {
	forward forwardFunc[T]
	prompt  [][]int
	batch   int
	seqLen  int

	state   State
	cache   CachePosition
	columns [][]int
	stats   Stats
	log     logger.Logger
	started time.Time
}

func newController[T any](ctx context.Context, forward forwardFunc[T], prompt [][]int, startIDs []int, seqLen int) (*controller[T], error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if err := checkPrompt(prompt, startIDs); err != nil {
		return nil, err
	}
	return &controller[T]{
		forward: forward,
		prompt:  prompt,
		batch:   len(prompt),
		seqLen:  seqLen,
		state:   StateInit,
		log:     logger.FromContext(ctx).With("component", "decode"),
		started: time.Now(),
	}, nil
}

func checkPrompt(prompt [][]int, startIDs []int) error {
	if len(prompt) == 0 {
		return fmt.Errorf("%w: empty batch", logits.ErrShape)
	}
	width := len(prompt[0])
	if width == 0 {
		return fmt.Errorf("%w: empty prompt", logits.ErrShape)
	}
	for i, row := range prompt {
		if len(row) != width {
			return fmt.Errorf("%w: prompt row %d has length %d, want %d", logits.ErrShape, i, len(row), width)
		}
	}
	if startIDs != nil && len(startIDs) != len(prompt) {
		return fmt.Errorf("%w: %d start ids for a batch of %d", logits.ErrShape, len(startIDs), len(prompt))
	}
	return nil
}

func checkBatch(rows, batch int) error {
	if rows != batch {
		return fmt.Errorf("%w: model returned %d rows for a batch of %d", logits.ErrShape, rows, batch)
	}
	return nil
}

func (c *controller[T]) transition(next State) {
	c.log.Debug("state transition", "from", c.state.String(), "to", next.String())
	c.state = next
}

func (c *controller[T]) call(ctx context.Context, tokens [][]int, cacheIDs []int) (T, error) {
	c.stats.ForwardCalls++
	return safeForward(func() (T, error) {
		return c.forward(ctx, tokens, cacheIDs)
	})
}

// prefill runs the single forward pass over the whole prompt.
func (c *controller[T]) prefill(ctx context.Context) (T, error) {
	var zero T
	c.transition(StatePrefill)
	ids, err := c.cache.Prefill(len(c.prompt[0]))
	if err != nil {
		return zero, err
	}
	out, err := c.call(ctx, c.prompt, ids)
	if err != nil {
		return zero, fmt.Errorf("forward error during prefill: %w", err)
	}
	return out, nil
}

// resume marks the prompt as already cached by the caller.
func (c *controller[T]) resume() error {
	c.transition(StatePrefill)
	_, err := c.cache.Prefill(len(c.prompt[0]))
	return err
}

// decode generates columns until the target length is reached or sel
// reports that the whole batch is done.
func (c *controller[T]) decode(ctx context.Context, first T, sel selectFunc[T]) ([][]int, Stats, error) {
	c.transition(StateDecode)
	out := first
	for cur := len(c.prompt[0]); cur < c.seqLen; cur++ {
		if err := ctx.Err(); err != nil {
			return nil, c.stats, err
		}

		appended, fed, done, err := sel(out)
		if err != nil {
			return nil, c.stats, fmt.Errorf("token selection at position %d: %w", cur, err)
		}
		c.columns = append(c.columns, appended)
		c.stats.Steps++
		c.log.Debug("decode step", "position", cur, "tokens", appended)

		if cur+1 >= c.seqLen {
			break
		}
		if done {
			c.stats.EarlyStop = true
			c.log.Debug("all sequences finished", "position", cur)
			break
		}

		ids, err := c.cache.Advance(cur)
		if err != nil {
			return nil, c.stats, err
		}
		out, err = c.call(ctx, column(fed), ids)
		if err != nil {
			return nil, c.stats, fmt.Errorf("forward error during generation step %d: %w", c.stats.Steps-1, err)
		}
	}
	return c.finish(), c.stats, nil
}

// finish concatenates the prompt and the generated columns.
func (c *controller[T]) finish() [][]int {
	c.transition(StateDone)
	out := make([][]int, c.batch)
	for i, row := range c.prompt {
		seq := make([]int, 0, len(row)+len(c.columns))
		seq = append(seq, row...)
		for _, col := range c.columns {
			seq = append(seq, col[i])
		}
		out[i] = seq
	}

	c.stats.TokensGenerated = c.stats.Steps * c.batch
	c.stats.Duration = time.Since(c.started)
	if c.stats.Duration.Seconds() > 0 {
		c.stats.TPS = float64(c.stats.TokensGenerated) / c.stats.Duration.Seconds()
	}
	return out
}

// column turns one id per sequence into a B×1 batch.
func column(ids []int) [][]int {
	out := make([][]int, len(ids))
	for i, id := range ids {
		out[i] = []int{id}
	}
	return out
}

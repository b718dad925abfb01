package query

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"cartsync/internal/domain"
)

type Fetcher func(ctx context.Context) (*domain.Cart, error)

type Options struct {
	// OnData receives every fetch result that was not cancelled. It runs with
	// the client locked and must not call back into the client.
	OnData func(*domain.Cart)
	// OnError receives background refetch failures.
	OnError func(error)
	// RefetchInterval drives Run. Zero disables periodic revalidation.
	RefetchInterval time.Duration
}

// Client owns the cart query: it de-duplicates concurrent fetches, runs
// background refetches and lets mutations cancel them before speculating.
type Client struct {
	fetch  Fetcher
	opts   Options
	logger *zap.Logger
	group  singleflight.Group
	wg     sync.WaitGroup

	mu         sync.Mutex
	generation uint64
	nextID     uint64
	cancels    map[uint64]context.CancelFunc
	stale      bool
	fetchedAt  time.Time
	closed     bool
}

func New(fetch Fetcher, opts Options, logger *zap.Logger) *Client {
	return &Client{
		fetch:   fetch,
		opts:    opts,
		logger:  logger,
		cancels: map[uint64]context.CancelFunc{},
		stale:   true,
	}
}

// Fetch loads the cart in the caller's goroutine. Concurrent callers share a
// single request.
func (c *Client) Fetch(ctx context.Context) (*domain.Cart, error) {
	gen := c.currentGeneration()

	v, err, shared := c.group.Do("cart", func() (interface{}, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	cart := v.(*domain.Cart)
	if shared {
		cart = cart.Clone()
	}
	c.publish(gen, cart)
	return cart, nil
}

// Refetch starts a background fetch. Its result is dropped if Cancel runs
// before it completes.
func (c *Client) Refetch() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	gen := c.generation
	ctx, cancel := context.WithCancel(context.Background())
	c.nextID++
	id := c.nextID
	c.cancels[id] = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.cancels, id)
			c.mu.Unlock()
			cancel()
		}()

		cart, err := c.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("background cart refetch failed", zap.Error(err))
			if c.opts.OnError != nil {
				c.opts.OnError(err)
			}
			return
		}
		c.publish(gen, cart)
	}()
}

// Cancel aborts in-flight background refetches and invalidates any fetch
// already past the network so its result is never published.
func (c *Client) Cancel() {
	c.mu.Lock()
	c.generation++
	cancels := c.cancels
	c.cancels = map[uint64]context.CancelFunc{}
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Invalidate marks the cart stale and refetches it in the background.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
	c.Refetch()
}

func (c *Client) IsStale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

func (c *Client) FetchedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchedAt
}

// Run revalidates the cart every RefetchInterval until ctx is done.
func (c *Client) Run(ctx context.Context) {
	if c.opts.RefetchInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.opts.RefetchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refetch()
		}
	}
}

// Wait blocks until every background refetch started so far has finished.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close cancels background work, waits for it and refuses new refetches.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Cancel()
	c.wg.Wait()
}

func (c *Client) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// publish hands a fetch result to OnData unless a Cancel happened since the
// fetch started. Holding the lock across OnData orders it before any Cancel.
func (c *Client) publish(gen uint64, cart *domain.Cart) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		c.logger.Debug("discarding cancelled cart fetch")
		return
	}
	c.stale = false
	c.fetchedAt = time.Now()

	if c.opts.OnData != nil {
		c.opts.OnData(cart)
	}
}

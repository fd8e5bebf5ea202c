package cache

import (
	"context"
	"sync"
	"time"

	"jobtrail/models"
	"jobtrail/utils"
)

const (
	prefetchBatchSize = 3
	prefetchPause     = 100 * time.Millisecond
)

// Fetcher retrieves a full thread from the remote mailbox. The cache never
// knows how the call is made; timeouts and retries are the implementation's
// concern.
type Fetcher interface {
	FetchThread(ctx context.Context, id string) (*models.Thread, error)
}

// ThreadCache is the slice of the cache surface the prefetcher needs: a
// membership check and the write path for fetched threads.
type ThreadCache interface {
	IsThreadCached(id string) bool
	SetThread(thread *models.Thread)
}

// Prefetcher warms the thread cache in the background. Enqueued IDs go into a
// pending set; a single drain goroutine takes batches of up to batchSize IDs,
// fetches them concurrently, pauses between batches, and exits when the set
// is empty. A fetch failure only costs that one ID its hydration.
type Prefetcher struct {
	cache   ThreadCache
	fetcher Fetcher
	log     *utils.Logger

	batchSize int
	pause     time.Duration

	mu       sync.Mutex
	pending  map[string]struct{}
	draining bool
}

// NewPrefetcher creates a scheduler writing fetched threads into cache.
func NewPrefetcher(cache ThreadCache, fetcher Fetcher, log *utils.Logger) *Prefetcher {
	return &Prefetcher{
		cache:     cache,
		fetcher:   fetcher,
		log:       log,
		batchSize: prefetchBatchSize,
		pause:     prefetchPause,
		pending:   make(map[string]struct{}),
	}
}

// Enqueue adds thread IDs to the pending set and starts a drain if one is not
// already running. IDs that are empty, already pending, or already cached are
// dropped, so repeated calls are harmless.
func (p *Prefetcher) Enqueue(ids ...string) {
	p.mu.Lock()
	for _, id := range ids {
		if id == "" || p.cache.IsThreadCached(id) {
			continue
		}
		p.pending[id] = struct{}{}
	}
	if p.draining || len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	p.draining = true
	p.mu.Unlock()

	go p.drain()
}

// Pending reports how many IDs are waiting to be fetched.
func (p *Prefetcher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Draining reports whether a drain cycle is currently running.
func (p *Prefetcher) Draining() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draining
}

// drain processes the pending set batch by batch until it is empty. IDs
// enqueued mid-drain are picked up because each batch reads the live set.
func (p *Prefetcher) drain() {
	for {
		batch := p.takeBatch()
		if len(batch) == 0 {
			return
		}

		p.fetchBatch(batch)

		p.mu.Lock()
		more := len(p.pending) > 0
		p.mu.Unlock()
		if more {
			time.Sleep(p.pause)
		}
	}
}

// takeBatch removes up to batchSize IDs from the pending set. An empty set
// ends the drain cycle.
func (p *Prefetcher) takeBatch() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) == 0 {
		p.draining = false
		return nil
	}

	batch := make([]string, 0, p.batchSize)
	for id := range p.pending {
		batch = append(batch, id)
		delete(p.pending, id)
		if len(batch) == p.batchSize {
			break
		}
	}
	return batch
}

// fetchBatch fetches the batch concurrently and waits for all outcomes. An
// ID cached since it was enqueued is skipped without a network call.
func (p *Prefetcher) fetchBatch(ids []string) {
	var wg sync.WaitGroup
	for _, id := range ids {
		if p.cache.IsThreadCached(id) {
			continue
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			thread, err := p.fetcher.FetchThread(context.Background(), id)
			if err != nil {
				p.log.Warn("Prefetch of thread %s failed: %v", id, err)
				return
			}
			p.cache.SetThread(thread)
		}(id)
	}
	wg.Wait()
}

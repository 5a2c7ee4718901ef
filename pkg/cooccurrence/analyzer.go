// Package cooccurrence mines the stock movement log for category pairs that
// are consumed together. Runs as an on-demand batch job, never on the
// generate/decide path.
package cooccurrence

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const lockKey = "cooccurrence:refresh"

// Window policies for grouping movements into transactions
const (
	WindowPolicyTransaction = "transaction" // the event's own transaction key
	WindowPolicyJobDay      = "job_day"     // transaction key plus UTC day
)

// MovementSource reads consumption events in id order
type MovementSource interface {
	ListConsumptions(ctx context.Context, afterID int64, limit int, windowStart, windowEnd *time.Time) ([]models.StockMovement, error)
}

// PairWriter atomically publishes a computed pair set
type PairWriter interface {
	ReplaceAll(ctx context.Context, pairs []models.CoOccurrencePair) error
}

// Lock is a held mutual-exclusion lock
type Lock interface {
	Release(ctx context.Context) error
	Extend(ctx context.Context, ttl time.Duration) error
}

// Locker guards refresh runs so only one is active at a time
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// ErrAlreadyRunning is returned when a refresh is already in flight
var ErrAlreadyRunning = errors.New("co-occurrence refresh already running")

type redisLocker struct {
	locker *redis.Locker
}

// NewRedisLocker adapts the shared Redis locker
func NewRedisLocker(locker *redis.Locker) Locker {
	return &redisLocker{locker: locker}
}

func (r *redisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lock, err := r.locker.Acquire(ctx, key, ttl)
	if err != nil {
		if errors.Is(err, redis.ErrLockNotAcquired) {
			return nil, ErrAlreadyRunning
		}
		return nil, err
	}
	return lock, nil
}

// Config holds analyzer tuning
type Config struct {
	WindowPolicy string
	ChunkSize    int
	LockTTL      time.Duration
}

// Analyzer rebuilds the co-occurrence pair statistics from the movement log
type Analyzer struct {
	movements MovementSource
	pairs     PairWriter
	locker    Locker
	cfg       Config
	logger    ectologger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAnalyzer creates a new co-occurrence analyzer
func NewAnalyzer(movements MovementSource, pairs PairWriter, locker Locker, cfg Config, logger ectologger.Logger) *Analyzer {
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = 1000
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.WindowPolicy == "" {
		cfg.WindowPolicy = WindowPolicyTransaction
	}
	return &Analyzer{
		movements: movements,
		pairs:     pairs,
		locker:    locker,
		cfg:       cfg,
		logger:    logger,
	}
}

// Refresh rebuilds the pair table synchronously. A concurrent run fails fast
// with 409; nothing is published on failure or cancellation.
func (a *Analyzer) Refresh(ctx context.Context, windowStart, windowEnd *time.Time) (int, error) {
	lock, err := a.locker.Acquire(ctx, lockKey, a.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			return 0, httperror.NewHTTPError(http.StatusConflict, "a co-occurrence refresh is already running")
		}
		a.logger.WithContext(ctx).WithError(err).Error("Failed to acquire refresh lock")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start co-occurrence refresh")
	}
	defer lock.Release(ctx)

	return a.refreshLocked(ctx, lock, windowStart, windowEnd)
}

// StartRefresh acquires the lock synchronously so the caller can report
// accepted vs already-running, then computes in the background. The run is
// detached from the request context; Stop cancels it.
func (a *Analyzer) StartRefresh(ctx context.Context, windowStart, windowEnd *time.Time) error {
	lock, err := a.locker.Acquire(ctx, lockKey, a.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			return httperror.NewHTTPError(http.StatusConflict, "a co-occurrence refresh is already running")
		}
		a.logger.WithContext(ctx).WithError(err).Error("Failed to acquire refresh lock")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start co-occurrence refresh")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()
		defer lock.Release(runCtx)

		if _, err := a.refreshLocked(runCtx, lock, windowStart, windowEnd); err != nil {
			a.logger.WithContext(runCtx).WithError(err).Error("Co-occurrence refresh failed")
		}
	}()

	return nil
}

// Stop cancels any in-flight refresh and waits for it to wind down
func (a *Analyzer) Stop() {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Analyzer) refreshLocked(ctx context.Context, lock Lock, windowStart, windowEnd *time.Time) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "cooccurrence.Analyzer.refreshLocked")
	defer span.End()

	start := time.Now()
	log := a.logger.WithContext(ctx).WithFields(map[string]any{
		"method":        "Refresh",
		"window_policy": a.cfg.WindowPolicy,
	})
	log.Info("Starting co-occurrence refresh")

	// transaction key -> set of categories consumed in it
	transactions := map[string]map[int64]bool{}
	var afterID int64
	for {
		// Cooperative cancellation between chunks; partial results are
		// discarded, the published table keeps its last good snapshot.
		select {
		case <-ctx.Done():
			log.Info("Co-occurrence refresh cancelled")
			metrics.RecordRefresh("cancelled", 0, time.Since(start).Seconds())
			return 0, ctx.Err()
		default:
		}

		chunk, err := a.movements.ListConsumptions(ctx, afterID, a.cfg.ChunkSize, windowStart, windowEnd)
		if err != nil {
			metrics.RecordRefresh("failed", 0, time.Since(start).Seconds())
			return 0, err
		}

		for _, m := range chunk {
			key := a.transactionKey(m)
			if transactions[key] == nil {
				transactions[key] = map[int64]bool{}
			}
			transactions[key][m.CategoryID] = true
			afterID = m.ID
		}

		if len(chunk) < a.cfg.ChunkSize {
			break
		}

		// More chunks ahead. Re-arm the lock TTL so a run longer than the
		// initial TTL does not lose mutual exclusion mid-scan.
		if err := lock.Extend(ctx, a.cfg.LockTTL); err != nil {
			log.WithError(err).Error("Failed to extend refresh lock")
			metrics.RecordRefresh("failed", 0, time.Since(start).Seconds())
			return 0, err
		}
	}

	pairs := aggregate(transactions, windowStart, windowEnd)

	if err := a.pairs.ReplaceAll(ctx, pairs); err != nil {
		metrics.RecordRefresh("failed", 0, time.Since(start).Seconds())
		return 0, err
	}

	metrics.RecordRefresh("completed", len(pairs), time.Since(start).Seconds())
	log.WithFields(map[string]any{
		"transactions": len(transactions),
		"pairs":        len(pairs),
		"duration":     time.Since(start),
	}).Info("Completed co-occurrence refresh")

	return len(pairs), nil
}

// transactionKey groups a movement into its co-occurrence transaction
func (a *Analyzer) transactionKey(m models.StockMovement) string {
	if a.cfg.WindowPolicy == WindowPolicyJobDay {
		return m.TransactionKey + "|" + m.OccurredAt.UTC().Format("2006-01-02")
	}
	return m.TransactionKey
}

type pairKey struct {
	a int64
	b int64
}

// aggregate counts, for every unordered pair of distinct categories, how
// many transactions contained both. Confidence is the pair count over the
// rarer category's transaction count.
func aggregate(transactions map[string]map[int64]bool, windowStart, windowEnd *time.Time) []models.CoOccurrencePair {
	perCategory := map[int64]int64{}
	perPair := map[pairKey]int64{}

	for _, categories := range transactions {
		ids := make([]int64, 0, len(categories))
		for id := range categories {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for i, id := range ids {
			perCategory[id]++
			for _, other := range ids[i+1:] {
				perPair[pairKey{a: id, b: other}]++
			}
		}
	}

	now := time.Now().UTC()
	pairs := make([]models.CoOccurrencePair, 0, len(perPair))
	for key, count := range perPair {
		txA := perCategory[key.a]
		txB := perCategory[key.b]
		rarer := txA
		if txB < rarer {
			rarer = txB
		}
		confidence := 0.0
		if rarer > 0 {
			confidence = float64(count) / float64(rarer)
		}

		pairs = append(pairs, models.CoOccurrencePair{
			CategoryAID:       key.a,
			CategoryBID:       key.b,
			CoOccurrenceCount: count,
			TransactionsA:     txA,
			TransactionsB:     txB,
			Confidence:        confidence,
			WindowStart:       windowStart,
			WindowEnd:         windowEnd,
			LastComputedAt:    now,
		})
	}

	// Deterministic output order keeps re-runs comparable
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].CategoryAID != pairs[j].CategoryAID {
			return pairs[i].CategoryAID < pairs[j].CategoryAID
		}
		return pairs[i].CategoryBID < pairs[j].CategoryBID
	})

	return pairs
}

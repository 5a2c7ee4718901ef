package cooccurrence

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

type fakeMovementSource struct {
	movements []models.StockMovement
	calls     int
	err       error
}

func (f *fakeMovementSource) ListConsumptions(_ context.Context, afterID int64, limit int, windowStart, windowEnd *time.Time) ([]models.StockMovement, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}

	out := []models.StockMovement{}
	for _, m := range f.movements {
		if m.ID <= afterID {
			continue
		}
		if windowStart != nil && m.OccurredAt.Before(*windowStart) {
			continue
		}
		if windowEnd != nil && !m.OccurredAt.Before(*windowEnd) {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakePairWriter struct {
	published [][]models.CoOccurrencePair
	err       error
}

func (f *fakePairWriter) ReplaceAll(_ context.Context, pairs []models.CoOccurrencePair) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, pairs)
	return nil
}

func (f *fakePairWriter) latest() []models.CoOccurrencePair {
	if len(f.published) == 0 {
		return nil
	}
	return f.published[len(f.published)-1]
}

type fakeLocker struct {
	mu        sync.Mutex
	held      bool
	extends   int
	extendErr error
}

type fakeLock struct {
	locker *fakeLocker
}

func (l fakeLock) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	l.locker.held = false
	return nil
}

func (l fakeLock) Extend(context.Context, time.Duration) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if l.locker.extendErr != nil {
		return l.locker.extendErr
	}
	l.locker.extends++
	return nil
}

func (f *fakeLocker) Acquire(context.Context, string, time.Duration) (Lock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return nil, ErrAlreadyRunning
	}
	f.held = true
	return fakeLock{locker: f}, nil
}

func movement(id int64, category int64, key string, day int) models.StockMovement {
	return models.StockMovement{
		ID:             id,
		CategoryID:     category,
		Qty:            1,
		MovementType:   "consume",
		TransactionKey: key,
		OccurredAt:     time.Date(2026, 3, day, 12, 0, 0, 0, time.UTC),
	}
}

func newTestAnalyzer(source *fakeMovementSource, writer *fakePairWriter, cfg Config) *Analyzer {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewAnalyzer(source, writer, &fakeLocker{}, cfg, logger)
}

func TestRefresh_CountsUnorderedPairs(t *testing.T) {
	source := &fakeMovementSource{movements: []models.StockMovement{
		// job-1: categories 1, 2, 3
		movement(1, 1, "job-1", 1),
		movement(2, 2, "job-1", 1),
		movement(3, 3, "job-1", 1),
		// job-2: categories 2, 1 (reverse order, same unordered pair as job-1)
		movement(4, 2, "job-2", 1),
		movement(5, 1, "job-2", 1),
		// job-3: single category, no pairs
		movement(6, 1, "job-3", 1),
	}}
	writer := &fakePairWriter{}

	count, err := newTestAnalyzer(source, writer, Config{}).Refresh(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	pairs := writer.latest()
	require.Len(t, pairs, 3)

	// Canonicalized a < b, deterministic order
	assert.EqualValues(t, 1, pairs[0].CategoryAID)
	assert.EqualValues(t, 2, pairs[0].CategoryBID)
	assert.EqualValues(t, 2, pairs[0].CoOccurrenceCount)
	assert.EqualValues(t, 3, pairs[0].TransactionsA)
	assert.EqualValues(t, 2, pairs[0].TransactionsB)
	assert.Equal(t, 1.0, pairs[0].Confidence)

	assert.EqualValues(t, 1, pairs[1].CategoryAID)
	assert.EqualValues(t, 3, pairs[1].CategoryBID)
	assert.EqualValues(t, 1, pairs[1].CoOccurrenceCount)

	assert.EqualValues(t, 2, pairs[2].CategoryAID)
	assert.EqualValues(t, 3, pairs[2].CategoryBID)
}

func TestRefresh_WindowPolicyJobDay(t *testing.T) {
	// Same transaction key on different days
	source := &fakeMovementSource{movements: []models.StockMovement{
		movement(1, 1, "job-1", 1),
		movement(2, 2, "job-1", 1),
		movement(3, 1, "job-1", 2),
		movement(4, 3, "job-1", 2),
	}}

	t.Run("transaction policy merges days", func(t *testing.T) {
		writer := &fakePairWriter{}
		count, err := newTestAnalyzer(source, writer, Config{WindowPolicy: WindowPolicyTransaction}).Refresh(context.Background(), nil, nil)
		require.NoError(t, err)
		// One transaction with categories {1,2,3} -> 3 pairs
		assert.Equal(t, 3, count)
	})

	t.Run("job_day policy splits days", func(t *testing.T) {
		writer := &fakePairWriter{}
		count, err := newTestAnalyzer(source, writer, Config{WindowPolicy: WindowPolicyJobDay}).Refresh(context.Background(), nil, nil)
		require.NoError(t, err)
		// {1,2} on day one, {1,3} on day two
		assert.Equal(t, 2, count)

		pairs := writer.latest()
		assert.EqualValues(t, 2, pairs[0].TransactionsA, "category 1 appears in both day-transactions")
	})
}

func TestRefresh_WindowBounds(t *testing.T) {
	source := &fakeMovementSource{movements: []models.StockMovement{
		movement(1, 1, "job-1", 1),
		movement(2, 2, "job-1", 1),
		movement(3, 1, "job-2", 10),
		movement(4, 3, "job-2", 10),
	}}
	writer := &fakePairWriter{}

	start := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	count, err := newTestAnalyzer(source, writer, Config{}).Refresh(context.Background(), &start, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	pairs := writer.latest()
	assert.EqualValues(t, 1, pairs[0].CategoryAID)
	assert.EqualValues(t, 3, pairs[0].CategoryBID)
	require.NotNil(t, pairs[0].WindowStart)
	assert.Equal(t, start, *pairs[0].WindowStart)
}

func TestRefresh_ChunkedScan(t *testing.T) {
	movements := []models.StockMovement{}
	for i := int64(1); i <= 5; i++ {
		movements = append(movements, movement(i, i, "job-1", 1))
	}
	source := &fakeMovementSource{movements: movements}
	writer := &fakePairWriter{}

	count, err := newTestAnalyzer(source, writer, Config{ChunkSize: 2}).Refresh(context.Background(), nil, nil)
	require.NoError(t, err)
	// 5 categories in one transaction -> C(5,2) pairs
	assert.Equal(t, 10, count)
	assert.Equal(t, 3, source.calls)
}

func TestRefresh_ExtendsLockBetweenChunks(t *testing.T) {
	movements := []models.StockMovement{}
	for i := int64(1); i <= 5; i++ {
		movements = append(movements, movement(i, i, "job-1", 1))
	}
	source := &fakeMovementSource{movements: movements}
	writer := &fakePairWriter{}
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	locker := &fakeLocker{}

	_, err := NewAnalyzer(source, writer, locker, Config{ChunkSize: 2}, logger).Refresh(context.Background(), nil, nil)
	require.NoError(t, err)

	// Three fetches: the TTL is re-armed after each full chunk, not after
	// the short final one
	assert.Equal(t, 2, locker.extends)
}

func TestRefresh_ExtendFailureAbortsRun(t *testing.T) {
	movements := []models.StockMovement{}
	for i := int64(1); i <= 4; i++ {
		movements = append(movements, movement(i, i, "job-1", 1))
	}
	source := &fakeMovementSource{movements: movements}
	writer := &fakePairWriter{}
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	locker := &fakeLocker{extendErr: errors.New("lock not held")}

	_, err := NewAnalyzer(source, writer, locker, Config{ChunkSize: 2}, logger).Refresh(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Empty(t, writer.published)
}

func TestRefresh_IdempotentForSameInputs(t *testing.T) {
	source := &fakeMovementSource{movements: []models.StockMovement{
		movement(1, 1, "job-1", 1),
		movement(2, 2, "job-1", 1),
	}}
	writer := &fakePairWriter{}
	analyzer := newTestAnalyzer(source, writer, Config{})

	_, err := analyzer.Refresh(context.Background(), nil, nil)
	require.NoError(t, err)
	_, err = analyzer.Refresh(context.Background(), nil, nil)
	require.NoError(t, err)

	require.Len(t, writer.published, 2)
	first := writer.published[0]
	second := writer.published[1]
	require.Len(t, second, len(first))
	for i := range first {
		first[i].LastComputedAt = second[i].LastComputedAt
	}
	assert.Equal(t, first, second)
}

func TestRefresh_AlreadyRunningConflicts(t *testing.T) {
	source := &fakeMovementSource{}
	writer := &fakePairWriter{}
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	locker := &fakeLocker{}
	analyzer := NewAnalyzer(source, writer, locker, Config{}, logger)

	// Simulate an in-flight run holding the lock
	_, err := locker.Acquire(context.Background(), lockKey, time.Minute)
	require.NoError(t, err)

	_, err = analyzer.Refresh(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))
	assert.Empty(t, writer.published)
}

func TestRefresh_CancellationPublishesNothing(t *testing.T) {
	source := &fakeMovementSource{movements: []models.StockMovement{
		movement(1, 1, "job-1", 1),
		movement(2, 2, "job-1", 1),
	}}
	writer := &fakePairWriter{}
	analyzer := newTestAnalyzer(source, writer, Config{ChunkSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := analyzer.Refresh(ctx, nil, nil)
	require.Error(t, err)
	assert.Empty(t, writer.published)
}

func TestRefresh_SourceFailureKeepsLastSnapshot(t *testing.T) {
	writer := &fakePairWriter{}
	source := &fakeMovementSource{movements: []models.StockMovement{
		movement(1, 1, "job-1", 1),
		movement(2, 2, "job-1", 1),
	}}
	analyzer := newTestAnalyzer(source, writer, Config{})

	_, err := analyzer.Refresh(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, writer.published, 1)

	source.err = assert.AnError
	_, err = analyzer.Refresh(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Len(t, writer.published, 1, "failed run must not republish")
}

func TestRefresh_EmptyLogPublishesEmptySet(t *testing.T) {
	source := &fakeMovementSource{}
	writer := &fakePairWriter{}

	count, err := newTestAnalyzer(source, writer, Config{}).Refresh(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	require.Len(t, writer.published, 1)
	assert.Empty(t, writer.latest())
}

package market_test

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/cipherworks/fhemarket/internal/events"
	"github.com/cipherworks/fhemarket/internal/market"
	"github.com/cipherworks/fhemarket/internal/store"
	"github.com/cipherworks/fhemarket/pkg/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testMinStake      = int64(1000)
	testDisputePeriod = 72 * time.Hour
)

var (
	consumer = testAddr('1')
	provider = testAddr('2')
	arbiter  = testAddr('a')
	stranger = testAddr('f')
)

// fakeClock is a movable time source so time-gated paths are testable
// without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("fhemarket_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, store.RunMigrations(connStr, migrationsDir()))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newTestEngine(t *testing.T) (*market.Engine, store.Store, *fakeClock) {
	t.Helper()
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	clock := newFakeClock()
	e := market.NewEngine(s, events.NopPublisher{}, market.Params{
		MinStake:      testMinStake,
		DisputePeriod: testDisputePeriod,
		Arbiter:       arbiter,
	}, market.WithClock(clock.Now))
	return e, s, clock
}

func testAddr(last byte) models.Address {
	b := make([]byte, 40)
	for i := range b {
		b[i] = '0'
	}
	b[39] = last
	return models.Address("0x" + string(b))
}

func testHash(fill byte) models.Hash {
	var h models.Hash
	for i := range h {
		h[i] = fill
	}
	return h
}

// postTestJob funds the consumer and posts a job priced at price due in 24h.
func postTestJob(t *testing.T, e *market.Engine, clock *fakeClock, price int64) *models.Job {
	t.Helper()
	ctx := context.Background()

	_, err := e.Deposit(ctx, consumer, price)
	require.NoError(t, err)

	job, err := e.PostJob(ctx, consumer, testHash(0xaa), clock.Now().Add(24*time.Hour), price)
	require.NoError(t, err)
	return job
}

// acceptTestJob funds and stakes the provider, then accepts the job.
func acceptTestJob(t *testing.T, e *market.Engine, jobID int64) {
	t.Helper()
	ctx := context.Background()

	_, err := e.Deposit(ctx, provider, 5*testMinStake)
	require.NoError(t, err)
	_, err = e.Stake(ctx, provider, 5*testMinStake)
	require.NoError(t, err)

	_, err = e.AcceptJob(ctx, provider, jobID)
	require.NoError(t, err)
}

// --- PostJob ---

func TestPostJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, s, clock := newTestEngine(t)
	ctx := context.Background()

	job := postTestJob(t, e, clock, 1000)

	assert.Equal(t, int64(0), job.ID)
	assert.Equal(t, consumer, job.Consumer)
	assert.Equal(t, int64(1000), job.Price)
	assert.Equal(t, int64(1000), job.Escrow)
	assert.Equal(t, models.JobStatusPosted, job.Status)
	assert.Nil(t, job.Provider)

	// Escrow was taken from the consumer's vault balance
	balance, err := e.Balance(ctx, consumer)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	// The posting is durably recorded as an event
	evs, err := s.ListEvents(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, models.EventJobPosted, evs[0].Type)
}

func TestPostJob_DenseIDs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)

	first := postTestJob(t, e, clock, 100)
	second := postTestJob(t, e, clock, 100)
	third := postTestJob(t, e, clock, 100)
	assert.Equal(t, int64(0), first.ID)
	assert.Equal(t, int64(1), second.ID)
	assert.Equal(t, int64(2), third.ID)
}

func TestPostJob_InvalidPrice(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	_, err := e.PostJob(ctx, consumer, testHash(0xaa), clock.Now().Add(time.Hour), 0)
	assert.ErrorIs(t, err, market.ErrInvalidEscrow)

	_, err = e.PostJob(ctx, consumer, testHash(0xaa), clock.Now().Add(time.Hour), -5)
	assert.ErrorIs(t, err, market.ErrInvalidEscrow)
}

func TestPostJob_DeadlineInPast(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	_, err := e.PostJob(ctx, consumer, testHash(0xaa), clock.Now().Add(-time.Minute), 100)
	assert.ErrorIs(t, err, market.ErrInvalidDeadline)

	// A deadline exactly at now is also rejected
	_, err = e.PostJob(ctx, consumer, testHash(0xaa), clock.Now(), 100)
	assert.ErrorIs(t, err, market.ErrInvalidDeadline)
}

func TestPostJob_InsufficientBalance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Deposit(ctx, consumer, 99)
	require.NoError(t, err)

	_, err = e.PostJob(ctx, consumer, testHash(0xaa), clock.Now().Add(time.Hour), 100)
	assert.ErrorIs(t, err, market.ErrInsufficientBalance)

	// The failed post must not burn a job ID
	job := postTestJob(t, e, clock, 50)
	assert.Equal(t, int64(0), job.ID)
}

// --- AcceptJob ---

func TestAcceptJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	job := postTestJob(t, e, clock, 1000)
	acceptTestJob(t, e, job.ID)

	got, err := e.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusAccepted, got.Status)
	require.NotNil(t, got.Provider)
	assert.Equal(t, provider, *got.Provider)

	// MinStake is locked against the open job
	info, err := e.GetProviderInfo(ctx, provider)
	require.NoError(t, err)
	assert.Equal(t, testMinStake, info.Locked)
}

func TestAcceptJob_NoStake(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	job := postTestJob(t, e, clock, 1000)

	_, err := e.AcceptJob(ctx, provider, job.ID)
	assert.ErrorIs(t, err, market.ErrInsufficientStake)
}

func TestAcceptJob_FreeStakeBelowFloor(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	// Stake exactly the floor, then lock it against a first job: the second
	// accept finds no free collateral.
	first := postTestJob(t, e, clock, 500)
	second := postTestJob(t, e, clock, 500)

	_, err := e.Deposit(ctx, provider, testMinStake)
	require.NoError(t, err)
	_, err = e.Stake(ctx, provider, testMinStake)
	require.NoError(t, err)

	_, err = e.AcceptJob(ctx, provider, first.ID)
	require.NoError(t, err)

	_, err = e.AcceptJob(ctx, provider, second.ID)
	assert.ErrorIs(t, err, market.ErrInsufficientStake)
}

func TestAcceptJob_NotPosted(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	job := postTestJob(t, e, clock, 1000)
	acceptTestJob(t, e, job.ID)

	// Second accept of the same job
	_, err := e.AcceptJob(ctx, provider, job.ID)
	assert.ErrorIs(t, err, market.ErrInvalidState)
}

func TestAcceptJob_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, _ := newTestEngine(t)

	_, err := e.AcceptJob(context.Background(), provider, 42)
	assert.ErrorIs(t, err, market.ErrJobNotFound)
}

// --- SubmitResult ---

func TestSubmitResult(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	job := postTestJob(t, e, clock, 1000)
	acceptTestJob(t, e, job.ID)

	got, err := e.SubmitResult(ctx, provider, job.ID, testHash(0xbb))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusResultSubmitted, got.Status)
	require.NotNil(t, got.ResultCommitment)
	assert.Equal(t, testHash(0xbb), *got.ResultCommitment)
	require.NotNil(t, got.SubmittedAt)
	assert.Equal(t, clock.Now(), got.SubmittedAt.UTC())
}

func TestSubmitResult_WrongProvider(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	job := postTestJob(t, e, clock, 1000)
	acceptTestJob(t, e, job.ID)

	_, err := e.SubmitResult(ctx, stranger, job.ID, testHash(0xbb))
	assert.ErrorIs(t, err, market.ErrNotProvider)
}

func TestSubmitResult_NotAccepted(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	job := postTestJob(t, e, clock, 1000)

	_, err := e.SubmitResult(ctx, provider, job.ID, testHash(0xbb))
	assert.ErrorIs(t, err, market.ErrNotProvider)
}

// --- Settle ---

func TestSettle_ConsumerAfterDisputePeriod(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	job := postTestJob(t, e, clock, 1000)
	acceptTestJob(t, e, job.ID)
	_, err := e.SubmitResult(ctx, provider, job.ID, testHash(0xbb))
	require.NoError(t, err)

	clock.Advance(testDisputePeriod)

	got, err := e.Settle(ctx, consumer, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSettled, got.Status)
	assert.Equal(t, int64(0), got.Escrow)

	// Escrow landed in the provider's vault balance
	balance, err := e.Balance(ctx, provider)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)

	// Lock released, reputation nudged up, job counted
	info, err := e.GetProviderInfo(ctx, provider)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Locked)
	assert.Equal(t, int64(market.InitialReputation+market.ReputationSettleBonus), info.Reputation)
	assert.Equal(t, int64(1), info.CompletedJobs)
}

func TestSettle_ConsumerTooEarly(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	job := postTestJob(t, e, clock, 1000)
	acceptTestJob(t, e, job.ID)
	_, err := e.SubmitResult(ctx, provider, job.ID, testHash(0xbb))
	require.NoError(t, err)

	clock.Advance(testDisputePeriod - time.Second)

	_, err = e.Settle(ctx, consumer, job.ID)
	assert.ErrorIs(t, err, market.ErrDisputePeriodNotEnded)
}

func TestSettle_ArbiterImmediately(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	job := postTestJob(t, e, clock, 1000)
	acceptTestJob(t, e, job.ID)
	_, err := e.SubmitResult(ctx, provider, job.ID, testHash(0xbb))
	require.NoError(t, err)

	got, err := e.Settle(ctx, arbiter, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSettled, got.Status)
}

func TestSettle_Stranger(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	job := postTestJob(t, e, clock, 1000)
	acceptTestJob(t, e, job.ID)
	_, err := e.SubmitResult(ctx, provider, job.ID, testHash(0xbb))
	require.NoError(t, err)

	clock.Advance(testDisputePeriod)

	_, err = e.Settle(ctx, stranger, job.ID)
	assert.ErrorIs(t, err, market.ErrNotConsumer)
}

func TestSettle_Twice(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	job := postTestJob(t, e, clock, 1000)
	acceptTestJob(t, e, job.ID)
	_, err := e.SubmitResult(ctx, provider, job.ID, testHash(0xbb))
	require.NoError(t, err)

	_, err = e.Settle(ctx, arbiter, job.ID)
	require.NoError(t, err)

	// Escrow is released exactly once
	_, err = e.Settle(ctx, arbiter, job.ID)
	assert.ErrorIs(t, err, market.ErrInvalidState)

	balance, err := e.Balance(ctx, provider)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
}

// --- Dispute ---

func TestDispute_InsideWindow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	job := postTestJob(t, e, clock, 1000)
	acceptTestJob(t, e, job.ID)
	_, err := e.SubmitResult(ctx, provider, job.ID, testHash(0xbb))
	require.NoError(t, err)

	clock.Advance(testDisputePeriod - time.Second)

	got, err := e.DisputeJob(ctx, consumer, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDisputed, got.Status)
	// Escrow stays held until arbitration
	assert.Equal(t, int64(1000), got.Escrow)
}

func TestDispute_AtBoundary(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	job := postTestJob(t, e, clock, 1000)
	acceptTestJob(t, e, job.ID)
	_, err := e.SubmitResult(ctx, provider, job.ID, testHash(0xbb))
	require.NoError(t, err)

	// Exactly at the boundary the window is closed for disputes and open
	// for settlement.
	clock.Advance(testDisputePeriod)

	_, err = e.DisputeJob(ctx, consumer, job.ID)
	assert.ErrorIs(t, err, market.ErrDisputePeriodEnded)

	_, err = e.Settle(ctx, consumer, job.ID)
	assert.NoError(t, err)
}

func TestDispute_NotConsumer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	job := postTestJob(t, e, clock, 1000)
	acceptTestJob(t, e, job.ID)
	_, err := e.SubmitResult(ctx, provider, job.ID, testHash(0xbb))
	require.NoError(t, err)

	_, err = e.DisputeJob(ctx, provider, job.ID)
	assert.ErrorIs(t, err, market.ErrNotConsumer)
}

// --- Cancel / Refund ---

func TestCancelJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, s, clock := newTestEngine(t)
	ctx := context.Background()

	job := postTestJob(t, e, clock, 1000)

	got, err := e.CancelJob(ctx, consumer, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.Equal(t, int64(0), got.Escrow)

	balance, err := e.Balance(ctx, consumer)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)

	evs, err := s.ListEvents(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, models.EventJobCancelled, evs[1].Type)
	assert.JSONEq(t,
		`{"job_id": 0, "reason": "Cancelled by consumer", "amount": 1000}`,
		string(evs[1].Payload))
}

func TestCancelJob_AfterAccept(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	job := postTestJob(t, e, clock, 1000)
	acceptTestJob(t, e, job.ID)

	_, err := e.CancelJob(ctx, consumer, job.ID)
	assert.ErrorIs(t, err, market.ErrInvalidState)
}

func TestCancelJob_NotConsumer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)

	job := postTestJob(t, e, clock, 1000)

	_, err := e.CancelJob(context.Background(), stranger, job.ID)
	assert.ErrorIs(t, err, market.ErrNotConsumer)
}

func TestRefundExpiredJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, s, clock := newTestEngine(t)
	ctx := context.Background()

	job := postTestJob(t, e, clock, 1000)
	acceptTestJob(t, e, job.ID)

	clock.Advance(24*time.Hour + time.Second)

	got, err := e.RefundExpiredJob(ctx, consumer, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)

	balance, err := e.Balance(ctx, consumer)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)

	// The provider's lock is released without a reputation change
	info, err := e.GetProviderInfo(ctx, provider)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Locked)
	assert.Equal(t, int64(market.InitialReputation), info.Reputation)
	assert.Equal(t, int64(0), info.CompletedJobs)

	evs, err := s.ListEvents(ctx, job.ID)
	require.NoError(t, err)
	last := evs[len(evs)-1]
	assert.Equal(t, models.EventJobCancelled, last.Type)
	assert.Contains(t, string(last.Payload), `"Expired"`)
}

func TestRefundExpiredJob_BeforeDeadline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	job := postTestJob(t, e, clock, 1000)
	acceptTestJob(t, e, job.ID)

	// Exactly at the deadline the job has not expired yet
	clock.Advance(24 * time.Hour)

	_, err := e.RefundExpiredJob(ctx, consumer, job.ID)
	assert.ErrorIs(t, err, market.ErrDeadlineNotPassed)
}

func TestRefundExpiredJob_OnlyConsumer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	job := postTestJob(t, e, clock, 1000)
	acceptTestJob(t, e, job.ID)
	clock.Advance(25 * time.Hour)

	_, err := e.RefundExpiredJob(ctx, stranger, job.ID)
	assert.ErrorIs(t, err, market.ErrNotConsumer)
}

// --- Full lifecycle ---

func TestLifecycle_ValueConservation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Deposit(ctx, consumer, 10_000)
	require.NoError(t, err)
	_, err = e.Deposit(ctx, provider, 10_000)
	require.NoError(t, err)
	_, err = e.Stake(ctx, provider, 5000)
	require.NoError(t, err)

	job, err := e.PostJob(ctx, consumer, testHash(0xaa), clock.Now().Add(24*time.Hour), 3000)
	require.NoError(t, err)
	_, err = e.AcceptJob(ctx, provider, job.ID)
	require.NoError(t, err)
	_, err = e.SubmitResult(ctx, provider, job.ID, testHash(0xbb))
	require.NoError(t, err)

	clock.Advance(testDisputePeriod)
	_, err = e.Settle(ctx, consumer, job.ID)
	require.NoError(t, err)

	consumerBal, err := e.Balance(ctx, consumer)
	require.NoError(t, err)
	providerBal, err := e.Balance(ctx, provider)
	require.NoError(t, err)
	info, err := e.GetProviderInfo(ctx, provider)
	require.NoError(t, err)

	assert.Equal(t, int64(7000), consumerBal)
	assert.Equal(t, int64(8000), providerBal)
	assert.Equal(t, int64(5000), info.Staked)

	// Every unit deposited is still accounted for
	assert.Equal(t, int64(20_000), consumerBal+providerBal+info.Staked)
}

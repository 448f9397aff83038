package poold

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"omnipool/core/events"
	"omnipool/core/state"
	"omnipool/crypto"
	"omnipool/native/bank"
	"omnipool/native/pool"
	"omnipool/storage"
)

type executorFixture struct {
	db       *storage.MemDB
	journal  *state.Journal
	ledger   *bank.Ledger
	engine   *pool.Engine
	executor *Executor
	sink     *events.Recorder
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	var keys []*crypto.PrivateKey
	for i := 0; i < 2; i++ {
		key, err := crypto.GeneratePrivateKey()
		require.NoError(t, err)
		keys = append(keys, key)
	}
	cfg := testPoolConfig(t, keys)
	f := &executorFixture{db: storage.NewMemDB(), sink: &events.Recorder{}}
	f.journal = state.NewJournal(f.db)
	f.ledger = bank.NewLedger(f.journal)
	var err error
	f.engine, _, err = buildEngine(cfg, f.journal, f.ledger)
	require.NoError(t, err)
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	f.executor = NewExecutor(f.engine, f.journal, WithSink(f.sink), WithClock(func() time.Time { return clock }))
	require.NoError(t, bootstrap(f.executor, cfg, f.ledger))
	f.sink.Events = nil
	return f
}

func (f *executorFixture) envelopes() []*Envelope {
	out := make([]*Envelope, 0, len(f.sink.Events))
	for _, evt := range f.sink.Events {
		if env, ok := evt.(*Envelope); ok {
			out = append(out, env)
		}
	}
	return out
}

func TestExecutorCommitsAndSequences(t *testing.T) {
	f := newExecutorFixture(t)
	before, err := f.executor.Sequence()
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		err := f.executor.Do(context.Background(), "deposit", testUser, func(ctx context.Context, engine *pool.Engine) error {
			_, err := engine.DepositToPool(ctx, testUser, pool.NativeAsset, nil, big.NewInt(100))
			return err
		})
		require.NoError(t, err)
	}

	envs := f.envelopes()
	require.Len(t, envs, 2)
	require.Equal(t, before+1, envs[0].Sequence)
	require.Equal(t, before+2, envs[1].Sequence)
	require.Equal(t, pool.EventTypeDepositToPool, envs[0].EventType())
	require.Equal(t, "2024-06-01T12:00:00Z", envs[0].Time.Format(time.RFC3339))

	after, err := f.executor.Sequence()
	require.NoError(t, err)
	require.Equal(t, before+2, after)

	// A fresh journal over the same database sees the committed writes.
	reopened := pool.NewEngine(f.engine.Instance(), f.engine.ChainID())
	reopened.SetState(state.NewJournal(f.db))
	reopened.SetAssetLedger(bank.NewLedger(state.NewJournal(f.db)))
	bal, err := reopened.PoolBalance(pool.NativeAsset)
	require.NoError(t, err)
	require.Equal(t, "200", bal.String())
}

func TestExecutorDiscardsFailedOperation(t *testing.T) {
	f := newExecutorFixture(t)
	before, err := f.executor.Sequence()
	require.NoError(t, err)
	boom := errors.New("boom")

	err = f.executor.Do(context.Background(), "deposit", testUser, func(ctx context.Context, engine *pool.Engine) error {
		if _, err := engine.DepositToPool(ctx, testUser, pool.NativeAsset, nil, big.NewInt(100)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, f.envelopes())

	bal, err := f.engine.PoolBalance(pool.NativeAsset)
	require.NoError(t, err)
	require.Zero(t, bal.Sign())
	custody, err := f.ledger.BalanceOf(testUser, pool.NativeAsset)
	require.NoError(t, err)
	require.Equal(t, "1000000", custody.String())

	after, err := f.executor.Sequence()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestExecutorRejectedOperationEmitsNothing(t *testing.T) {
	f := newExecutorFixture(t)
	err := f.executor.Do(context.Background(), "set_pool_balances", testStranger, func(_ context.Context, engine *pool.Engine) error {
		return engine.SetPoolBalances(testStranger, []common.Address{pool.NativeAsset}, []*big.Int{big.NewInt(1)})
	})
	require.ErrorIs(t, err, pool.ErrAccessDenied)
	require.Empty(t, f.envelopes())

	err = f.executor.Do(context.Background(), "set_pool_balances", testOwner, func(_ context.Context, engine *pool.Engine) error {
		return engine.SetPoolBalances(testOwner, []common.Address{pool.NativeAsset}, []*big.Int{big.NewInt(0)})
	})
	require.NoError(t, err)
	require.Len(t, f.envelopes(), 1)
}

func TestBootstrapRunsOnce(t *testing.T) {
	f := newExecutorFixture(t)
	var keys []*crypto.PrivateKey
	for i := 0; i < 2; i++ {
		key, err := crypto.GeneratePrivateKey()
		require.NoError(t, err)
		keys = append(keys, key)
	}
	require.NoError(t, bootstrap(f.executor, testPoolConfig(t, keys), f.ledger))
	custody, err := f.ledger.BalanceOf(testUser, pool.NativeAsset)
	require.NoError(t, err)
	require.Equal(t, "1000000", custody.String(), "seed balances must not be minted twice")
	owner, err := f.engine.Owner()
	require.NoError(t, err)
	require.Equal(t, testOwner, owner)
}

package api

import (
	"context"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/debt-ledger/auth"
	"github.com/warp/debt-ledger/ledger"
	"github.com/warp/debt-ledger/store/sqlite"
	"github.com/warp/debt-ledger/store/sqlstore"
)

type schedulerEnv struct {
	sched *Scheduler
	store *sqlstore.Store
	hook  *logtest.Hook
	now   time.Time
}

func newSchedulerEnv(t *testing.T) *schedulerEnv {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger, hook := logtest.NewNullLogger()
	env := &schedulerEnv{store: st, hook: hook, now: testNow}
	clock := func() time.Time { return env.now }

	ledgerSvc := ledger.NewService(st, logger, ledger.WithClock(clock))
	authSvc := auth.NewService(st, logger, time.Hour, auth.WithClock(clock))
	env.sched = NewScheduler(ledgerSvc, authSvc, logger)
	return env
}

func TestScheduler_PurgeSessions(t *testing.T) {
	env := newSchedulerEnv(t)
	ctx := context.Background()

	// GIVEN: a session that expires after one hour
	_, err := env.sched.Auth.EnsureUser(ctx, operatorPhone, "Operator", auth.RoleOperator)
	require.NoError(t, err)
	sess, _, err := env.sched.Auth.Login(ctx, operatorPhone)
	require.NoError(t, err)

	// WHEN: purging before expiry
	require.NoError(t, env.sched.PurgeSessions(ctx))
	got, err := env.store.GetSession(ctx, sess.Token)
	require.NoError(t, err)
	assert.NotNil(t, got)

	// WHEN: purging after expiry
	env.now = env.now.Add(2 * time.Hour)
	require.NoError(t, env.sched.PurgeSessions(ctx))

	// THEN: the session row is gone
	got, err = env.store.GetSession(ctx, sess.Token)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestScheduler_Digest(t *testing.T) {
	env := newSchedulerEnv(t)
	ctx := context.Background()
	_, err := LoadScenario(ctx, env.sched.Ledger, "overdue")
	require.NoError(t, err)

	digest, err := env.sched.Digest(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, digest.Count)
	assert.Equal(t, "6700000.00", ledger.FormatAmount(digest.Remaining))
	require.NotNil(t, digest.Oldest)
	assert.True(t, testNow.AddDate(0, 0, -60).Equal(*digest.Oldest))
}

func TestScheduler_RunNowLogsDigest(t *testing.T) {
	env := newSchedulerEnv(t)
	env.hook.Reset()

	require.NoError(t, env.sched.RunNow(context.Background()))

	entry := env.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "overdue digest", entry.Message)
	assert.Equal(t, 0, entry.Data["overdue_count"])
	assert.Equal(t, "0.00", entry.Data["overdue_remaining"])
}

func TestScheduler_StartStop(t *testing.T) {
	env := newSchedulerEnv(t)

	err := env.sched.Start(SchedulerConfig{SessionPurge: "every tuesday"})
	assert.Error(t, err)

	require.NoError(t, env.sched.Start(SchedulerConfig{SessionPurge: "*/15 * * * *", OverdueDigest: "0 9 * * *"}))
	assert.Error(t, env.sched.Start(SchedulerConfig{}))

	env.sched.Stop()
	env.sched.Stop()
}

package broker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-access-broker/broker"
	"github.com/jrsteele09/go-access-broker/environment"
	"github.com/jrsteele09/go-access-broker/idp"
	"github.com/jrsteele09/go-access-broker/internal/config"
	"github.com/jrsteele09/go-access-broker/internal/errors"
	"github.com/jrsteele09/go-access-broker/tokencache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testUserEmail    = "john.doe@example.com"
	testUserPassword = "password123"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type staticApps map[environment.Environment]config.Application

func (a staticApps) GetApplication(env environment.Environment) config.Application {
	return a[env]
}

var testApps = staticApps{
	environment.Dev:  {ClientID: "dev-app", Scope: "dev/.default", LoginSuffix: "@homolog.example.com"},
	environment.Hml:  {ClientID: "dev-app", Scope: "dev/.default", LoginSuffix: "@homolog.example.com"},
	environment.Prod: {ClientID: "prod-app", Scope: "prod/.default", LoginSuffix: "@example.com"},
}

// fakeExchanger mints sequential tokens and records every call.
type fakeExchanger struct {
	mu        sync.Mutex
	clientIDs []string
	err       error
	expiresIn int
	gate      chan struct{}
	seq       atomic.Int32
}

func newFakeExchanger() *fakeExchanger {
	return &fakeExchanger{expiresIn: 3600}
}

func (f *fakeExchanger) record(app config.Application) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clientIDs = append(f.clientIDs, app.ClientID)
}

func (f *fakeExchanger) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clientIDs)
}

func (f *fakeExchanger) PasswordGrant(ctx context.Context, app config.Application, username, password string) (idp.Grant, error) {
	f.record(app)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return idp.Grant{}, ctx.Err()
		}
	}
	if f.err != nil {
		return idp.Grant{}, f.err
	}
	n := strconv.Itoa(int(f.seq.Add(1)))
	return idp.Grant{
		AccessToken:  "access-" + n,
		RefreshToken: "refresh-" + n,
		ExpiresIn:    f.expiresIn,
	}, nil
}

func (f *fakeExchanger) RefreshGrant(ctx context.Context, app config.Application, refreshToken string) (idp.Grant, error) {
	f.record(app)
	if f.err != nil {
		return idp.Grant{}, f.err
	}
	return idp.Grant{AccessToken: "renewed-" + refreshToken, RefreshToken: refreshToken + "-next", ExpiresIn: f.expiresIn}, nil
}

type testFixture struct {
	clock     *clock
	cache     *tokencache.Cache
	exchanger *fakeExchanger
	metrics   *broker.Metrics
	broker    *broker.Broker
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	c := &clock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	cache := tokencache.New(tokencache.NewInMemoryRepo(), tokencache.WithNowFunc(c.Now), tokencache.WithLogger(zerolog.Nop()))
	ex := newFakeExchanger()
	m := broker.NewMetrics(prometheus.NewRegistry())

	return &testFixture{
		clock:     c,
		cache:     cache,
		exchanger: ex,
		metrics:   m,
		broker: broker.New(cache, ex, testApps,
			broker.WithNowFunc(c.Now),
			broker.WithMetrics(m),
			broker.WithLogger(zerolog.Nop())),
	}
}

func TestGetOrGenerate_MissThenHit(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	first, err := f.broker.GetOrGenerate(ctx, testUserEmail, testUserPassword, environment.Dev)
	require.NoError(t, err)
	require.False(t, first.FromCache)
	require.Equal(t, broker.StatusNew, first.Status)
	require.Equal(t, 60, first.MinutesRemaining)

	f.clock.Advance(10*time.Minute + 30*time.Second)

	second, err := f.broker.GetOrGenerate(ctx, testUserEmail, testUserPassword, environment.Dev)
	require.NoError(t, err)
	require.True(t, second.FromCache)
	require.Equal(t, broker.StatusCached, second.Status)
	require.Equal(t, first.AccessToken, second.AccessToken)
	require.Equal(t, 49, second.MinutesRemaining)

	require.Equal(t, 1, f.exchanger.totalCalls())
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Requests.WithLabelValues("dev", "new")))
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Requests.WithLabelValues("dev", "cached")))
}

func TestGetOrGenerate_ExpiringTokenIsReplaced(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	first, err := f.broker.GetOrGenerate(ctx, testUserEmail, testUserPassword, environment.Hml)
	require.NoError(t, err)

	f.clock.Advance(56 * time.Minute)

	second, err := f.broker.GetOrGenerate(ctx, testUserEmail, testUserPassword, environment.Hml)
	require.NoError(t, err)
	require.False(t, second.FromCache)
	require.NotEqual(t, first.AccessToken, second.AccessToken)
	require.Equal(t, 2, f.exchanger.totalCalls())
}

func TestGetOrGenerate_ApplicationPerEnvironment(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	for _, env := range environment.All() {
		_, err := f.broker.GetOrGenerate(ctx, testUserEmail, testUserPassword, env)
		require.NoError(t, err)
	}
	require.Equal(t, []string{"dev-app", "dev-app", "prod-app"}, f.exchanger.clientIDs)
}

func TestGetOrGenerate_FailureNotCached(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	f.exchanger.err = &idp.UpstreamError{StatusCode: 400, Code: "invalid_grant", Description: "bad password"}

	_, err := f.broker.GetOrGenerate(ctx, testUserEmail, testUserPassword, environment.Prod)
	require.ErrorIs(t, err, errors.ErrUpstreamAuth)
	require.Contains(t, err.Error(), "bad password")

	status, err := f.cache.Status(ctx, testUserEmail)
	require.NoError(t, err)
	require.False(t, status.Prod.Exists)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Requests.WithLabelValues("prod", "error")))

	f.exchanger.err = nil
	res, err := f.broker.GetOrGenerate(ctx, testUserEmail, testUserPassword, environment.Prod)
	require.NoError(t, err)
	require.False(t, res.FromCache)
}

func TestGetOrGenerate_InvalidEnvironment(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.broker.GetOrGenerate(context.Background(), testUserEmail, testUserPassword, environment.Environment("qa"))
	require.ErrorIs(t, err, errors.ErrInvalidEnvironment)
	require.Zero(t, f.exchanger.totalCalls())
}

func TestGetOrGenerate_ConcurrentMissesShareOneExchange(t *testing.T) {
	f := setupTestFixture(t)
	f.exchanger.gate = make(chan struct{})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]broker.Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.broker.GetOrGenerate(context.Background(), testUserEmail, testUserPassword, environment.Dev)
		}(i)
	}

	require.Eventually(t, func() bool { return f.exchanger.totalCalls() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.exchanger.gate)
	wg.Wait()

	require.Equal(t, 1, f.exchanger.totalCalls())
	for i, res := range results {
		require.NoError(t, errs[i])
		require.Equal(t, "access-1", res.AccessToken)
	}
}

func TestGetOrGenerate_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	f := setupTestFixture(t)
	f.exchanger.gate = make(chan struct{})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.broker.GetOrGenerate(firstCtx, testUserEmail, testUserPassword, environment.Dev)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return f.exchanger.totalCalls() == 1 }, time.Second, time.Millisecond)

	type outcome struct {
		res broker.Result
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := f.broker.GetOrGenerate(context.Background(), testUserEmail, testUserPassword, environment.Dev)
		second <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	time.Sleep(20 * time.Millisecond)
	close(f.exchanger.gate)

	got := <-second
	require.NoError(t, got.err)
	require.Equal(t, "access-1", got.res.AccessToken)
	require.NoError(t, <-firstErr)
	require.Equal(t, 1, f.exchanger.totalCalls())

	_, ok := f.cache.Get(context.Background(), testUserEmail, environment.Dev)
	require.True(t, ok)
}

func TestGetOrGenerate_ExchangeTimeout(t *testing.T) {
	f := setupTestFixture(t)
	f.exchanger.gate = make(chan struct{})
	defer close(f.exchanger.gate)

	b := broker.New(f.cache, f.exchanger, testApps,
		broker.WithExchangeTimeout(10*time.Millisecond),
		broker.WithLogger(zerolog.Nop()))

	_, err := b.GetOrGenerate(context.Background(), testUserEmail, testUserPassword, environment.Dev)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	_, ok := f.cache.Get(context.Background(), testUserEmail, environment.Dev)
	require.False(t, ok)
}

func TestRefresh(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	res, err := f.broker.Refresh(ctx, testUserEmail, "refresh-x", environment.Dev)
	require.NoError(t, err)
	require.Equal(t, broker.StatusRenewed, res.Status)
	require.Equal(t, "renewed-refresh-x", res.AccessToken)

	cached, ok := f.cache.Get(ctx, testUserEmail, environment.Dev)
	require.True(t, ok)
	require.Equal(t, "renewed-refresh-x", cached.AccessToken)

	f.exchanger.err = &idp.UpstreamError{StatusCode: 400, Code: "invalid_grant"}
	_, err = f.broker.Refresh(ctx, testUserEmail, "refresh-y", environment.Dev)
	require.ErrorIs(t, err, errors.ErrUpstreamAuth)
	require.Equal(t, 2, f.exchanger.totalCalls(), "no automatic retry")
}

func TestRefreshCached(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.broker.RefreshCached(ctx, testUserEmail, environment.Dev)
	require.ErrorIs(t, err, errors.ErrNotFound)

	first, err := f.broker.GetOrGenerate(ctx, testUserEmail, testUserPassword, environment.Dev)
	require.NoError(t, err)

	// inside the margin the slot is still usable for its refresh token
	f.clock.Advance(57 * time.Minute)
	res, err := f.broker.RefreshCached(ctx, testUserEmail, environment.Dev)
	require.NoError(t, err)
	require.Equal(t, "renewed-"+first.RefreshToken, res.AccessToken)
}

func TestWarmEnvironments(t *testing.T) {
	f := setupTestFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := f.broker.WarmEnvironments(ctx, testUserEmail, testUserPassword, environment.NonProduction())
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("warming did not finish")
	}

	status, err := f.cache.Status(context.Background(), testUserEmail)
	require.NoError(t, err)
	require.True(t, status.Dev.Exists)
	require.True(t, status.Hml.Exists)
	require.False(t, status.Prod.Exists)

	res, err := f.broker.GetOrGenerate(context.Background(), testUserEmail, testUserPassword, environment.Dev)
	require.NoError(t, err)
	require.True(t, res.FromCache)
}

func TestWarmEnvironments_DoesNotBlock(t *testing.T) {
	f := setupTestFixture(t)
	f.exchanger.gate = make(chan struct{})

	start := time.Now()
	done := f.broker.WarmEnvironments(context.Background(), testUserEmail, testUserPassword, []environment.Environment{environment.Dev})
	require.Less(t, time.Since(start), 100*time.Millisecond)

	close(f.exchanger.gate)
	<-done
}

func TestWarmEnvironments_FailuresSwallowed(t *testing.T) {
	f := setupTestFixture(t)
	f.exchanger.err = &idp.UpstreamError{Description: "down"}

	<-f.broker.WarmEnvironments(context.Background(), testUserEmail, testUserPassword, environment.NonProduction())

	status, err := f.cache.Status(context.Background(), testUserEmail)
	require.NoError(t, err)
	require.False(t, status.Dev.Exists)
	require.False(t, status.Hml.Exists)
}

func TestGetOrGenerate_InvalidGrantFromProvider(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "AADSTS50126: Error validating credentials due to invalid username or password.",
		})
	}))
	defer srv.Close()

	cache := tokencache.New(tokencache.NewInMemoryRepo(), tokencache.WithLogger(zerolog.Nop()))
	client := idp.New(srv.URL, idp.WithHTTPClient(srv.Client()), idp.WithLogger(zerolog.Nop()))
	b := broker.New(cache, client, testApps, broker.WithLogger(zerolog.Nop()))

	_, err := b.GetOrGenerate(context.Background(), "jdoe", "wrong", environment.Dev)
	require.ErrorIs(t, err, errors.ErrUpstreamAuth)

	var upstream *idp.UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Contains(t, upstream.Description, "AADSTS50126")

	status, err := cache.Status(context.Background(), "jdoe")
	require.NoError(t, err)
	require.False(t, status.Dev.Exists)
	require.EqualValues(t, 1, calls.Load())
}

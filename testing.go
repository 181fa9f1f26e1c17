package waitingroom

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bojand/hri"
	"github.com/redis/go-redis/v9"

	"github.com/antoinedelia/waiting-room/pkg/flagstore"
	"github.com/antoinedelia/waiting-room/pkg/messaging"
	"github.com/antoinedelia/waiting-room/pkg/pass"
	"github.com/antoinedelia/waiting-room/pkg/statestore"
)

const testSigningSecret = "test-signing-secret"

type TestServerOption interface {
	apply(opts *testServerOpts)
}

type TestServerOptionFunc func(*testServerOpts)

func (f TestServerOptionFunc) apply(opts *testServerOpts) {
	f(opts)
}

func WithTestServerBatchSize(size int64) TestServerOption {
	return TestServerOptionFunc(func(opts *testServerOpts) {
		opts.batchSize = size
	})
}

func WithTestServerEntryTTL(ttl time.Duration) TestServerOption {
	return TestServerOptionFunc(func(opts *testServerOpts) {
		opts.entryTTL = ttl
	})
}

type testServerOpts struct {
	batchSize int64
	entryTTL  time.Duration
}

func defaultTestServerOpts() *testServerOpts {
	return &testServerOpts{
		batchSize: DefaultBatchSize,
		entryTTL:  defaultEntryTTL,
	}
}

// TestServer runs the whole waiting room against an embedded Redis with an
// httptest frontend. The admission cycle is driven explicitly via
// TickProcessor, so tests stay sleep-independent.
type TestServer struct {
	wr         *WaitingRoom
	httpServer *httptest.Server
	mr         *miniredis.Miniredis
	signer     *pass.Signer
	flagName   string
}

func RunTestServer(t *testing.T, opts ...TestServerOption) *TestServer {
	option := defaultTestServerOpts()
	for _, o := range opts {
		o.apply(option)
	}

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	flagName := fmt.Sprintf("waiting-room-enabled-%s", hri.Random())
	if err := mr.Set(flagName, "true"); err != nil {
		t.Fatalf("failed to enable waiting room flag: %+v", err)
	}

	store := statestore.NewRedisStore(rc)
	channel := messaging.NewRedisChannel(rc, messaging.WithVisibilityTimeout(0))
	flags := flagstore.NewRedisFlagStore(rc)
	signer := pass.NewSigner([]byte(testSigningSecret))
	wr, err := NewWaitingRoom(store, channel, flags, signer,
		WithFrontendOptions(
			WithFlagName(flagName),
			WithEntryTTL(option.entryTTL),
		),
		WithProcessorOptions(
			WithBatchSize(option.batchSize),
			WithReceiveWait(0),
		),
	)
	if err != nil {
		t.Fatalf("failed to build waiting room: %+v", err)
	}

	httpServer := httptest.NewServer(NewServer(wr.FrontendService()).Handler())
	t.Cleanup(httpServer.Close)

	return &TestServer{
		wr:         wr,
		httpServer: httpServer,
		mr:         mr,
		signer:     signer,
		flagName:   flagName,
	}
}

// URL is the base URL of the frontend HTTP server.
func (ts *TestServer) URL() string {
	return ts.httpServer.URL
}

func (ts *TestServer) Frontend() *FrontendService {
	return ts.wr.FrontendService()
}

func (ts *TestServer) Signer() *pass.Signer {
	return ts.signer
}

// TickProcessor triggers one admission cycle, promoting up to one batch of
// waiting tokens.
func (ts *TestServer) TickProcessor() error {
	return ts.wr.TickProcessor(context.Background())
}

// SetFlag overrides the waiting room enable flag.
func (ts *TestServer) SetFlag(t *testing.T, value string) {
	if err := ts.mr.Set(ts.flagName, value); err != nil {
		t.Fatalf("failed to set flag: %+v", err)
	}
}

// FastForward advances the embedded Redis clock, expiring entries whose
// TTL has elapsed.
func (ts *TestServer) FastForward(d time.Duration) {
	ts.mr.FastForward(d)
}

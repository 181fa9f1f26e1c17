package waitingroom

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoinedelia/waiting-room/pkg/flagstore"
	"github.com/antoinedelia/waiting-room/pkg/statestore"
)

// TestWaitingRoomEndToEnd walks the full admission journey: join over
// HTTP, wait, get promoted, fetch the signed pass, and present it to a
// gatekeeper guarding the protected origin.
func TestWaitingRoomEndToEnd(t *testing.T) {
	ts := RunTestServer(t)

	code, body := postJoin(t, ts)
	require.Equal(t, http.StatusOK, code)
	token := body["token"].(string)

	code, body = getStatus(t, ts, token)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "WAITING", body["status"])

	require.NoError(t, ts.TickProcessor())

	code, body = getStatus(t, ts, token)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ALLOWED", body["status"])
	signed := body["jwt"].(string)

	gatekeeper := NewGatekeeper(
		flagstore.NewCached(staticFlag("true"), "waiting-room-enabled"),
		ts.Signer(),
		testWaitingRoomURL,
	)
	origin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// without the pass the origin is unreachable
	w := httptest.NewRecorder()
	gatekeeper.Handler(origin).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/checkout", nil))
	require.Equal(t, http.StatusFound, w.Code)

	// the URL pass token is exchanged for a cookie
	w = httptest.NewRecorder()
	gatekeeper.Handler(origin).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/checkout?pass_token="+signed, nil))
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/checkout", w.Header().Get("Location"))
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)

	// the cookie then grants direct access
	r := httptest.NewRequest(http.MethodGet, "/checkout", nil)
	r.AddCookie(&http.Cookie{Name: cookies[0].Name, Value: cookies[0].Value})
	w = httptest.NewRecorder()
	gatekeeper.Handler(origin).ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWaitingRoomBatchedAdmission(t *testing.T) {
	ts := RunTestServer(t, WithTestServerBatchSize(2))
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 5; i++ {
		join, err := ts.Frontend().JoinQueue(ctx)
		require.NoError(t, err)
		tokens = append(tokens, join.Token)
	}

	allowed := func() int {
		var n int
		for _, token := range tokens {
			result, err := ts.Frontend().CheckStatus(ctx, token)
			require.NoError(t, err)
			if result.Status == statestore.StatusAllowed {
				n++
			}
		}
		return n
	}

	require.NoError(t, ts.TickProcessor())
	assert.Equal(t, 2, allowed())
	require.NoError(t, ts.TickProcessor())
	assert.Equal(t, 4, allowed())
	require.NoError(t, ts.TickProcessor())
	assert.Equal(t, 5, allowed())
}

func TestWaitingRoomEntryExpiry(t *testing.T) {
	ts := RunTestServer(t, WithTestServerEntryTTL(time.Minute))
	ctx := context.Background()

	join, err := ts.Frontend().JoinQueue(ctx)
	require.NoError(t, err)

	ts.FastForward(2 * time.Minute)

	_, err = ts.Frontend().CheckStatus(ctx, join.Token)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	// the pending notification is now stale; the cycle drops it cleanly
	require.NoError(t, ts.TickProcessor())
}

func TestNewWaitingRoomWithRedis(t *testing.T) {
	wr, err := NewWaitingRoomWithRedis([]byte(testSigningSecret),
		WithProcessorOptions(WithReceiveWait(0)))
	require.NoError(t, err)
	ctx := context.Background()

	join, err := wr.FrontendService().JoinQueue(ctx)
	require.NoError(t, err)
	require.False(t, join.DirectAccess)

	require.NoError(t, wr.TickProcessor(ctx))

	result, err := wr.FrontendService().CheckStatus(ctx, join.Token)
	require.NoError(t, err)
	assert.Equal(t, statestore.StatusAllowed, result.Status)
	assert.NotEmpty(t, result.Pass)
}

package sources

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/streamfeed/server/internal/ratelimit"
	"github.com/streamfeed/server/internal/testutil"
)

func testDeps() Deps {
	return Deps{
		Limiter: ratelimit.New(0),
		Logger:  testutil.NullLogger(),
		HTTP: HTTPConfig{
			Timeout:       2 * time.Second,
			Retries:       2,
			RetryInterval: time.Millisecond,
		},
	}
}

func newUpstream(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func writeBody(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

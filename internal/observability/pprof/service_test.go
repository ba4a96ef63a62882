package pprof

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "schedd/pkg/logx"

	"github.com/stretchr/testify/require"
)

func TestHandlerStatusAndAuth(t *testing.T) {
	t.Parallel()
	s := New(Config{}, func() any { return map[string]int{"fired": 3} }, logx.Nop())
	ts := httptest.NewServer(s.Handler(Config{Token: "s3cret", Prefix: "dbg"}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"fired":3}`, string(body))

	resp, err = http.Get(ts.URL + "/dbg/?token=s3cret")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, nil, logx.Nop())
	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	require.Empty(t, s.Addr())
}

func TestLoopbackDetection(t *testing.T) {
	t.Parallel()
	require.True(t, isLoopbackAddr("127.0.0.1:6060"))
	require.True(t, isLoopbackAddr("localhost:6060"))
	require.True(t, isLoopbackAddr("[::1]:6060"))
	require.False(t, isLoopbackAddr(":6060"))
	require.False(t, isLoopbackAddr("0.0.0.0:6060"))
	require.Equal(t, "/x/", normalizePrefix("x"))
}

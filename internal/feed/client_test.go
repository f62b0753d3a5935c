package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "memebot/pkg/logx"
)

func serve(t *testing.T, status int, body string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return New(Config{Endpoint: srv.URL}, srv.Client(), logx.Nop())
}

func TestFetchOneDecodesItem(t *testing.T) {
	c := serve(t, http.StatusOK, `{"postLink":"https://redd.it/abc","subreddit":"memes","title":"t","url":"https://i.redd.it/abc.png","nsfw":false}`)
	it, err := c.FetchOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://i.redd.it/abc.png", it.URL)
	assert.Equal(t, "memes", it.Subreddit)
}

func TestFetchOneFailures(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"server error": {http.StatusInternalServerError, `oops`},
		"malformed":    {http.StatusOK, `{"url":`},
		"missing url":  {http.StatusOK, `{"title":"x"}`},
		"bad scheme":   {http.StatusOK, `{"url":"ftp://host/x.png"}`},
	}
	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			c := serve(t, tc.status, tc.body)
			_, err := c.FetchOne(context.Background())
			require.Error(t, err)
			var fe *FetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tc.status, fe.Status)
		})
	}
}

func TestFetchOneTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	c := New(Config{Endpoint: endpoint}, nil, logx.Nop())
	_, err := c.FetchOne(context.Background())
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Zero(t, fe.Status)
}

func TestNewDefaults(t *testing.T) {
	c := New(Config{}, nil, logx.Logger{})
	assert.Equal(t, DefaultEndpoint, c.Endpoint())
}

package adapter

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// pollSlack is added on top of the long-poll window for getUpdates.
const pollSlack = 10 * time.Second

// deadlineTransport bounds each Bot API call by method. telebot issues requests without a
// caller context, so this is where the configured send timeout takes effect.
type deadlineTransport struct {
	base http.RoundTripper
	send time.Duration
	poll time.Duration
}

func (t *deadlineTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	d := t.send
	if strings.HasSuffix(req.URL.Path, "/getUpdates") {
		d = t.poll
	}
	if d <= 0 {
		return t.base.RoundTrip(req)
	}
	ctx, cancel := context.WithTimeout(req.Context(), d)
	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	// The deadline covers reading the body; release it on Close.
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// newHTTPClient builds the Bot API client. The client itself has no global timeout; every
// request is bounded by deadlineTransport instead.
func newHTTPClient(base http.RoundTripper, send, poll time.Duration) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{Transport: &deadlineTransport{base: base, send: send, poll: poll + pollSlack}}
}

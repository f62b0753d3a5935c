// Package media turns a content URL into a sendable media payload.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	kit "memebot/internal/transport"
	logx "memebot/pkg/logx"
)

// ResolutionError reports that a URL could not be turned into sendable media.
type ResolutionError struct {
	URL    string
	Status int
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("resolve media %s: http=%d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("resolve media %s: %v", e.URL, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

var (
	ErrEmpty       = errors.New("empty body")
	ErrTooLarge    = errors.New("body exceeds size limit")
	ErrUnsupported = errors.New("unsupported media type")
)

type Config struct {
	Timeout  time.Duration
	MaxBytes int64
	// UnsafeMIME sniffs the type from the content when the server omits or misreports it.
	UnsafeMIME bool
}

type Resolver struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, httpClient *http.Client, log logx.Logger) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 20 << 20
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{cfg: cfg, http: httpClient, log: log}
}

// Resolve downloads rawURL and classifies it. Every failure is a *ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (kit.Media, error) {
	fail := func(status int, err error) (kit.Media, error) {
		return kit.Media{}, &ResolutionError{URL: rawURL, Status: status, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return fail(0, err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return fail(resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status))
	}
	if resp.ContentLength > r.cfg.MaxBytes {
		return fail(resp.StatusCode, ErrTooLarge)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.cfg.MaxBytes+1))
	if err != nil {
		return fail(resp.StatusCode, err)
	}
	if int64(len(data)) > r.cfg.MaxBytes {
		return fail(resp.StatusCode, ErrTooLarge)
	}
	if len(data) == 0 {
		return fail(resp.StatusCode, ErrEmpty)
	}

	mt := headerMIME(resp.Header.Get("Content-Type"))
	if !sendable(mt) {
		if !r.cfg.UnsafeMIME {
			return fail(resp.StatusCode, fmt.Errorf("%w: %q", ErrUnsupported, mt))
		}
		sniffed := mimetype.Detect(data).String()
		r.log.Debug("media type sniffed", logx.String("url", rawURL), logx.String("header", mt), logx.String("sniffed", sniffed))
		mt = headerMIME(sniffed)
	}
	if !sendable(mt) {
		return fail(resp.StatusCode, fmt.Errorf("%w: %q", ErrUnsupported, mt))
	}

	return kit.Media{
		Kind:      kindOf(mt),
		MIME:      mt,
		FileName:  fileName(rawURL, mt),
		SourceURL: rawURL,
		Data:      data,
	}, nil
}

func headerMIME(v string) string {
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return strings.ToLower(mt)
}

func sendable(mt string) bool {
	return strings.HasPrefix(mt, "image/") || strings.HasPrefix(mt, "video/")
}

func kindOf(mt string) kit.MediaKind {
	switch {
	case mt == "image/gif":
		return kit.MediaAnimation
	case strings.HasPrefix(mt, "video/"):
		return kit.MediaVideo
	default:
		return kit.MediaPhoto
	}
}

func fileName(rawURL, mt string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." && strings.Contains(base, ".") {
			return base
		}
	}
	ext := ""
	if m := mimetype.Lookup(mt); m != nil {
		ext = m.Extension()
	}
	return "media" + ext
}

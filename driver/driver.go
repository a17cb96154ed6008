// Package driver holds the platform adapters. Each file registers one
// platform with the platform package from its init function.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/whisper-darkly/sticky-watch/hls"
	"github.com/whisper-darkly/sticky-watch/platform"
)

// hlsOpener returns an Opener that reads the playlist at url as one
// continuous MPEG-TS stream.
func hlsOpener(c *platform.Client, url string, opts hls.Options) platform.Opener {
	return platform.OpenerFunc(func(ctx context.Context) (io.ReadCloser, error) {
		return hls.Open(ctx, c, url, opts)
	})
}

// classify tags a client error as fatal or transient. Errors that already
// carry a kind and context cancellation are returned unchanged. A 403 is
// transient: private rooms and geo blocks come and go.
func classify(op string, err error) error {
	var ae *platform.AdapterError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ae), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, platform.ErrAgeVerification):
		return platform.FatalError(op, err)
	default:
		return platform.TransientError(op, err)
	}
}

// postForm posts values url-encoded and returns the body. Status codes map
// like Client.Get: 403 is ErrForbidden, anything else at or above 400 is
// transient.
func postForm(ctx context.Context, c *platform.Client, op, u string, values url.Values, header http.Header) ([]byte, error) {
	h := http.Header{}
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, vs := range header {
		h[http.CanonicalHeaderKey(k)] = vs
	}
	resp, err := c.Do(ctx, http.MethodPost, u, h, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, classify(op, err)
	}
	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, classify(op, platform.ErrForbidden)
	case resp.StatusCode >= 400:
		return nil, platform.TransientError(op, fmt.Errorf("http %d", resp.StatusCode))
	}
	return resp.Body, nil
}

func withSlash(domain string) string {
	if !strings.HasSuffix(domain, "/") {
		return domain + "/"
	}
	return domain
}

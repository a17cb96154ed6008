package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
360p/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080
1080p/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720
720p/index.m3u8
`

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:2
#EXT-X-MEDIA-SEQUENCE:1
#EXTINF:2.0,
seg1.ts
`

func TestPickBest_Master(t *testing.T) {
	got, err := PickBest([]byte(masterPlaylist), "https://cdn.example/live/master.m3u8?token=abc")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/live/1080p/index.m3u8?token=abc", got)
}

func TestPickBest_Media(t *testing.T) {
	got, err := PickBest([]byte(mediaPlaylist), "https://cdn.example/live/index.m3u8")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/live/index.m3u8", got)
}

func TestPickBest_Garbage(t *testing.T) {
	_, err := PickBest([]byte("<html>nope</html>"), "https://x/")
	assert.Error(t, err)
}

func TestResolveURL(t *testing.T) {
	cases := []struct{ base, uri, want string }{
		{"https://a/b/c.m3u8", "https://z/seg.ts", "https://z/seg.ts"},
		{"https://a/b/c.m3u8?t=1", "seg.ts", "https://a/b/seg.ts?t=1"},
		{"https://a/b/c.m3u8?t=1", "seg.ts?s=2", "https://a/b/seg.ts?s=2"},
		{"https://a/b/c.m3u8", "/root/seg.ts", "https://a/root/seg.ts"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ResolveURL(tc.base, tc.uri), tc.base+" + "+tc.uri)
	}
}

func TestRegistry(t *testing.T) {
	Register("testplat", func(*Client) Adapter { return nil }, "tp")

	assert.Equal(t, "testplat", Normalize(" TP "))
	f, err := Lookup("tp")
	require.NoError(t, err)
	assert.NotNil(t, f)
	assert.Contains(t, Names(), "testplat")

	_, err = Lookup("nope")
	assert.Error(t, err)
}

func TestAdapterError(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("poll: %w", FatalError("live-detail", base))

	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "fatal: live-detail: boom")

	assert.False(t, IsFatal(TransientError("", base)))
	assert.False(t, IsFatal(base))
}

func TestClient_HeadersAndCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie("NID_AUT")
		if err != nil {
			http.Error(w, "no cookie", http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, "%s|%s|%s", r.Header.Get("User-Agent"), r.Header.Get("X-Extra"), ck.Value)
	}))
	defer srv.Close()

	c, err := NewClient(ClientOptions{
		Headers: map[string]string{"User-Agent": "Chrome"},
		Cookies: "NID_AUT=abc; NID_SES=def",
	})
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, http.Header{"X-Extra": {"1"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Chrome|1|abc", string(resp.Body))
}

func TestClient_GetSentinels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cf":
			io.WriteString(w, "<html><title>Just a moment...</title></html>")
		case "/age":
			io.WriteString(w, "Verify your age")
		case "/403":
			w.WriteHeader(http.StatusForbidden)
		case "/404":
			w.WriteHeader(http.StatusNotFound)
		case "/500":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			io.WriteString(w, "ok")
		}
	}))
	defer srv.Close()

	c, err := NewClient(ClientOptions{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Get(ctx, srv.URL+"/cf")
	assert.ErrorIs(t, err, ErrCloudflareBlocked)
	_, err = c.Get(ctx, srv.URL+"/age")
	assert.ErrorIs(t, err, ErrAgeVerification)
	_, err = c.Get(ctx, srv.URL+"/403")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = c.Get(ctx, srv.URL+"/404")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Get(ctx, srv.URL+"/500")
	assert.Error(t, err)

	body, err := c.Get(ctx, srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestClient_ConnectionErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, err := NewClient(ClientOptions{Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.Do(context.Background(), http.MethodGet, addr, nil, nil)
	var ae *AdapterError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, Transient, ae.Kind)
}

func TestClient_CancelledIsNotTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := NewClient(ClientOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Do(ctx, http.MethodGet, srv.URL, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	var ae *AdapterError
	assert.False(t, errors.As(err, &ae))
}

func TestNewClient_Proxy(t *testing.T) {
	for _, p := range []string{"http://127.0.0.1:8080", "socks5://127.0.0.1:1080", "socks5h://user:pw@127.0.0.1:1080"} {
		_, err := NewClient(ClientOptions{Proxy: p})
		assert.NoError(t, err, p)
	}
	_, err := NewClient(ClientOptions{Proxy: "ftp://127.0.0.1"})
	assert.Error(t, err)
}

func TestLiveStatusString(t *testing.T) {
	assert.Equal(t, "live", StatusLive.String())
	assert.Equal(t, "offline", StatusOffline.String())
	assert.Equal(t, "unknown", StatusUnknown.String())
}

func TestDescriptorOpen(t *testing.T) {
	d := &StreamDescriptor{URL: "x"}
	_, err := d.Open(context.Background())
	assert.Error(t, err)

	d.Opener = OpenerFunc(func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("data")), nil
	})
	rc, err := d.Open(context.Background())
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "data", string(b))
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "line one line two", CleanTitle("line one\nline two \r\n"))
	assert.Equal(t, "a b", CleanTitle("a\tb　"))
}

package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeFetcher serves playlists from a queue (the last one repeats) and
// segments from a map.
type fakeFetcher struct {
	mu        sync.Mutex
	playlists map[string][]string
	segments  map[string]string
	gets      map[string]int
}

func (f *fakeFetcher) Get(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gets == nil {
		f.gets = map[string]int{}
	}
	q, ok := f.playlists[url]
	if !ok {
		return nil, fmt.Errorf("404 %s", url)
	}
	i := min(f.gets[url], len(q)-1)
	f.gets[url]++
	return []byte(q[i]), nil
}

func (f *fakeFetcher) OpenStream(_ context.Context, url string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.segments[url]
	if !ok {
		return nil, errors.New("segment missing")
	}
	return io.NopCloser(strings.NewReader(s)), nil
}

func media(seq int, closed bool, segs ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:1\n#EXT-X-MEDIA-SEQUENCE:%d\n", seq)
	for _, s := range segs {
		fmt.Fprintf(&b, "#EXTINF:1.0,\n%s\n", s)
	}
	if closed {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

func TestReader_EndList(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := &fakeFetcher{
		playlists: map[string][]string{
			"https://cdn/live/index.m3u8": {media(0, true, "a.ts", "b.ts", "c.ts", "d.ts")},
		},
		segments: map[string]string{
			"https://cdn/live/a.ts": "A", "https://cdn/live/b.ts": "B",
			"https://cdn/live/c.ts": "C", "https://cdn/live/d.ts": "D",
		},
	}

	r, err := Open(context.Background(), f, "https://cdn/live/index.m3u8", Options{Reload: 10 * time.Millisecond})
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "ABCD", string(got))
}

func TestReader_LiveSequenceOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := &fakeFetcher{
		playlists: map[string][]string{
			"https://cdn/master.m3u8": {"#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=100\nlow.m3u8\n#EXT-X-STREAM-INF:BANDWIDTH=900\nhigh.m3u8\n"},
			"https://cdn/high.m3u8": {
				media(10, false, "s10.ts", "s11.ts"),
				media(11, false, "s11.ts", "s12.ts"),
				media(12, true, "s12.ts", "s13.ts"),
			},
		},
		segments: map[string]string{
			"https://cdn/s10.ts": "10,", "https://cdn/s11.ts": "11,",
			"https://cdn/s12.ts": "12,", "https://cdn/s13.ts": "13,",
		},
	}

	r, err := Open(context.Background(), f, "https://cdn/master.m3u8", Options{Reload: 5 * time.Millisecond})
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "10,11,12,13,", string(got))
}

func TestReader_StartsAtLiveEdge(t *testing.T) {
	defer goleak.VerifyNone(t)

	segs := []string{"s0.ts", "s1.ts", "s2.ts", "s3.ts", "s4.ts"}
	f := &fakeFetcher{
		playlists: map[string][]string{
			"https://cdn/index.m3u8": {media(0, false, segs...), media(0, true, segs...)},
		},
		segments: map[string]string{},
	}
	for i, s := range segs {
		f.segments["https://cdn/"+s] = fmt.Sprint(i)
	}

	r, err := Open(context.Background(), f, "https://cdn/index.m3u8", Options{LiveEdge: 2, Reload: 5 * time.Millisecond})
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "34", string(got))
}

func TestReader_Stalled(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := &fakeFetcher{
		playlists: map[string][]string{"https://cdn/index.m3u8": {media(0, false, "a.ts")}},
		segments:  map[string]string{"https://cdn/a.ts": "A"},
	}

	r, err := Open(context.Background(), f, "https://cdn/index.m3u8", Options{
		Reload:       5 * time.Millisecond,
		StallTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	assert.ErrorIs(t, err, ErrStalled)
	assert.Equal(t, "A", string(got))
}

func TestReader_CloseUnblocks(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := &fakeFetcher{
		playlists: map[string][]string{"https://cdn/index.m3u8": {media(0, false, "a.ts")}},
		segments:  map[string]string{"https://cdn/a.ts": "A"},
	}
	r, err := Open(context.Background(), f, "https://cdn/index.m3u8", Options{Reload: time.Hour})
	require.NoError(t, err)

	buf := make([]byte, 1)
	_, err = r.Read(buf)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	_, err = r.Read(buf)
	assert.Error(t, err)
}

func TestOpen_Unreachable(t *testing.T) {
	f := &fakeFetcher{playlists: map[string][]string{}}
	_, err := Open(context.Background(), f, "https://cdn/missing.m3u8", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to open URL")
}

func fmp4(seq int, closed bool, lines ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#EXTM3U\n#EXT-X-VERSION:7\n#EXT-X-TARGETDURATION:1\n#EXT-X-MEDIA-SEQUENCE:%d\n", seq)
	for _, l := range lines {
		if strings.HasPrefix(l, "#") {
			b.WriteString(l + "\n")
			continue
		}
		fmt.Fprintf(&b, "#EXTINF:1.0,\n%s\n", l)
	}
	if closed {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

func TestReader_InitSection(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := &fakeFetcher{
		playlists: map[string][]string{
			"https://cdn/index.m3u8": {fmp4(0, true, `#EXT-X-MAP:URI="init.mp4"`, "s0.m4s", "s1.m4s")},
			"https://cdn/init.mp4":   {"INIT"},
		},
		segments: map[string]string{"https://cdn/s0.m4s": "S0", "https://cdn/s1.m4s": "S1"},
	}

	r, err := Open(context.Background(), f, "https://cdn/index.m3u8", Options{Reload: 5 * time.Millisecond})
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "INITS0S1", string(got))
}

func TestReader_InitSectionAtLiveEdgeOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := &fakeFetcher{
		playlists: map[string][]string{
			"https://cdn/index.m3u8": {
				fmp4(0, false, `#EXT-X-MAP:URI="init.mp4"`, "s0.m4s", "s1.m4s", "s2.m4s"),
				fmp4(1, true, `#EXT-X-MAP:URI="init.mp4"`, "s1.m4s", "s2.m4s", "s3.m4s"),
			},
			"https://cdn/init.mp4": {"INIT"},
		},
		segments: map[string]string{
			"https://cdn/s0.m4s": "S0", "https://cdn/s1.m4s": "S1",
			"https://cdn/s2.m4s": "S2", "https://cdn/s3.m4s": "S3",
		},
	}

	r, err := Open(context.Background(), f, "https://cdn/index.m3u8", Options{LiveEdge: 1, Reload: 5 * time.Millisecond})
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "INITS2S3", string(got))
}

func TestReader_InitSectionChanges(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := &fakeFetcher{
		playlists: map[string][]string{
			"https://cdn/index.m3u8": {fmp4(0, true,
				`#EXT-X-MAP:URI="a.mp4"`, "a0.m4s", "a1.m4s",
				`#EXT-X-MAP:URI="b.mp4"`, "b0.m4s")},
			"https://cdn/a.mp4": {"IA"},
			"https://cdn/b.mp4": {"IB"},
		},
		segments: map[string]string{"https://cdn/a0.m4s": "a0", "https://cdn/a1.m4s": "a1", "https://cdn/b0.m4s": "b0"},
	}

	r, err := Open(context.Background(), f, "https://cdn/index.m3u8", Options{Reload: 5 * time.Millisecond})
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "IAa0a1IBb0", string(got))
}

func TestReader_InitSectionByteRange(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := &fakeFetcher{
		playlists: map[string][]string{
			"https://cdn/index.m3u8": {fmp4(0, true, `#EXT-X-MAP:URI="init.mp4",BYTERANGE="4@2"`, "s0.m4s")},
			"https://cdn/init.mp4":   {"xxINITyy"},
		},
		segments: map[string]string{"https://cdn/s0.m4s": "S0"},
	}

	r, err := Open(context.Background(), f, "https://cdn/index.m3u8", Options{Reload: 5 * time.Millisecond})
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "INITS0", string(got))
}

func TestOpen_EncryptedRejected(t *testing.T) {
	f := &fakeFetcher{
		playlists: map[string][]string{
			"https://cdn/index.m3u8": {fmp4(0, true, `#EXT-X-KEY:METHOD=AES-128,URI="key.bin"`, "s0.ts")},
		},
	}
	_, err := Open(context.Background(), f, "https://cdn/index.m3u8", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEncrypted)
	assert.Contains(t, err.Error(), "unable to open URL")
}

func TestOpen_KeyMethodNoneAccepted(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := &fakeFetcher{
		playlists: map[string][]string{
			"https://cdn/index.m3u8": {fmp4(0, true, `#EXT-X-KEY:METHOD=NONE`, "s0.ts")},
		},
		segments: map[string]string{"https://cdn/s0.ts": "S0"},
	}
	r, err := Open(context.Background(), f, "https://cdn/index.m3u8", Options{Reload: 5 * time.Millisecond})
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "S0", string(got))
}

// Package hls reads a live HLS stream as one continuous MPEG-TS byte stream.
package hls

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/grafov/m3u8"
	"golang.org/x/time/rate"

	"github.com/whisper-darkly/sticky-watch/platform"
)

// ErrStalled is returned by Read when the playlist stopped producing new
// segments for longer than the stall timeout.
var ErrStalled = errors.New("stream segment timeout: no data returned from stream")

// ErrEncrypted is returned for playlists whose segments carry an EXT-X-KEY.
var ErrEncrypted = errors.New("encrypted segments are not supported")

// Fetcher is the HTTP surface the reader needs. *platform.Client implements it.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
	OpenStream(ctx context.Context, url string) (io.ReadCloser, error)
}

// Options tunes playlist handling.
type Options struct {
	LiveEdge     int           // segments behind the live edge to start at (default 3)
	StallTimeout time.Duration // give up when no new segment appears (default 60s)
	Reload       time.Duration // fixed reload interval; 0 = half the target duration
}

func (o Options) withDefaults() Options {
	if o.LiveEdge <= 0 {
		o.LiveEdge = 3
	}
	if o.StallTimeout <= 0 {
		o.StallTimeout = 60 * time.Second
	}
	return o
}

// Reader streams segment bytes in playlist order. Each segment is emitted at
// most once. Read returns io.EOF after #EXT-X-ENDLIST.
type Reader struct {
	pr     *io.PipeReader
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Open resolves url (master or media playlist) and starts reading segments.
// The first playlist fetch happens synchronously so unreachable streams fail
// here rather than on the first Read.
func Open(ctx context.Context, f Fetcher, url string, opts Options) (*Reader, error) {
	opts = opts.withDefaults()

	body, err := f.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("unable to open URL %s: %w", url, err)
	}
	mediaURL, err := platform.PickBest(body, url)
	if err != nil {
		return nil, fmt.Errorf("unable to open URL %s: %w", url, err)
	}
	if mediaURL != url {
		if body, err = f.Get(ctx, mediaURL); err != nil {
			return nil, fmt.Errorf("unable to open URL %s: %w", mediaURL, err)
		}
	}
	first, err := decodeMedia(body)
	if err != nil {
		return nil, fmt.Errorf("unable to open URL %s: %w", mediaURL, err)
	}
	if err := checkKey(first); err != nil {
		return nil, fmt.Errorf("unable to open URL %s: %w", mediaURL, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	r := &Reader{pr: pr, cancel: cancel, done: make(chan struct{})}

	l := &loop{f: f, url: mediaURL, opts: opts, pw: pw}
	go func() {
		defer close(r.done)
		pw.CloseWithError(l.run(ctx, first))
	}()
	return r, nil
}

func (r *Reader) Read(p []byte) (int, error) { return r.pr.Read(p) }

// Close stops the reader and waits for its goroutine. Safe to call more
// than once and concurrently with Read.
func (r *Reader) Close() error {
	r.once.Do(func() {
		r.cancel()
		r.pr.Close()
		<-r.done
	})
	return nil
}

type loop struct {
	f    Fetcher
	url  string
	opts Options
	pw   *io.PipeWriter

	started bool
	last    uint64
	initMap string // last emitted init section, see mapID
}

func (l *loop) run(ctx context.Context, mp *m3u8.MediaPlaylist) error {
	limiter := rate.NewLimiter(rate.Every(l.reloadInterval(mp)), 1)
	// The first playlist is already in hand.
	limiter.Reserve()
	lastNew := time.Now()

	for {
		n, err := l.emit(ctx, mp)
		if err != nil {
			return err
		}
		if n > 0 {
			lastNew = time.Now()
		}
		if mp.Closed {
			return nil
		}
		if time.Since(lastNew) > l.opts.StallTimeout {
			return ErrStalled
		}

		limiter.SetLimit(rate.Every(l.reloadInterval(mp)))
		if err := limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}

		body, err := l.f.Get(ctx, l.url)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Keep the previous playlist; the stall timer decides when to give up.
			continue
		}
		next, err := decodeMedia(body)
		if err != nil {
			continue
		}
		if err := checkKey(next); err != nil {
			return fmt.Errorf("unable to open URL %s: %w", l.url, err)
		}
		mp = next
	}
}

// emit writes every segment newer than the last emitted one and returns how
// many were written. A segment's init section (EXT-X-MAP) is written before
// it whenever it differs from the last one written.
func (l *loop) emit(ctx context.Context, mp *m3u8.MediaPlaylist) (int, error) {
	segs := segments(mp)
	start := 0
	if !l.started && !mp.Closed && len(segs) > l.opts.LiveEdge {
		start = len(segs) - l.opts.LiveEdge
	}

	n := 0
	current := mp.Map
	for i := 0; i < len(segs); i++ {
		if segs[i].Map != nil {
			current = segs[i].Map
		}
		seq := mp.SeqNo + uint64(i)
		if i < start || (l.started && seq <= l.last) {
			continue
		}
		if err := l.writeInit(ctx, current); err != nil {
			return n, err
		}
		if err := l.copySegment(ctx, platform.ResolveURL(l.url, segs[i].URI)); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.ErrClosedPipe) {
				return n, err
			}
			// A missing segment is skipped; the stream continues with the next one.
		}
		l.started = true
		l.last = seq
		n++
	}
	return n, nil
}

func (l *loop) writeInit(ctx context.Context, m *m3u8.Map) error {
	if m == nil || m.URI == "" {
		return nil
	}
	url := platform.ResolveURL(l.url, m.URI)
	id := mapID(url, m)
	if id == l.initMap {
		return nil
	}
	body, err := l.f.Get(ctx, url)
	if err != nil {
		return fmt.Errorf("fetch init section %s: %w", url, err)
	}
	if m.Limit > 0 {
		if m.Offset+m.Limit > int64(len(body)) {
			return fmt.Errorf("init section %s: byte range %d@%d out of bounds", url, m.Limit, m.Offset)
		}
		body = body[m.Offset : m.Offset+m.Limit]
	}
	if _, err := l.pw.Write(body); err != nil {
		return err
	}
	l.initMap = id
	return nil
}

func mapID(url string, m *m3u8.Map) string {
	return fmt.Sprintf("%s@%d:%d", url, m.Offset, m.Limit)
}

// checkKey rejects playlists with encrypted segments.
func checkKey(mp *m3u8.MediaPlaylist) error {
	encrypted := func(k *m3u8.Key) bool {
		return k != nil && k.Method != "" && k.Method != "NONE"
	}
	if encrypted(mp.Key) {
		return fmt.Errorf("%w (method %s)", ErrEncrypted, mp.Key.Method)
	}
	for _, s := range segments(mp) {
		if encrypted(s.Key) {
			return fmt.Errorf("%w (method %s)", ErrEncrypted, s.Key.Method)
		}
	}
	return nil
}

func (l *loop) copySegment(ctx context.Context, url string) error {
	body, err := l.f.OpenStream(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()
	_, err = io.Copy(l.pw, body)
	return err
}

func (l *loop) reloadInterval(mp *m3u8.MediaPlaylist) time.Duration {
	if l.opts.Reload > 0 {
		return l.opts.Reload
	}
	d := time.Duration(float64(mp.TargetDuration) * float64(time.Second) / 2)
	return max(d, 500*time.Millisecond)
}

func decodeMedia(body []byte) (*m3u8.MediaPlaylist, error) {
	p, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return nil, fmt.Errorf("decode media playlist: %w", err)
	}
	mp, ok := p.(*m3u8.MediaPlaylist)
	if listType != m3u8.MEDIA || !ok {
		return nil, fmt.Errorf("expected media playlist")
	}
	return mp, nil
}

func segments(mp *m3u8.MediaPlaylist) []*m3u8.MediaSegment {
	out := make([]*m3u8.MediaSegment, 0, mp.Count())
	for _, s := range mp.Segments {
		if s == nil {
			break
		}
		out = append(out, s)
	}
	return out
}

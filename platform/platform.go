package platform

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode"
)

// LiveStatus is the result of a single live-status check.
type LiveStatus int

const (
	// StatusUnknown is returned together with a non-nil error.
	StatusUnknown LiveStatus = iota
	StatusOffline
	StatusLive
)

func (s LiveStatus) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusLive:
		return "live"
	default:
		return "unknown"
	}
}

// Opener opens the readable byte source behind a stream descriptor.
type Opener interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context) (io.ReadCloser, error)

func (f OpenerFunc) Open(ctx context.Context) (io.ReadCloser, error) { return f(ctx) }

// StreamDescriptor is a resolved, playable stream. It is only valid for the
// capture attempt it was resolved for.
type StreamDescriptor struct {
	URL        string // playlist URL handed to the opener
	Title      string
	Format     string // native container without the dot, e.g. "ts"
	Adult      bool
	Restricted bool
	Opener     Opener
}

// Open opens the stream for reading.
func (d *StreamDescriptor) Open(ctx context.Context) (io.ReadCloser, error) {
	if d.Opener == nil {
		return nil, fmt.Errorf("stream %s has no opener", d.URL)
	}
	return d.Opener.Open(ctx)
}

// Adapter is the capability set a platform implementation provides to the
// recorder engine.
type Adapter interface {
	// Name returns the canonical platform name (e.g. "chzzk").
	Name() string

	// NativeFormat is the container the platform delivers, without the dot.
	NativeFormat() string

	// ChannelURL returns the stable public URL of a channel. It is used as the
	// recording key so that at most one capture per channel runs at a time.
	ChannelURL(id string) string

	// ResolveIdentity maps a human-readable channel name to the platform's
	// canonical ID. Inputs that already are IDs are returned unchanged.
	// Returns ErrChannelNotFound when no exact match exists.
	ResolveIdentity(ctx context.Context, nameOrID string) (string, error)

	// Status reports whether the channel is live.
	Status(ctx context.Context, id string) (LiveStatus, error)

	// Title returns the current stream title.
	Title(ctx context.Context, id string) (string, error)

	// Stream resolves a playable stream. It returns (nil, nil) when the
	// channel is live but no playable rendition was found.
	Stream(ctx context.Context, id string) (*StreamDescriptor, error)
}

// Namer is implemented by adapters that can look up a channel's display
// name from its ID.
type Namer interface {
	ChannelName(ctx context.Context, id string) (string, error)
}

// Factory builds an adapter bound to an HTTP client. Adapters hold no state
// beyond the client, so recreating the client means calling the factory again.
type Factory func(c *Client) Adapter

var (
	factories = map[string]Factory{}
	aliases   = map[string]string{}
)

// Register adds a platform factory under its canonical name and any aliases.
// Intended to be called from init functions.
func Register(name string, f Factory, alias ...string) {
	name = strings.ToLower(name)
	factories[name] = f
	for _, a := range alias {
		aliases[strings.ToLower(a)] = name
	}
}

// Normalize returns the canonical platform name for a name or alias.
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[n]; ok {
		return canonical
	}
	return n
}

// Lookup returns the factory registered for a platform name or alias.
func Lookup(name string) (Factory, error) {
	f, ok := factories[Normalize(name)]
	if !ok {
		return nil, fmt.Errorf("unknown platform %q (available: %v)", name, Names())
	}
	return f, nil
}

// Names returns the registered platform names in sorted order.
func Names() []string {
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var titleBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", " ")

// CleanTitle trims trailing whitespace from a broadcast title and flattens
// line breaks and tabs to spaces.
func CleanTitle(s string) string {
	return titleBreaks.Replace(strings.TrimRightFunc(s, unicode.IsSpace))
}

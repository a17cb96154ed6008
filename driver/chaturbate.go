package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/whisper-darkly/sticky-watch/hls"
	"github.com/whisper-darkly/sticky-watch/platform"
)

const chaturbateDefaultDomain = "https://chaturbate.com/"

func init() {
	platform.Register("chaturbate", func(c *platform.Client) platform.Adapter { return NewChaturbate(c) }, "cb")
}

// Chaturbate implements platform.Adapter for chaturbate.com. Room names are
// the channel IDs.
type Chaturbate struct {
	client *platform.Client
	Domain string
	HLS    hls.Options
}

// NewChaturbate returns an adapter bound to c.
func NewChaturbate(c *platform.Client) *Chaturbate {
	return &Chaturbate{client: c, Domain: chaturbateDefaultDomain}
}

func (c *Chaturbate) Name() string                { return "chaturbate" }
func (c *Chaturbate) NativeFormat() string        { return "ts" }
func (c *Chaturbate) ChannelURL(id string) string { return withSlash(chaturbateDefaultDomain) + id + "/" }

type roomDossier struct {
	HLSSource  string `json:"hls_source"`
	RoomStatus string `json:"room_status"`
	RoomTitle  string `json:"room_title"`
}

// ResolveIdentity checks that the room page exists.
func (c *Chaturbate) ResolveIdentity(ctx context.Context, room string) (string, error) {
	if _, err := c.client.Get(ctx, withSlash(c.Domain)+room); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return "", fmt.Errorf("%q: %w", room, platform.ErrChannelNotFound)
		}
		return "", classify("room", err)
	}
	return room, nil
}

func (c *Chaturbate) Status(ctx context.Context, room string) (platform.LiveStatus, error) {
	d, err := c.dossier(ctx, room)
	if err != nil {
		return platform.StatusUnknown, err
	}
	if d == nil || d.HLSSource == "" {
		return platform.StatusOffline, nil
	}
	return platform.StatusLive, nil
}

func (c *Chaturbate) Title(ctx context.Context, room string) (string, error) {
	d, err := c.dossier(ctx, room)
	if err != nil || d == nil {
		return "", err
	}
	return platform.CleanTitle(d.RoomTitle), nil
}

func (c *Chaturbate) Stream(ctx context.Context, room string) (*platform.StreamDescriptor, error) {
	d, err := c.dossier(ctx, room)
	if err != nil || d == nil || d.HLSSource == "" {
		return nil, err
	}
	return &platform.StreamDescriptor{
		URL:    d.HLSSource,
		Title:  platform.CleanTitle(d.RoomTitle),
		Format: c.NativeFormat(),
		Adult:  true,
		Opener: hlsOpener(c.client, d.HLSSource, c.HLS),
	}, nil
}

// dossier scrapes window.initialRoomDossier from the room page. It returns
// nil when the page carries no playlist at all.
func (c *Chaturbate) dossier(ctx context.Context, room string) (*roomDossier, error) {
	b, err := c.client.Get(ctx, withSlash(c.Domain)+room)
	if err != nil {
		return nil, classify("room", err)
	}
	body := string(b)
	if !strings.Contains(body, "playlist.m3u8") {
		return nil, nil
	}

	const prefix = `window.initialRoomDossier = "`
	idx := strings.Index(body, prefix)
	if idx == -1 {
		return nil, platform.TransientError("room", fmt.Errorf("room dossier not found in page"))
	}
	start := idx + len(prefix)
	end := strings.Index(body[start:], `"`)
	if end == -1 {
		return nil, platform.TransientError("room", fmt.Errorf("room dossier end quote not found"))
	}

	decoded := strings.NewReplacer(
		`\u0022`, `"`,
		`\u0027`, `'`,
		`\/`, `/`,
		`\\`, `\`,
	).Replace(body[start : start+end])

	var d roomDossier
	if err := json.Unmarshal([]byte(decoded), &d); err != nil {
		return nil, platform.TransientError("room", fmt.Errorf("parse room dossier: %w", err))
	}
	if d.RoomStatus == "private" || d.RoomStatus == "hidden" {
		d.HLSSource = ""
	}
	return &d, nil
}

package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"github.com/whisper-darkly/sticky-watch/hls"
	"github.com/whisper-darkly/sticky-watch/platform"
)

const (
	chzzkAPI  = "https://api.chzzk.naver.com"
	chzzkLive = "https://chzzk.naver.com/live/"
)

var chzzkID = regexp.MustCompile(`^[0-9a-f]{32}$`)

func init() {
	platform.Register("chzzk", func(c *platform.Client) platform.Adapter { return NewChzzk(c) }, "chz", "naver")
}

// Chzzk implements platform.Adapter for chzzk.naver.com.
type Chzzk struct {
	client  *platform.Client
	APIBase string
	HLS     hls.Options
}

// NewChzzk returns an adapter bound to c.
func NewChzzk(c *platform.Client) *Chzzk {
	return &Chzzk{client: c, APIBase: chzzkAPI}
}

func (z *Chzzk) Name() string                { return "chzzk" }
func (z *Chzzk) NativeFormat() string        { return "ts" }
func (z *Chzzk) ChannelURL(id string) string { return chzzkLive + id }

type chzzkDetail struct {
	Content *struct {
		Status           string `json:"status"`
		LiveTitle        string `json:"liveTitle"`
		Adult            bool   `json:"adult"`
		UserAdultStatus  string `json:"userAdultStatus"`
		LivePlaybackJSON string `json:"livePlaybackJson"`
		Channel          struct {
			ChannelID   string `json:"channelId"`
			ChannelName string `json:"channelName"`
		} `json:"channel"`
	} `json:"content"`
}

type chzzkPlayback struct {
	Media []struct {
		MediaID string `json:"mediaId"`
		Path    string `json:"path"`
	} `json:"media"`
}

// ResolveIdentity returns 32-character hex inputs unchanged and otherwise
// searches channels by name, accepting only an exact match.
func (z *Chzzk) ResolveIdentity(ctx context.Context, nameOrID string) (string, error) {
	if chzzkID.MatchString(nameOrID) {
		return nameOrID, nil
	}

	u := fmt.Sprintf("%s/service/v1/search/channels?keyword=%s&size=10", z.APIBase, url.QueryEscape(nameOrID))
	resp, err := z.client.Do(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%q: %w", nameOrID, platform.ErrChannelNotFound)
	}
	if resp.StatusCode >= 400 {
		return "", platform.TransientError("search", fmt.Errorf("http %d", resp.StatusCode))
	}

	var res struct {
		Content struct {
			Data []struct {
				Channel struct {
					ChannelID   string `json:"channelId"`
					ChannelName string `json:"channelName"`
				} `json:"channel"`
			} `json:"data"`
		} `json:"content"`
	}
	if err := json.Unmarshal(resp.Body, &res); err != nil {
		return "", platform.TransientError("search", fmt.Errorf("decode: %w", err))
	}
	for _, d := range res.Content.Data {
		if d.Channel.ChannelName == nameOrID && d.Channel.ChannelID != "" {
			return d.Channel.ChannelID, nil
		}
	}
	return "", fmt.Errorf("%q: %w", nameOrID, platform.ErrChannelNotFound)
}

// ChannelName returns the display name reported by live-detail.
func (z *Chzzk) ChannelName(ctx context.Context, id string) (string, error) {
	d, err := z.liveDetail(ctx, id)
	if err != nil {
		return "", err
	}
	if d.Content == nil || d.Content.Channel.ChannelName == "" {
		return "", platform.TransientError("live-detail", fmt.Errorf("channel name missing"))
	}
	return d.Content.Channel.ChannelName, nil
}

func (z *Chzzk) Status(ctx context.Context, id string) (platform.LiveStatus, error) {
	d, err := z.liveDetail(ctx, id)
	if err != nil {
		return platform.StatusUnknown, err
	}
	if d.Content == nil || d.Content.Status != "OPEN" {
		return platform.StatusOffline, nil
	}
	if err := d.restricted(); err != nil {
		return platform.StatusUnknown, err
	}
	return platform.StatusLive, nil
}

func (z *Chzzk) Title(ctx context.Context, id string) (string, error) {
	d, err := z.liveDetail(ctx, id)
	if err != nil {
		return "", err
	}
	if d.Content == nil {
		return "", platform.TransientError("live-detail", fmt.Errorf("content missing"))
	}
	return platform.CleanTitle(d.Content.LiveTitle), nil
}

func (z *Chzzk) Stream(ctx context.Context, id string) (*platform.StreamDescriptor, error) {
	d, err := z.liveDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Content == nil || d.Content.LivePlaybackJSON == "" {
		if err := d.restricted(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	var pb chzzkPlayback
	if err := json.Unmarshal([]byte(d.Content.LivePlaybackJSON), &pb); err != nil {
		return nil, platform.TransientError("live-detail", fmt.Errorf("decode playback: %w", err))
	}
	for _, m := range pb.Media {
		if m.MediaID != "HLS" || m.Path == "" {
			continue
		}
		return &platform.StreamDescriptor{
			URL:        m.Path,
			Title:      platform.CleanTitle(d.Content.LiveTitle),
			Format:     z.NativeFormat(),
			Adult:      d.Content.Adult,
			Restricted: d.Content.Adult && d.Content.UserAdultStatus != "ADULT",
			Opener:     hlsOpener(z.client, m.Path, z.HLS),
		}, nil
	}
	return nil, nil
}

// restricted reports an adult broadcast the configured account may not watch.
func (d *chzzkDetail) restricted() error {
	c := d.Content
	if c == nil || !c.Adult || c.UserAdultStatus == "ADULT" || c.LivePlaybackJSON != "" {
		return nil
	}
	return platform.FatalError("live-detail", fmt.Errorf("%w (user adult status %q)", platform.ErrAgeVerification, c.UserAdultStatus))
}

func (z *Chzzk) liveDetail(ctx context.Context, id string) (*chzzkDetail, error) {
	u := fmt.Sprintf("%s/service/v2/channels/%s/live-detail", z.APIBase, id)
	resp, err := z.client.Do(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, platform.FatalError("live-detail", fmt.Errorf("http %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, platform.TransientError("live-detail", fmt.Errorf("http %d", resp.StatusCode))
	}

	var d chzzkDetail
	if err := json.Unmarshal(resp.Body, &d); err != nil {
		return nil, platform.TransientError("live-detail", fmt.Errorf("decode: %w", err))
	}
	return &d, nil
}

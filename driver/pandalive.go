package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/whisper-darkly/sticky-watch/hls"
	"github.com/whisper-darkly/sticky-watch/platform"
)

const (
	pandaAPI    = "https://api.pandalive.co.kr"
	pandaPlay   = "https://www.pandalive.co.kr/live/play/"
	pandaDevice = `{"t":"webMobile","v":"1.0","ui":0}`
)

func init() {
	platform.Register("pandalive", func(c *platform.Client) platform.Adapter { return NewPandalive(c) }, "panda")
}

// Pandalive implements platform.Adapter for pandalive.co.kr.
type Pandalive struct {
	client  *platform.Client
	APIBase string
	HLS     hls.Options
}

// NewPandalive returns an adapter bound to c.
func NewPandalive(c *platform.Client) *Pandalive {
	return &Pandalive{client: c, APIBase: pandaAPI}
}

func (p *Pandalive) Name() string                { return "pandalive" }
func (p *Pandalive) NativeFormat() string        { return "ts" }
func (p *Pandalive) ChannelURL(id string) string { return pandaPlay + id }

type pandaURL struct {
	URL string `json:"url"`
}

type pandaPlayResp struct {
	Result    bool   `json:"result"`
	Message   string `json:"message"`
	ErrorData *struct {
		Code string `json:"code"`
	} `json:"errorData"`
	Media *struct {
		Title    string `json:"title"`
		UserNick string `json:"userNick"`
		IsPw     bool   `json:"isPw"`
		IsAdult  bool   `json:"isAdult"`
	} `json:"media"`
	PlayList *struct {
		HLS  []pandaURL `json:"hls"`
		HLS2 []pandaURL `json:"hls2"`
		HLS3 []pandaURL `json:"hls3"`
	} `json:"PlayList"`
}

func (p *Pandalive) ResolveIdentity(_ context.Context, id string) (string, error) {
	return strings.TrimSpace(id), nil
}

// ChannelName returns the streamer nickname. It is only reported while the
// channel is live.
func (p *Pandalive) ChannelName(ctx context.Context, id string) (string, error) {
	r, err := p.play(ctx, id)
	if err != nil {
		return "", err
	}
	if r.Media == nil || r.Media.UserNick == "" {
		return "", platform.TransientError("live-play", fmt.Errorf("nickname not reported"))
	}
	return r.Media.UserNick, nil
}

func (p *Pandalive) Status(ctx context.Context, id string) (platform.LiveStatus, error) {
	r, err := p.play(ctx, id)
	if err != nil {
		return platform.StatusUnknown, err
	}
	if !r.Result || r.Media == nil {
		return platform.StatusOffline, nil
	}
	return platform.StatusLive, nil
}

func (p *Pandalive) Title(ctx context.Context, id string) (string, error) {
	r, err := p.play(ctx, id)
	if err != nil {
		return "", err
	}
	if r.Media == nil {
		return "", platform.TransientError("live-play", fmt.Errorf("media missing"))
	}
	return platform.CleanTitle(r.Media.Title), nil
}

// Stream returns the first HLS playlist. Password-protected rooms have no
// playable stream.
func (p *Pandalive) Stream(ctx context.Context, id string) (*platform.StreamDescriptor, error) {
	r, err := p.play(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.Result || r.Media == nil || r.Media.IsPw || r.PlayList == nil {
		return nil, nil
	}
	for _, list := range [][]pandaURL{r.PlayList.HLS, r.PlayList.HLS2, r.PlayList.HLS3} {
		for _, u := range list {
			if u.URL == "" {
				continue
			}
			return &platform.StreamDescriptor{
				URL:    u.URL,
				Title:  platform.CleanTitle(r.Media.Title),
				Format: p.NativeFormat(),
				Adult:  r.Media.IsAdult,
				Opener: hlsOpener(p.client, u.URL, p.HLS),
			}, nil
		}
	}
	return nil, nil
}

// play asks to watch the channel. The API answers an offline channel with
// result=false, often under a 400 status, so the body is decoded for any
// status below 500 other than 403.
func (p *Pandalive) play(ctx context.Context, id string) (*pandaPlayResp, error) {
	h := http.Header{}
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	h.Set("X-Device-Info", pandaDevice)
	form := url.Values{"action": {"watch"}, "userId": {id}}

	resp, err := p.client.Do(ctx, http.MethodPost, p.APIBase+"/v1/live/play", h, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, classify("live-play", err)
	}
	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, classify("live-play", platform.ErrForbidden)
	case resp.StatusCode >= 500:
		return nil, platform.TransientError("live-play", fmt.Errorf("http %d", resp.StatusCode))
	}

	var r pandaPlayResp
	if err := json.Unmarshal(resp.Body, &r); err != nil {
		return nil, platform.TransientError("live-play", fmt.Errorf("http %d: decode: %w", resp.StatusCode, err))
	}
	if !r.Result && r.ErrorData != nil {
		switch r.ErrorData.Code {
		case "needAdult", "needLogin":
			return nil, platform.FatalError("live-play", fmt.Errorf("%w (%s)", platform.ErrAgeVerification, r.ErrorData.Code))
		}
	}
	return &r, nil
}

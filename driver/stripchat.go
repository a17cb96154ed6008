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

const (
	stripchatDefaultDomain = "https://stripchat.com/"
	stripchatCDN           = "https://edge-hls.sacdnssedge.com"
)

func init() {
	platform.Register("stripchat", func(c *platform.Client) platform.Adapter { return NewStripChat(c) }, "sc")
}

// StripChat implements platform.Adapter for stripchat.com. Model usernames
// are the channel IDs.
type StripChat struct {
	client *platform.Client
	Domain string
	CDN    string
	HLS    hls.Options
}

// NewStripChat returns an adapter bound to c.
func NewStripChat(c *platform.Client) *StripChat {
	return &StripChat{client: c, Domain: stripchatDefaultDomain, CDN: stripchatCDN}
}

func (s *StripChat) Name() string                { return "stripchat" }
func (s *StripChat) NativeFormat() string        { return "ts" }
func (s *StripChat) ChannelURL(id string) string { return withSlash(stripchatDefaultDomain) + id }

type stripchatCam struct {
	Cam struct {
		IsCamAvailable bool   `json:"isCamAvailable"`
		StreamName     string `json:"streamName"`
		Topic          string `json:"topic"`
		ViewServers    struct {
			FlashphonerHLS string `json:"flashphoner-hls"`
		} `json:"viewServers"`
	} `json:"cam"`
}

// ResolveIdentity checks that the model exists.
func (s *StripChat) ResolveIdentity(ctx context.Context, model string) (string, error) {
	if _, err := s.cam(ctx, model); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return "", fmt.Errorf("%q: %w", model, platform.ErrChannelNotFound)
		}
		return "", err
	}
	return model, nil
}

func (s *StripChat) Status(ctx context.Context, model string) (platform.LiveStatus, error) {
	r, err := s.cam(ctx, model)
	if err != nil {
		return platform.StatusUnknown, err
	}
	if !r.Cam.IsCamAvailable {
		return platform.StatusOffline, nil
	}
	return platform.StatusLive, nil
}

func (s *StripChat) Title(ctx context.Context, model string) (string, error) {
	r, err := s.cam(ctx, model)
	if err != nil {
		return "", err
	}
	return platform.CleanTitle(r.Cam.Topic), nil
}

func (s *StripChat) Stream(ctx context.Context, model string) (*platform.StreamDescriptor, error) {
	r, err := s.cam(ctx, model)
	if err != nil {
		return nil, err
	}
	if !r.Cam.IsCamAvailable || r.Cam.StreamName == "" {
		return nil, nil
	}

	cdn := s.CDN
	if h := r.Cam.ViewServers.FlashphonerHLS; h != "" {
		cdn = "https://" + h
	}
	master := fmt.Sprintf("%s/hls/%s/master/%s_auto.m3u8", strings.TrimSuffix(cdn, "/"), r.Cam.StreamName, r.Cam.StreamName)

	return &platform.StreamDescriptor{
		URL:    master,
		Title:  platform.CleanTitle(r.Cam.Topic),
		Format: s.NativeFormat(),
		Adult:  true,
		Opener: hlsOpener(s.client, master, s.HLS),
	}, nil
}

func (s *StripChat) cam(ctx context.Context, model string) (*stripchatCam, error) {
	body, err := s.client.Get(ctx, withSlash(s.Domain)+"api/front/v2/models/username/"+model+"/cam")
	if err != nil {
		return nil, classify("cam", err)
	}
	var r stripchatCam
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, platform.TransientError("cam", fmt.Errorf("parse API response: %w", err))
	}
	return &r, nil
}

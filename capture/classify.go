package capture

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// Kind classifies stream errors for log-message selection. No kind is fatal
// to the owning poll loop.
type Kind int

const (
	KindOther Kind = iota
	KindTimeout
	KindStreamUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindStreamUnavailable:
		return "stream_unavailable"
	default:
		return "other"
	}
}

var unavailableRe = regexp.MustCompile(`(?i)(unable to open url|no data returned from stream)`)

// Classify maps a stream error to a Kind by its message.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindOther
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(strings.ToLower(err.Error()), "timeout"):
		return KindTimeout
	case unavailableRe.MatchString(err.Error()):
		return KindStreamUnavailable
	default:
		return KindOther
	}
}

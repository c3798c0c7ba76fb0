// Package report forwards server-side failures and rejected pastes to an
// error tracker.
package report

import (
	"context"
	"time"

	"pobbin/svc/util"

	"github.com/getsentry/sentry-go"
	"github.com/pkg/errors"
)

const (
	CategoryServer       = "server_error"
	CategoryInvalidPaste = "invalid_paste"

	maxAttachment = 64 * 1024
)

type Info struct {
	Method    string
	Path      string
	Stage     string
	RequestID string
	Category  string
	// Content is attached to invalid-paste reports so rejected exports can be
	// replayed against the validator.
	Content string
}

type Reporter interface {
	Capture(ctx context.Context, err error, info Info)
	Flush(timeout time.Duration) bool
}

// New returns a Sentry reporter when dsn is set and a log-only one otherwise.
func New(dsn, environment string, sampleRate float64) (Reporter, error) {
	if dsn == "" {
		return Log{}, nil
	}
	return NewSentry(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		SampleRate:       sampleRate,
		AttachStacktrace: true,
	})
}

type Log struct{}

func (Log) Capture(ctx context.Context, err error, info Info) {
	ev := util.Error()
	if info.Category == CategoryInvalidPaste {
		ev = util.Warn()
	}
	ev.Err(err).
		Str("category", info.Category).
		Str("method", info.Method).
		Str("path", info.Path).
		Str("stage", info.Stage).
		Str("request_id", info.RequestID).
		Int("content_len", len(info.Content)).
		Str("content", util.RedactPasteContent(info.Content)).
		Msg("request failed")
}

func (Log) Flush(time.Duration) bool { return true }

type Sentry struct {
	hub *sentry.Hub
	log Log
}

func NewSentry(opts sentry.ClientOptions) (*Sentry, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, errors.Wrap(err, "sentry client")
	}
	return &Sentry{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (s *Sentry) Capture(ctx context.Context, err error, info Info) {
	s.log.Capture(ctx, err, info)
	hub := s.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("category", info.Category)
		scope.SetTag("stage", info.Stage)
		scope.SetTag("method", info.Method)
		scope.SetTag("request_id", info.RequestID)
		scope.SetContext("request", sentry.Context{
			"method": info.Method,
			"path":   info.Path,
		})
		if info.Content != "" {
			payload := []byte(info.Content)
			if len(payload) > maxAttachment {
				payload = payload[:maxAttachment]
			}
			scope.AddAttachment(&sentry.Attachment{
				Filename:    "paste.xml",
				ContentType: "text/xml",
				Payload:     payload,
			})
		}
		if info.Category == CategoryInvalidPaste {
			scope.SetLevel(sentry.LevelWarning)
		}
		hub.CaptureException(err)
	})
}

func (s *Sentry) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}

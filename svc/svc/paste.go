package svc

import (
	"bytes"
	"context"
	"strconv"
	"time"
	"unicode/utf8"

	"pobbin/cfg"
	"pobbin/metrics"
	"pobbin/pkg/domain"
	"pobbin/pkg/pob"
	"pobbin/svc/db"
	"pobbin/svc/util"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

const fetchTimeout = 10 * time.Second

type Store interface {
	Put(ctx context.Context, p *domain.Paste) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Paste turns validated uploads into content-addressed objects and serves
// them back by id.
type Paste struct {
	store          Store
	maxPasteSize   int64
	maxDecodedSize int64
	idLength       int
	fetches        singleflight.Group
}

func NewPaste(store Store, c *cfg.Cfg) *Paste {
	if store == nil || c == nil {
		panic("paste service: nil dependency (store or cfg)")
	}
	p := &Paste{
		store:          store,
		maxPasteSize:   c.MaxPasteSize,
		maxDecodedSize: c.MaxDecodedSize,
		idLength:       c.IDLength,
	}
	if p.idLength <= 0 {
		p.idLength = domain.DefaultIDLength
	}
	return p
}

func (p *Paste) MaxPasteSize() int64 {
	return p.maxPasteSize
}

// Upload validates body as a build export and stores it under the id derived
// from its content. Identical bodies always map to the same id.
func (p *Paste) Upload(ctx context.Context, body []byte) (string, error) {
	id, err := p.upload(ctx, body)
	if err != nil {
		metrics.PasteUploads.WithLabelValues(domain.KindOf(err).String()).Inc()
		return "", err
	}
	metrics.PasteUploads.WithLabelValues("ok").Inc()
	return id, nil
}

func (p *Paste) upload(ctx context.Context, body []byte) (string, error) {
	if int64(len(body)) > p.maxPasteSize {
		return "", domain.BadRequest(domain.StageSizeCheck,
			"paste exceeds "+strconv.FormatInt(p.maxPasteSize, 10)+" bytes")
	}
	if !utf8.Valid(body) {
		return "", domain.BadRequest(domain.StageReceive, "paste is not valid utf-8")
	}
	text, err := pob.Decompress(string(body), p.maxDecodedSize)
	if err != nil {
		var de *pob.DecodeError
		if errors.As(err, &de) {
			return "", domain.BadRequest(domain.StageDecompress, de.Reason).WithCause(err)
		}
		return "", domain.Internal(domain.StageDecompress, err)
	}
	if _, err := pob.Parse(text); err != nil {
		var pe *pob.ParseError
		if errors.As(err, &pe) {
			return "", domain.InvalidPaste(pe.Msg, pe.Text)
		}
		return "", domain.Internal(domain.StageValidate, err)
	}
	digest, err := util.HashContent(bytes.NewReader(body))
	if err != nil {
		return "", domain.Internal(domain.StageHash, err)
	}
	id := util.EncodeID(digest, p.idLength)
	key, err := db.ToPath(id)
	if err != nil {
		return "", err
	}
	if err := p.store.Put(ctx, &domain.Paste{ID: id, Key: key, Digest: digest.Hex(), Data: body}); err != nil {
		return "", err
	}
	util.Info().Str("id", util.RedactID(id)).Int("size", len(body)).Msg("paste stored")
	return id, nil
}

// Download returns the stored bytes for id. Concurrent requests for the same
// id share one backend read.
func (p *Paste) Download(ctx context.Context, id string) ([]byte, error) {
	key, err := db.ToPath(id)
	if err != nil {
		metrics.PasteDownloads.WithLabelValues(domain.KindOf(err).String()).Inc()
		return nil, err
	}
	v, err, shared := p.fetches.Do(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return p.store.Get(fctx, key)
	})
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			err = domain.NotFound("paste", id)
		}
		metrics.PasteDownloads.WithLabelValues(domain.KindOf(err).String()).Inc()
		return nil, err
	}
	if shared {
		util.Debug().Str("id", id).Msg("download coalesced")
	}
	metrics.PasteDownloads.WithLabelValues("ok").Inc()
	return v.([]byte), nil
}

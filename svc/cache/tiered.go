package cache

import (
	"context"
	"time"

	"pobbin/svc/util"

	"github.com/pkg/errors"
)

// Tiered checks the local tier before the shared one and copies shared hits
// into the local tier for their remaining lifetime.
type Tiered struct {
	local  Edge
	shared Edge
}

func NewTiered(local, shared Edge) *Tiered {
	return &Tiered{local: local, shared: shared}
}

func (t *Tiered) Get(ctx context.Context, key string) (*Response, error) {
	resp, err := t.local.Get(ctx, key)
	if err == nil && resp != nil {
		return resp, nil
	}
	resp, err = t.shared.Get(ctx, key)
	if err != nil || resp == nil {
		return nil, err
	}
	if remaining := time.Until(resp.Expires); remaining > 0 {
		if err := t.local.Put(ctx, key, resp, remaining); err != nil {
			util.Debug().Err(err).Msg("local edge cache fill failed")
		}
	}
	return resp, nil
}

func (t *Tiered) Put(ctx context.Context, key string, resp *Response, ttl time.Duration) error {
	lerr := t.local.Put(ctx, key, resp, ttl)
	serr := t.shared.Put(ctx, key, resp, ttl)
	if serr != nil {
		return errors.Wrap(serr, "shared edge put")
	}
	return errors.Wrap(lerr, "local edge put")
}

package db

import (
	"context"
	"strings"

	"pobbin/pkg/domain"
	"pobbin/svc/util"

	"github.com/pkg/errors"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid storage key")
)

// Backend is a durable key/value object store. Put must be an upsert: writing
// the same key twice leaves one object holding the latest bytes.
type Backend interface {
	Put(ctx context.Context, p *domain.Paste) error
	Get(ctx context.Context, key string) ([]byte, error)
	Ping(ctx context.Context) error
	Close() error
}

func checkKey(key string) error {
	id, ok := strings.CutPrefix(key, domain.KeyPrefix)
	if !ok || len(id) > domain.MaxIDLength || !util.ValidID(id) {
		return errors.Wrapf(ErrInvalidKey, "%q", key)
	}
	return nil
}

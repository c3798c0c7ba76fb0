// Package cache holds the edge cache used by the cache-aside middleware:
// an in-process LRU, an optional shared Redis tier, and the wire form of a
// cached HTTP response.
package cache

import (
	"context"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Response is a complete cached HTTP response. Values handed out by an Edge
// are shared and must not be mutated.
type Response struct {
	Status   int         `cbor:"1,keyasint"`
	Header   http.Header `cbor:"2,keyasint"`
	Body     []byte      `cbor:"3,keyasint"`
	StoredAt time.Time   `cbor:"4,keyasint"`
	Expires  time.Time   `cbor:"5,keyasint"`
}

// Edge is a response cache. Get returns (nil, nil) on a miss.
type Edge interface {
	Get(ctx context.Context, key string) (*Response, error)
	Put(ctx context.Context, key string, resp *Response, ttl time.Duration) error
}

func (r *Response) Clone() *Response {
	c := *r
	c.Header = r.Header.Clone()
	c.Body = append([]byte(nil), r.Body...)
	return &c
}

func (r *Response) Expired(now time.Time) bool {
	return !r.Expires.IsZero() && !now.Before(r.Expires)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	encMode, err = opts.EncMode()
	if err != nil {
		panic("cache: cbor encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("cache: cbor decoder initialization failed: " + err.Error())
	}
}

func Marshal(r *Response) ([]byte, error) {
	b, err := encMode.Marshal(r)
	return b, errors.Wrap(err, "encode cached response")
}

func Unmarshal(b []byte) (*Response, error) {
	var r Response
	if err := decMode.Unmarshal(b, &r); err != nil {
		return nil, errors.Wrap(err, "decode cached response")
	}
	return &r, nil
}

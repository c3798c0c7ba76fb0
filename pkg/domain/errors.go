package domain

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind is the closed set of failure categories a request can end in.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindInvalidPaste
	KindNotFound
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindInvalidPaste:
		return "invalid_paste"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage"
	default:
		return "internal"
	}
}

func (k Kind) Status() int {
	switch k {
	case KindBadRequest, KindInvalidPaste:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Stages of the upload and download pipelines, attached to errors for reporting.
const (
	StageReceive    = "receive_body"
	StageSizeCheck  = "size_check"
	StageDecompress = "decompress"
	StageValidate   = "validate"
	StageHash       = "hash"
	StageMapPath    = "map_path"
	StageStore      = "store"
	StageFetch      = "fetch"
	StageRespond    = "respond"
)

type Err struct {
	Kind  Kind
	Msg   string
	Stage string
	// Content is the offending input for InvalidPaste, kept for diagnostics only.
	Content string
	cause   error
}

func (e *Err) Error() string {
	if e.cause != nil {
		return e.Msg + ": " + e.cause.Error()
	}
	return e.Msg
}
func (e *Err) Unwrap() error { return e.cause }

func BadRequest(stage, msg string) *Err {
	return &Err{Kind: KindBadRequest, Msg: msg, Stage: stage}
}
func InvalidPaste(msg, content string) *Err {
	return &Err{Kind: KindInvalidPaste, Msg: msg, Stage: StageValidate, Content: content}
}
func NotFound(what, id string) *Err {
	return &Err{Kind: KindNotFound, Msg: fmt.Sprintf("%s '%s' not found", what, id), Stage: StageFetch}
}
func StorageError(stage string, cause error) *Err {
	return &Err{Kind: KindStorage, Msg: "storage unavailable", Stage: stage, cause: cause}
}
func Internal(stage string, cause error) *Err {
	return &Err{Kind: KindInternal, Msg: "internal error", Stage: stage, cause: cause}
}

// WithCause attaches an underlying error without changing the client-facing message.
func (e *Err) WithCause(cause error) *Err {
	e.cause = cause
	return e
}

// AsErr finds the first *Err in the chain. Anything else is reported as internal.
func AsErr(err error) *Err {
	if err == nil {
		return nil
	}
	var e *Err
	if errors.As(err, &e) {
		return e
	}
	return Internal("", err)
}

func KindOf(err error) Kind {
	return AsErr(err).Kind
}

func Status(err error) int {
	return KindOf(err).Status()
}

type ErrResp struct {
	Code int    `json:"code"`
	Msg  string `json:"message"`
}

// ToResp renders the wire body. Server-class messages never include the cause text.
func ToResp(err error) ErrResp {
	e := AsErr(err)
	return ErrResp{Code: e.Kind.Status(), Msg: e.Msg}
}

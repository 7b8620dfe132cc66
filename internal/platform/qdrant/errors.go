package qdrant

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/yungbote/postsecret-pipeline/internal/pkg/httpx"
)

// ErrorKind classifies a failed mirror call. Callers of Upsert and Search only ever see
// "not mirrored" or "unavailable"; the kind drives logging and collection-cache invalidation.
type ErrorKind string

const (
	KindBadFilter         ErrorKind = "bad_filter"
	KindUnsupportedFilter ErrorKind = "unsupported_filter"
	KindEncode            ErrorKind = "encode"
	KindDecode            ErrorKind = "decode"
	KindTransport         ErrorKind = "transport"
	KindTimeout           ErrorKind = "timeout"
	KindMissingCollection ErrorKind = "missing_collection"
	KindConflict          ErrorKind = "conflict"
	KindRejected          ErrorKind = "rejected"
	KindUnavailable       ErrorKind = "unavailable"
)

// Error is returned by every mirror round trip and by Compile.
type Error struct {
	Kind   ErrorKind
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "qdrant %s: %s", e.Op, e.Kind)
	if e.Status > 0 {
		fmt.Fprintf(&b, " (http %d)", e.Status)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports failures a later call may not hit again.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindTransport, KindTimeout, KindUnavailable:
		return true
	}
	return false
}

// IsKind reports whether err is a mirror error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func fail(op string, kind ErrorKind, detail string, err error) error {
	return &Error{Kind: kind, Op: op, Detail: detail, Err: err}
}

// statusFailure maps a non-2xx Qdrant answer to a kind, keeping a bounded excerpt of the body.
func statusFailure(op string, status int, body []byte) error {
	kind := KindRejected
	switch {
	case status == http.StatusNotFound:
		kind = KindMissingCollection
	case status == http.StatusConflict:
		kind = KindConflict
	case status == http.StatusTooManyRequests || status >= 500:
		kind = KindUnavailable
	}
	return &Error{Kind: kind, Op: op, Status: status, Detail: httpx.TruncateBody(body, maxErrorBodyBytes)}
}

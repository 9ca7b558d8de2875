package handlers

import (
	runtimepkg "github.com/drblury/protorelay/internal/runtime"
	loggingpkg "github.com/drblury/protorelay/internal/runtime/logging"
)

// RequestBase carries what every typed handler sees besides its payload:
// the underlying request, for Nonce, Topic and Respond, and a logger
// already scoped to the request.
type RequestBase struct {
	*runtimepkg.Request
	Logger loggingpkg.ServiceLogger
}

// Segment returns the i-th raw segment of the inbound channel, so prefix
// routed handlers can read their arguments ("VERIFYALL:123" yields "123" at 1).
func (b RequestBase) Segment(i int) (string, bool) {
	return b.Topic.Segment(i)
}

// Fields returns the log fields identifying the request.
func (b RequestBase) Fields() loggingpkg.LogFields {
	return loggingpkg.LogFields{"topic": b.Topic.String(), "nonce": b.Nonce}
}

func newRequestBase(req *runtimepkg.Request, log loggingpkg.ServiceLogger) RequestBase {
	base := RequestBase{Request: req, Logger: log}
	base.Logger = log.With(base.Fields())
	return base
}

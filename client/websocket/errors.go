package websocket

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/y3sh/quote-sdk-go/proto/quote"
)

// The following errors are returned from wsConn and QuoteClient.
var (
	// ErrNotConnected means the connection is not established when the client
	// tried to e.g. send a request, or close the connection. Requests waiting
	// for a response when the connection drops fail with it as well.
	ErrNotConnected = errors.New("not connected")

	// ErrConnLoopActive means the client tried to connect when the client is
	// already connecting.
	ErrConnLoopActive = errors.New("connection loop is already active")

	// ErrRequestTimeout means no response arrived within the request timeout.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrUnknownRequest means AwaitResponse was called for an id which was
	// never sent, or whose response has already been consumed.
	ErrUnknownRequest = errors.New("unknown request id")
)

// ConfigurationError means the caller passed invalid input; nothing has been
// sent to the gateway.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Message
}

func newConfigurationError(format string, args ...interface{}) error {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// TransportError means the request could not be delivered or its response
// did not arrive: send failure, timeout or disconnection.
type TransportError struct {
	// Op is the stage which failed, e.g. "send Qot_Sub".
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s: %s", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError means the gateway answered, but the answer was a failure or
// could not be decoded.
type ProtocolError struct {
	ProtoID quote.ProtoID
	// Code is the result code sent by the server, or quote.RetUnknown if the
	// response could not be decoded.
	Code    quote.RetType
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s: code %d: %s", e.ProtoID, e.Code, e.Message)
}

// PaginationError is returned by Retrieve when a page fails. Records fetched
// before the failure are discarded; Resume is the cursor to restart from so
// that nothing is lost.
type PaginationError struct {
	Resume Cursor
	// Pages is the number of pages fetched successfully before the failure.
	Pages int
	Err   error
}

func (e *PaginationError) Error() string {
	return fmt.Sprintf("page %d: %s", e.Pages+1, e.Err)
}

// Cause makes errors.Cause look through the pagination failure, so that
// IsTransportError and IsProtocolError work on it.
func (e *PaginationError) Cause() error {
	return errors.Cause(e.Err)
}

func (e *PaginationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether the cause of err is a
// ConfigurationError.
func IsConfigurationError(err error) bool {
	_, ok := errors.Cause(err).(*ConfigurationError)
	return ok
}

// IsTransportError reports whether the cause of err is a TransportError.
func IsTransportError(err error) bool {
	_, ok := errors.Cause(err).(*TransportError)
	return ok
}

// IsProtocolError reports whether the cause of err is a ProtocolError.
func IsProtocolError(err error) bool {
	_, ok := errors.Cause(err).(*ProtocolError)
	return ok
}

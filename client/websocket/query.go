package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/y3sh/quote-sdk-go/proto/quote"
	"google.golang.org/protobuf/types/known/structpb"
)

var logger = loggo.GetLogger("quote.websocket")

const (
	// DefaultRequestTimeout is how long Execute waits for a response.
	DefaultRequestTimeout = 10 * time.Second
)

// Transport sends raw frames and waits for the matching responses. Send must
// register the request id before writing, so that a response arriving right
// away is not lost; AwaitResponse then blocks until the response with that id
// arrives, the timeout expires, the connection drops or ctx is done.
type Transport interface {
	Send(ctx context.Context, id string, data []byte) error
	AwaitResponse(ctx context.Context, id string, timeout time.Duration) ([]byte, error)
}

// RequestDescriptor knows how to build the body of one kind of request and how
// to decode its response. Descriptors are stateless values.
type RequestDescriptor[P, R any] interface {
	ProtoID() quote.ProtoID
	Pack(params P) (*structpb.Struct, error)
	Unpack(body *structpb.Struct) (R, error)
}

// Executor performs request/response exchanges over a Transport, one at a
// time.
type Executor struct {
	transport Transport
	timeout   time.Duration

	// newID is mockable; uuid by default.
	newID func() string

	mtx sync.Mutex
}

// NewExecutor creates an executor; a zero timeout means
// DefaultRequestTimeout.
func NewExecutor(transport Transport, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &Executor{
		transport: transport,
		timeout:   timeout,
		newID: func() string {
			return uuid.New().String()
		},
	}
}

// Execute sends a single request described by d and returns the decoded
// response. Invalid params yield a ConfigurationError and nothing is sent;
// send failures, timeouts and disconnections yield a TransportError; failure
// responses and undecodable ones yield a ProtocolError. Execute has no other
// side effects.
func Execute[P, R any](ctx context.Context, e *Executor, d RequestDescriptor[P, R], params P) (R, error) {
	var zero R

	protoID := d.ProtoID()

	body, err := d.Pack(params)
	if err != nil {
		if IsConfigurationError(err) {
			return zero, errors.Trace(err)
		}
		return zero, errors.Trace(newConfigurationError("%s: %s", protoID, err))
	}

	requestID := e.newID()

	data, err := quote.MarshalFrame(&quote.Frame{
		ID:      requestID,
		ProtoID: protoID,
		Body:    body,
	})
	if err != nil {
		return zero, errors.Trace(newConfigurationError("%s: %s", protoID, err))
	}

	e.mtx.Lock()
	defer e.mtx.Unlock()

	logger.Tracef("request %s %s", requestID, protoID)

	if err := e.transport.Send(ctx, requestID, data); err != nil {
		return zero, errors.Trace(&TransportError{Op: "send " + protoID.String(), Err: err})
	}

	respData, err := e.transport.AwaitResponse(ctx, requestID, e.timeout)
	if err != nil {
		return zero, errors.Trace(&TransportError{Op: "await " + protoID.String(), Err: err})
	}

	frame, err := quote.UnmarshalFrame(respData)
	if err != nil {
		return zero, errors.Trace(&ProtocolError{
			ProtoID: protoID,
			Code:    quote.RetUnknown,
			Message: err.Error(),
		})
	}

	if frame.ProtoID != protoID {
		return zero, errors.Trace(&ProtocolError{
			ProtoID: protoID,
			Code:    quote.RetUnknown,
			Message: "unexpected response proto " + frame.ProtoID.String(),
		})
	}

	if frame.RetType != quote.RetSucceed {
		logger.Debugf("request %s %s failed: %d %s", requestID, protoID, frame.RetType, frame.RetMsg)
		return zero, errors.Trace(&ProtocolError{
			ProtoID: protoID,
			Code:    frame.RetType,
			Message: frame.RetMsg,
		})
	}

	res, err := d.Unpack(frame.Body)
	if err != nil {
		return zero, errors.Trace(&ProtocolError{
			ProtoID: protoID,
			Code:    quote.RetUnknown,
			Message: err.Error(),
		})
	}

	return res, nil
}

// Package quote contains the wire envelope exchanged with the quote gateway.
//
// Every websocket message (except the single-byte heartbeat) is a protobuf
// encoded google.protobuf.Struct with the following keys:
//
//	id       correlation id; absent on server pushes
//	proto    protocol id of the request, see ProtoID
//	retType  result code set by the server, see RetType
//	retMsg   human-readable error, set by the server on failures
//	body     request parameters or response payload
package quote

import (
	"fmt"
	"math"

	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoID identifies the request kind, and for pushes, the payload kind.
type ProtoID uint32

// The following constants list all protocol ids the client uses.
const (
	ProtoQotSub                 ProtoID = 3001
	ProtoQotGetSubInfo          ProtoID = 3003
	ProtoQotGetOrderBook        ProtoID = 3012
	ProtoQotRequestHistoryKL    ProtoID = 3103
	ProtoQotGetSecuritySnapshot ProtoID = 3203
	ProtoQotPush                ProtoID = 3900
)

// ProtoIDNames contains human-readable names for ProtoID.
var ProtoIDNames = map[ProtoID]string{
	ProtoQotSub:                 "Qot_Sub",
	ProtoQotGetSubInfo:          "Qot_GetSubInfo",
	ProtoQotGetOrderBook:        "Qot_GetOrderBook",
	ProtoQotRequestHistoryKL:    "Qot_RequestHistoryKL",
	ProtoQotGetSecuritySnapshot: "Qot_GetSecuritySnapshot",
	ProtoQotPush:                "Qot_Push",
}

func (id ProtoID) String() string {
	if name, ok := ProtoIDNames[id]; ok {
		return name
	}

	return fmt.Sprintf("proto(%d)", uint32(id))
}

// RetType is the result code of a response frame.
type RetType int32

// The following constants define all result codes; anything but RetSucceed
// is a failure.
const (
	RetSucceed RetType = 0
	RetFailed  RetType = -1
	RetTimeOut RetType = -100
	RetUnknown RetType = -400
)

const (
	keyID      = "id"
	keyProto   = "proto"
	keyRetType = "retType"
	keyRetMsg  = "retMsg"
	keyBody    = "body"
)

// Frame is a single message exchanged with the gateway.
type Frame struct {
	// ID correlates a response with its request. Server pushes carry no ID.
	ID      string
	ProtoID ProtoID
	RetType RetType
	RetMsg  string
	Body    *structpb.Struct
}

// IsPush reports whether the frame was not sent in response to a request.
func (f *Frame) IsPush() bool {
	return f.ID == ""
}

// MarshalFrame encodes the frame for the wire.
func MarshalFrame(f *Frame) ([]byte, error) {
	body := f.Body
	if body == nil {
		body = &structpb.Struct{}
	}

	env := &structpb.Struct{
		Fields: map[string]*structpb.Value{
			keyProto:   structpb.NewNumberValue(float64(f.ProtoID)),
			keyRetType: structpb.NewNumberValue(float64(f.RetType)),
			keyBody:    structpb.NewStructValue(body),
		},
	}
	if f.ID != "" {
		env.Fields[keyID] = structpb.NewStringValue(f.ID)
	}
	if f.RetMsg != "" {
		env.Fields[keyRetMsg] = structpb.NewStringValue(f.RetMsg)
	}

	data, err := proto.Marshal(env)
	if err != nil {
		return nil, errors.Annotatef(err, "marshalling %s frame", f.ProtoID)
	}

	return data, nil
}

// UnmarshalFrame decodes a frame received from the wire. The protocol id is
// mandatory; everything else defaults to zero values.
func UnmarshalFrame(data []byte) (*Frame, error) {
	var env structpb.Struct
	if err := proto.Unmarshal(data, &env); err != nil {
		return nil, errors.Annotatef(err, "unmarshalling frame")
	}

	protoID, err := Int64(&env, keyProto)
	if err != nil {
		return nil, errors.Annotatef(err, "frame")
	}
	if protoID <= 0 || protoID > math.MaxUint32 {
		return nil, errors.NotValidf("frame proto id %d", protoID)
	}

	retType, err := OptInt64(&env, keyRetType)
	if err != nil {
		return nil, errors.Annotatef(err, "frame")
	}

	id, err := OptString(&env, keyID)
	if err != nil {
		return nil, errors.Annotatef(err, "frame")
	}

	retMsg, err := OptString(&env, keyRetMsg)
	if err != nil {
		return nil, errors.Annotatef(err, "frame")
	}

	body, err := OptStruct(&env, keyBody)
	if err != nil {
		return nil, errors.Annotatef(err, "frame")
	}
	if body == nil {
		body = &structpb.Struct{}
	}

	return &Frame{
		ID:      id,
		ProtoID: ProtoID(protoID),
		RetType: RetType(retType),
		RetMsg:  retMsg,
		Body:    body,
	}, nil
}

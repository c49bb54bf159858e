package quote

import (
	"testing"

	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

// TestFrameRoundTrip makes sure a response frame survives encoding with all
// of its envelope fields.
func TestFrameRoundTrip(t *testing.T) {
	body, err := structpb.NewStruct(map[string]interface{}{
		"nextReqKey": "abc",
		"klList":     []interface{}{map[string]interface{}{"close": "1.25"}},
	})
	require.Nil(t, err)

	data, err := MarshalFrame(&Frame{
		ID:      "req-1",
		ProtoID: ProtoQotRequestHistoryKL,
		RetType: RetFailed,
		RetMsg:  "no permission",
		Body:    body,
	})
	require.Nil(t, err)

	f, err := UnmarshalFrame(data)
	require.Nil(t, err)

	assert.Equal(t, "req-1", f.ID)
	assert.Equal(t, ProtoQotRequestHistoryKL, f.ProtoID)
	assert.Equal(t, RetFailed, f.RetType)
	assert.Equal(t, "no permission", f.RetMsg)
	assert.False(t, f.IsPush())
	assert.True(t, proto.Equal(body, f.Body))
}

// TestPushFrame checks that frames without an id are reported as pushes, and
// that a missing body decodes into an empty one.
func TestPushFrame(t *testing.T) {
	data, err := MarshalFrame(&Frame{ProtoID: ProtoQotPush})
	require.Nil(t, err)

	f, err := UnmarshalFrame(data)
	require.Nil(t, err)
	assert.True(t, f.IsPush())
	assert.Equal(t, RetSucceed, f.RetType)
	assert.NotNil(t, f.Body)
}

func TestUnmarshalFrameErrors(t *testing.T) {
	_, err := UnmarshalFrame([]byte{1, 2, 3})
	assert.NotNil(t, err)

	noProto, err := proto.Marshal(&structpb.Struct{
		Fields: map[string]*structpb.Value{"id": structpb.NewStringValue("x")},
	})
	require.Nil(t, err)
	_, err = UnmarshalFrame(noProto)
	assert.True(t, errors.IsNotFound(err), "%v", err)

	badID, err := proto.Marshal(&structpb.Struct{
		Fields: map[string]*structpb.Value{
			"proto": structpb.NewNumberValue(3001),
			"id":    structpb.NewNumberValue(5),
		},
	})
	require.Nil(t, err)
	_, err = UnmarshalFrame(badID)
	assert.True(t, errors.IsNotValid(err), "%v", err)
}

func TestFieldGetters(t *testing.T) {
	s, err := structpb.NewStruct(map[string]interface{}{
		"name":   "Tencent",
		"volume": 1200,
		"ratio":  1.5,
		"price":  "388.20",
		"fprice": 12.5,
		"flag":   true,
		"codes":  []interface{}{"HK.00700", "HK.00005"},
		"nested": map[string]interface{}{"a": "b"},
		"nil":    nil,
	})
	require.Nil(t, err)

	name, err := String(s, "name")
	assert.Nil(t, err)
	assert.Equal(t, "Tencent", name)

	_, err = String(s, "missing")
	assert.True(t, errors.IsNotFound(err))

	_, err = String(s, "nil")
	assert.True(t, errors.IsNotFound(err))

	_, err = String(s, "volume")
	assert.True(t, errors.IsNotValid(err))

	vol, err := Int64(s, "volume")
	assert.Nil(t, err)
	assert.Equal(t, int64(1200), vol)

	_, err = Int64(s, "ratio")
	assert.True(t, errors.IsNotValid(err))

	zero, err := OptInt64(s, "missing")
	assert.Nil(t, err)
	assert.Equal(t, int64(0), zero)

	price, err := Decimal(s, "price")
	assert.Nil(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("388.2")))

	fprice, err := Decimal(s, "fprice")
	assert.Nil(t, err)
	assert.True(t, fprice.Equal(decimal.NewFromFloat(12.5)))

	_, err = Decimal(s, "name")
	assert.True(t, errors.IsNotValid(err))

	flag, err := OptBool(s, "flag")
	assert.Nil(t, err)
	assert.True(t, flag)

	list, err := List(s, "codes")
	assert.Nil(t, err)
	codes, err := StringList("codes", list)
	assert.Nil(t, err)
	assert.Equal(t, []string{"HK.00700", "HK.00005"}, codes)

	_, err = StructList("codes", list)
	assert.True(t, errors.IsNotValid(err))

	nested, err := OptStruct(s, "nested")
	assert.Nil(t, err)
	a, err := String(nested, "a")
	assert.Nil(t, err)
	assert.Equal(t, "b", a)

	empty, err := OptList(s, "missing")
	assert.Nil(t, err)
	assert.Len(t, empty, 0)
}

package quote

import (
	"math"

	"github.com/juju/errors"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"
)

// The getters below read typed fields from a frame body. The plain getters
// return a NotFound error when the key is missing; the Opt* ones return the
// zero value instead. Both return a NotValid error when the value has the
// wrong type.

func field(s *structpb.Struct, key string) (*structpb.Value, bool) {
	if s == nil {
		return nil, false
	}

	v, ok := s.GetFields()[key]
	if !ok {
		return nil, false
	}

	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, false
	}

	return v, true
}

// String returns a string field.
func String(s *structpb.Struct, key string) (string, error) {
	v, ok := field(s, key)
	if !ok {
		return "", errors.NotFoundf("field %q", key)
	}

	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", errors.NotValidf("field %q (want string)", key)
	}

	return sv.StringValue, nil
}

// OptString is like String, but a missing field is not an error.
func OptString(s *structpb.Struct, key string) (string, error) {
	if _, ok := field(s, key); !ok {
		return "", nil
	}

	return String(s, key)
}

// Int64 returns an integral number field.
func Int64(s *structpb.Struct, key string) (int64, error) {
	v, ok := field(s, key)
	if !ok {
		return 0, errors.NotFoundf("field %q", key)
	}

	nv, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, errors.NotValidf("field %q (want number)", key)
	}

	n := nv.NumberValue
	if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
		return 0, errors.NotValidf("field %q (want integer, got %v)", key, n)
	}

	return int64(n), nil
}

// OptInt64 is like Int64, but a missing field is not an error.
func OptInt64(s *structpb.Struct, key string) (int64, error) {
	if _, ok := field(s, key); !ok {
		return 0, nil
	}

	return Int64(s, key)
}

// OptBool returns a bool field, or false if it's missing.
func OptBool(s *structpb.Struct, key string) (bool, error) {
	v, ok := field(s, key)
	if !ok {
		return false, nil
	}

	bv, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, errors.NotValidf("field %q (want bool)", key)
	}

	return bv.BoolValue, nil
}

// Struct returns a nested object field.
func Struct(s *structpb.Struct, key string) (*structpb.Struct, error) {
	v, ok := field(s, key)
	if !ok {
		return nil, errors.NotFoundf("field %q", key)
	}

	sv, ok := v.GetKind().(*structpb.Value_StructValue)
	if !ok {
		return nil, errors.NotValidf("field %q (want object)", key)
	}

	return sv.StructValue, nil
}

// OptStruct is like Struct, but a missing field yields nil.
func OptStruct(s *structpb.Struct, key string) (*structpb.Struct, error) {
	if _, ok := field(s, key); !ok {
		return nil, nil
	}

	return Struct(s, key)
}

// List returns a list field.
func List(s *structpb.Struct, key string) ([]*structpb.Value, error) {
	v, ok := field(s, key)
	if !ok {
		return nil, errors.NotFoundf("field %q", key)
	}

	lv, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, errors.NotValidf("field %q (want list)", key)
	}

	return lv.ListValue.GetValues(), nil
}

// OptList is like List, but a missing field yields an empty list.
func OptList(s *structpb.Struct, key string) ([]*structpb.Value, error) {
	if _, ok := field(s, key); !ok {
		return nil, nil
	}

	return List(s, key)
}

// Decimal returns a decimal field. Prices travel as strings to keep them
// exact, but plain numbers are accepted as well.
func Decimal(s *structpb.Struct, key string) (decimal.Decimal, error) {
	v, ok := field(s, key)
	if !ok {
		return decimal.Zero, errors.NotFoundf("field %q", key)
	}

	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		d, err := decimal.NewFromString(kind.StringValue)
		if err != nil {
			return decimal.Zero, errors.NewNotValid(err, "field "+key)
		}
		return d, nil

	case *structpb.Value_NumberValue:
		return decimal.NewFromFloat(kind.NumberValue), nil
	}

	return decimal.Zero, errors.NotValidf("field %q (want decimal)", key)
}

// OptDecimal is like Decimal, but a missing field yields zero.
func OptDecimal(s *structpb.Struct, key string) (decimal.Decimal, error) {
	if _, ok := field(s, key); !ok {
		return decimal.Zero, nil
	}

	return Decimal(s, key)
}

// StringList converts a list of strings, as produced by List.
func StringList(key string, values []*structpb.Value) ([]string, error) {
	ret := make([]string, 0, len(values))
	for i, v := range values {
		sv, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, errors.NotValidf("field %q item %d (want string)", key, i)
		}
		ret = append(ret, sv.StringValue)
	}

	return ret, nil
}

// StructList converts a list of objects, as produced by List.
func StructList(key string, values []*structpb.Value) ([]*structpb.Struct, error) {
	ret := make([]*structpb.Struct, 0, len(values))
	for i, v := range values {
		sv, ok := v.GetKind().(*structpb.Value_StructValue)
		if !ok {
			return nil, errors.NotValidf("field %q item %d (want object)", key, i)
		}
		ret = append(ret, sv.StructValue)
	}

	return ret, nil
}

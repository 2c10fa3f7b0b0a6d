package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User owns exactly one portfolio. Both are created and deleted together.
type User struct {
	ID          primitive.ObjectID      `bson:"_id,omitempty" json:"id"`
	Username    string                  `bson:"username" json:"username"`
	Email       string                  `bson:"email" json:"email"`
	PortfolioID primitive.ObjectID      `bson:"portfolioId" json:"portfolioId"`
	CreatedAt   time.Time               `bson:"createdAt" json:"createdAt"`
	Settings    map[string]SettingValue `bson:"settings,omitempty" json:"settings,omitempty"`
}

// SettingKind identifies the variant held by a SettingValue
type SettingKind int

const (
	SettingInvalid SettingKind = iota
	SettingString
	SettingNumber
	SettingBool
)

// SettingValue is a user setting: a string, a number or a bool.
type SettingValue struct {
	kind SettingKind
	str  string
	num  float64
	b    bool
}

func StringSetting(s string) SettingValue   { return SettingValue{kind: SettingString, str: s} }
func NumberSetting(n float64) SettingValue  { return SettingValue{kind: SettingNumber, num: n} }
func BoolSetting(b bool) SettingValue       { return SettingValue{kind: SettingBool, b: b} }
func (v SettingValue) Kind() SettingKind    { return v.kind }
func (v SettingValue) Str() (string, bool)  { return v.str, v.kind == SettingString }
func (v SettingValue) Num() (float64, bool) { return v.num, v.kind == SettingNumber }
func (v SettingValue) Bool() (bool, bool)   { return v.b, v.kind == SettingBool }

// MarshalJSON implements json.Marshaler
func (v SettingValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case SettingString:
		return json.Marshal(v.str)
	case SettingNumber:
		return json.Marshal(v.num)
	case SettingBool:
		return json.Marshal(v.b)
	}
	return nil, fmt.Errorf("%w: empty setting value", ErrValidation)
}

// UnmarshalJSON implements json.Unmarshaler
func (v *SettingValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty setting value", ErrValidation)
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringSetting(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolSetting(b)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("%w: setting must be a string, number or bool", ErrValidation)
		}
		*v = NumberSetting(n)
	}
	return nil
}

// MarshalBSONValue implements bson.ValueMarshaler
func (v SettingValue) MarshalBSONValue() (bsontype.Type, []byte, error) {
	switch v.kind {
	case SettingString:
		return bson.MarshalValue(v.str)
	case SettingNumber:
		return bson.MarshalValue(v.num)
	case SettingBool:
		return bson.MarshalValue(v.b)
	}
	return 0, nil, fmt.Errorf("%w: empty setting value", ErrValidation)
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler
func (v *SettingValue) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	switch t {
	case bson.TypeString:
		*v = StringSetting(raw.StringValue())
	case bson.TypeDouble:
		*v = NumberSetting(raw.Double())
	case bson.TypeInt32:
		*v = NumberSetting(float64(raw.Int32()))
	case bson.TypeInt64:
		*v = NumberSetting(float64(raw.Int64()))
	case bson.TypeBoolean:
		*v = BoolSetting(raw.Boolean())
	default:
		return fmt.Errorf("unsupported setting type %s", t)
	}
	return nil
}

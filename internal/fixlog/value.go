package fixlog

import (
	"encoding/json"
	"strconv"
)

// Value is a free-form JSON value. Fields an external actor fills in after
// the fact use it so that any shape they choose survives a reload.
type Value json.RawMessage

// StringValue encodes s as a JSON string.
func StringValue(s string) Value {
	data, _ := json.Marshal(s)
	return Value(data)
}

// IntValue encodes n as a JSON number.
func IntValue(n int) Value {
	return Value(strconv.Itoa(n))
}

func (v Value) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return []byte("null"), nil
	}
	return v, nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	*v = append((*v)[:0], data...)
	return nil
}

// String returns the decoded text for JSON strings and the raw JSON otherwise.
func (v Value) String() string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}

package id

import (
	"bytes"
	"fmt"
	"strconv"
)

// ID is a revision id as exchanged with clients. It is encoded as a JSON string
// because JavaScript numbers cannot hold 64-bit integers; numbers are accepted on input.
type ID uint64

// MarshalJSON implements json.Marshaler
func (i ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatUint(uint64(i), 10) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (i *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		b = bytes.TrimSpace(b[1 : len(b)-1])
	}
	if len(b) == 0 {
		*i = 0
		return nil
	}
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", b)
	}
	*i = ID(v)
	return nil
}

// String returns the decimal form
func (i ID) String() string {
	return strconv.FormatUint(uint64(i), 10)
}

// Package encoding is the single msgpack codec used by wpmeta for cache
// values and the change-event publish log.
//
// Structs are encoded using their `json` tags, so the same field names are
// used on the wire, in the cache and in HTTP responses.
//
// Thread Safety: Marshal and Unmarshal are safe for concurrent use.
package encoding

import (
	"bytes"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

type encoderEntry struct {
	buf *bytes.Buffer
	enc *msgpack.Encoder
}

var encoderPool = sync.Pool{
	New: func() interface{} {
		buf := new(bytes.Buffer)
		enc := msgpack.NewEncoder(buf)
		enc.SetCustomStructTag("json")
		enc.SetSortMapKeys(true)
		return &encoderEntry{buf: buf, enc: enc}
	},
}

// Marshal encodes a value to msgpack format.
// Map keys are sorted so equal values always produce equal bytes.
func Marshal(v interface{}) ([]byte, error) {
	entry := encoderPool.Get().(*encoderEntry)
	entry.buf.Reset()

	if err := entry.enc.Encode(v); err != nil {
		encoderPool.Put(entry)
		return nil, err
	}

	// Copy result before returning to pool
	out := make([]byte, entry.buf.Len())
	copy(out, entry.buf.Bytes())
	encoderPool.Put(entry)

	return out, nil
}

// Unmarshal decodes msgpack data into v.
// When decoding into interface{}, strings stay Go strings (not []byte).
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}

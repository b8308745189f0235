package controlplane

import (
	"bytes"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// encBufPool recycles *bytes.Buffer scratch space for CBOR-encoding
// outbound RPC bodies.
var encBufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Encode CBOR-marshals v into a fresh byte slice suitable for a Frame
// payload.
func Encode(v any) ([]byte, error) {
	buf := encBufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer encBufPool.Put(buf)

	enc := cbor.NewEncoder(buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Decode CBOR-unmarshals a Frame payload into v.
func Decode(payload []byte, v any) error {
	return cbor.Unmarshal(payload, v)
}

// Package rpc holds the wire contract between the client SDK and the auth
// service: message structs, procedure names, the CBOR codec used by connect,
// and typed clients and handlers for both services.
package rpc

import (
	"reflect"

	"connectrpc.com/connect"
	"github.com/fxamacker/cbor/v2"
)

// CodecName is the connect codec name, which also selects the
// application/cbor content type.
const CodecName = "cbor"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Core Deterministic Encoding: the same message always yields the same
	// bytes, which keeps stored records and signed claims stable.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("rpc: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("rpc: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v with the wire encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes wire-encoded data into v. Unknown fields are ignored.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Codec plugs the CBOR encoding into connect.
type Codec struct{}

var _ connect.Codec = Codec{}

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(v any) ([]byte, error) { return Marshal(v) }

func (Codec) Unmarshal(data []byte, v any) error { return Unmarshal(data, v) }

// WithCodec registers Codec on a client or handler.
func WithCodec() connect.Option {
	return connect.WithCodec(Codec{})
}

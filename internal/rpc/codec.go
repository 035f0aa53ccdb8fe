// Package rpc is the control-plane client for the WhirlpoolViridian gRPC
// service: session authentication, the data-plane handshake and the
// periodic healthcheck, plus the best-effort shutdown notice. The four
// methods are driven through grpc-go's generic Invoke path with a small
// JSON codec registered the way encoding.Codec documents for non-protobuf
// message types, keeping the client free of generated stubs.
package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype this package registers and dials
// with. It shows up on the wire as "application/grpc+json".
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: error marshalling %T: %w", v, err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: error unmarshalling into %T: %w", v, err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

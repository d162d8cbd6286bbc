// Package control implements the gRPC admin plane described in
// spec.md's operator-facing surface: enumerate replay tables, inspect
// which connections currently hold the replay lock, and force-close a
// connection. The teacher's own grpc_control package (src/grpc_control)
// depends on protoc-generated message and service stubs that aren't
// present in this codebase, so rather than fabricate .pb.go bindings
// by hand this package uses grpc's pluggable-codec extension point
// (encoding.RegisterCodec) to marshal plain Go structs as JSON and
// registers its service by hand-writing a grpc.ServiceDesc, the same
// approach grpc-go's own codec example uses to run without protoc.
package control

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

// jsonCodec implements encoding.Codec by delegating to encoding/json,
// letting grpc transport plain structs instead of protobuf messages.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/encoding/gzip"
)

// CodecName is the content subtype both ends of the API speak
const CodecName = "json"

// jsonCodec marshals API messages as JSON so the service needs no
// generated protobuf code
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

// Message compression on the API. The server accepts every registered
// compressor; clients pick one per connection.
const (
	CompressionNone = "none"
	CompressionGzip = gzip.Name
)

// ValidateCompression reports an unknown compression name. Empty means none.
func ValidateCompression(name string) error {
	switch name {
	case "", CompressionNone, CompressionGzip:
		return nil
	}
	return fmt.Errorf("unknown compression %q (want %s or %s)", name, CompressionNone, CompressionGzip)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

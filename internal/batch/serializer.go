package batch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// EncodingZstd is the Content-Encoding value of zstd-compressed payloads.
const EncodingZstd = "zstd"

// Serializer encodes protocol payloads.
type Serializer interface {
	// ContentEncoding returns the HTTP Content-Encoding value, empty for
	// identity.
	ContentEncoding() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSON is the plain JSON serializer. Numbers decode as json.Number so that
// 64-bit integers survive the round trip.
type JSON struct{}

// ContentEncoding implements Serializer.
func (JSON) ContentEncoding() string { return "" }

// Marshal implements Serializer.
func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements Serializer.
func (JSON) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// Zstd is JSON compressed with zstd.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd creates a zstd serializer. The encoder and decoder are safe for
// concurrent use through EncodeAll and DecodeAll.
func NewZstd() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

// ContentEncoding implements Serializer.
func (*Zstd) ContentEncoding() string { return EncodingZstd }

// Marshal implements Serializer.
func (z *Zstd) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return z.enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Unmarshal implements Serializer.
func (z *Zstd) Unmarshal(data []byte, v any) error {
	raw, err := z.dec.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("zstd decode: %w", err)
	}
	return JSON{}.Unmarshal(raw, v)
}

// Close releases the encoder and decoder.
func (z *Zstd) Close() error {
	z.dec.Close()
	return z.enc.Close()
}

// SerializerFor returns the serializer for a Content-Encoding value.
func SerializerFor(encoding string) (Serializer, error) {
	switch encoding {
	case "", "identity":
		return JSON{}, nil
	case EncodingZstd:
		return NewZstd()
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

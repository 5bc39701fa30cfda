package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

// MaybeCompress compresses frame if its payload is over CompressionThreshold
// bytes and the caller's policy asked for compression, wrapping it with a
// new 16-byte proto header (version, type=4, then an 8-byte original
// uncompressed size) ahead of the compressed bytes. frame must be a
// complete frame as returned by Builder.End. Below the threshold, or when
// compress is false, frame is returned unchanged.
func MaybeCompress(frame []byte, compress bool) ([]byte, error) {
	payloadLen := len(frame) - ProtoHeaderSize
	if !compress || payloadLen <= CompressionThreshold {
		return frame, nil
	}

	var compressed bytes.Buffer
	zw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
	if err != nil {
		return nil, errors.Wrap(err, "create flate writer")
	}
	if _, err := zw.Write(frame); err != nil {
		return nil, errors.Wrap(err, "compress frame")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "flush flate writer")
	}

	out := make([]byte, 16+compressed.Len())
	putProtoHeader(out, ProtoVersion, MsgTypeCompressed, uint64(8+compressed.Len()))
	binary.BigEndian.PutUint64(out[ProtoHeaderSize:16], uint64(len(frame)))
	copy(out[16:], compressed.Bytes())
	return out, nil
}

// Decompress reverses MaybeCompress: given the 16-byte compressed proto
// header plus compressed payload (with the outer 8-byte proto header
// already stripped by the caller), returns the original uncompressed
// frame including its own proto header.
func Decompress(afterProtoHeader []byte) ([]byte, error) {
	if len(afterProtoHeader) < 8 {
		return nil, errors.New("short compressed payload header")
	}
	originalSize := binary.BigEndian.Uint64(afterProtoHeader[:8])
	zr := flate.NewReader(bytes.NewReader(afterProtoHeader[8:]))
	defer zr.Close()

	out := make([]byte, originalSize)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, errors.Wrap(err, "decompress frame")
	}
	return out, nil
}

package codec

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// dictionary is the compiled-in zstd dictionary shared by every compressed
// frame. Production builds replace zstd_dictionary.bin with the real
// ~110KB Jetstream dictionary asset. WithDecoderDicts accepts only a
// zstd-format dictionary (one that starts with the zstd dictionary magic
// number).
//
//go:embed zstd_dictionary.bin
var dictionary []byte

// maxFrameSize bounds the decompression target buffer to cap per-message
// memory, per the codec's contract.
const maxFrameSize = 1 << 20 // 1MiB, comfortably above the 80KB floor

var getDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
	return zstd.NewReader(nil,
		zstd.WithDecoderDicts(dictionary),
		zstd.WithDecoderMaxMemory(maxFrameSize),
	)
})

// Decode parses a single firehose frame into an EventRecord. When compressed
// is true, data is first zstd-decompressed using the shared dictionary
// decoder. A malformed JSON payload is logged and reported as a nil record
// with a nil error (the caller drops the message); a decompression failure
// is returned as an error, since it indicates a dictionary mismatch between
// producer and consumer and is not safe to silently ignore.
func Decode(data []byte, compressed bool) (*EventRecord, error) {
	if compressed {
		dec, err := getDecoder()
		if err != nil {
			return nil, fmt.Errorf("initialize zstd decoder: %w", err)
		}

		plain, err := dec.DecodeAll(data, make([]byte, 0, len(data)*3))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress frame: %w", err)
		}
		data = plain
	}

	var rec EventRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		slog.Default().Warn("dropping unparseable firehose frame", "err", err, "len", len(data))
		return nil, nil
	}

	return &rec, nil
}

package cache

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/dentflow/offgate/internal/offgate"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Entries are stored as zstd-compressed JSON envelopes. Response bodies for
// pages and API payloads compress well, and decompression restores the exact
// bytes the fallback paths must replay.

const (
	dirMode  os.FileMode = 0700
	fileMode os.FileMode = 0600
)

var (
	allocEnc sync.Once
	allocDec sync.Once
	enc      *zstd.Encoder
	dec      *zstd.Decoder
)

func getZstdEncoder() *zstd.Encoder {
	allocEnc.Do(func() {
		opts := []zstd.EOption{
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			// Disable CRC, the filesystem is trusted here and it makes the
			// compressed data four bytes shorter.
			zstd.WithEncoderCRC(false),
			// Set a window of 512kbyte, so we have good lookbehind for usual
			// response sizes.
			zstd.WithWindowSize(512 * 1024),
		}

		e, err := zstd.NewWriter(nil, opts...)
		if err != nil {
			panic(err)
		}
		enc = e
	})
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	allocDec.Do(func() {
		opts := []zstd.DOption{
			// Use all available cores.
			zstd.WithDecoderConcurrency(0),
			// Limit the maximum decompressed entry size to 64 MiB.
			zstd.WithDecoderMaxMemory(64 * 1024 * 1024),
		}

		d, err := zstd.NewReader(nil, opts...)
		if err != nil {
			panic(err)
		}
		dec = d
	})
	return dec
}

func encodeEntry(cr *offgate.CapturedResponse) ([]byte, error) {
	plain, err := json.Marshal(cr)
	if err != nil {
		return nil, errors.Wrap(err, "json.Marshal")
	}
	return getZstdEncoder().EncodeAll(plain, nil), nil
}

func decodeEntry(buf []byte) (*offgate.CapturedResponse, error) {
	plain, err := getZstdDecoder().DecodeAll(buf, nil)
	if err != nil {
		return nil, errors.Wrap(err, "zstd.DecodeAll")
	}

	var cr offgate.CapturedResponse
	if err := json.Unmarshal(plain, &cr); err != nil {
		return nil, errors.Wrap(err, "json.Unmarshal")
	}
	return &cr, nil
}

package storage

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"shd/internal/models"
)

type CompressorInterface interface {
	Compress(val []byte) ([]byte, error)
	Decompress(val []byte) ([]byte, error)
	Close()
}

type ZstdCompression struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func (z *ZstdCompression) Compress(val []byte) ([]byte, error) {
	return z.encoder.EncodeAll(val, make([]byte, 0, len(val)/2)), nil
}

func (z *ZstdCompression) Decompress(val []byte) ([]byte, error) {
	return z.decoder.DecodeAll(val, nil)
}

func (z *ZstdCompression) Close() {
	_ = z.encoder.Close()
	z.decoder.Close()
}

func NewZstdCompressor() (CompressorInterface, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &ZstdCompression{encoder: encoder, decoder: decoder}, nil
}

// encodeDocument serializes a whole history for the document backends.
func encodeDocument(c CompressorInterface, h *models.History) ([]byte, error) {
	data, err := json.Marshal(h.Normalize())
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}
	return c.Compress(data)
}

func decodeDocument(c CompressorInterface, raw []byte) (*models.History, error) {
	data, err := c.Decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("decompress history: %w", err)
	}
	var h models.History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return h.Normalize(), nil
}

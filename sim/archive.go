package sim

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// CompressionType represents the compression algorithm used
type CompressionType uint8

const (
	CompressionNone   CompressionType = 0
	CompressionLZ4    CompressionType = 1
	CompressionSnappy CompressionType = 2
)

func (t CompressionType) String() string {
	switch t {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionSnappy:
		return "snappy"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseCompressionType maps a configured codec name onto its type
func ParseCompressionType(name string) (CompressionType, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "snappy":
		return CompressionSnappy, nil
	default:
		return CompressionNone, NewSimError(ErrCodeUnsupportedCodec, "ParseCompressionType",
			fmt.Sprintf("unknown codec name: %s", name), nil)
	}
}

// ArchiveEnvelope wraps a compressed trace payload with its metadata
type ArchiveEnvelope struct {
	Codec            CompressionType
	UncompressedSize uint32
	CompressedSize   uint32
	Checksum         uint32 // CRC32 of the uncompressed payload
	Payload          []byte
}

// Trace archive header layout:
// [0-1]: Magic number (0xF1F0)
// [2]: Codec (0=none, 1=LZ4, 2=Snappy)
// [3]: Format version
// [4-7]: Uncompressed size
// [8-11]: Compressed size
// [12-15]: Payload checksum (CRC32)
// [16+]: Compressed payload

const (
	ArchiveMagic          = 0xF1F0
	ArchiveVersion        = 1
	ArchiveHeaderSize     = 16
	MinCompressionSavings = 64 // Minimum bytes saved to keep compression
)

// CompressPayload compresses a trace payload using the specified codec.
// Falls back to storing the payload raw when compression saves too little.
func CompressPayload(data []byte, codec CompressionType) (*ArchiveEnvelope, error) {
	if len(data) == 0 {
		return nil, NewSimError(ErrCodeInvalidArgument, "CompressPayload", "payload is empty", nil)
	}

	// Checksum covers the original payload
	checksum := crc32Checksum(data)

	var compressed []byte

	switch codec {
	case CompressionNone:
		compressed = data

	case CompressionLZ4:
		compressed = make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, compressed, nil)
		if err != nil {
			return nil, ErrTraceOperation("CompressPayload", err)
		}
		// LZ4 returns 0 when the block is not compressible
		if n == 0 {
			codec = CompressionNone
			compressed = data
		} else {
			compressed = compressed[:n]
		}

	case CompressionSnappy:
		compressed = snappy.Encode(nil, data)

	default:
		return nil, ErrUnsupportedCodec("CompressPayload", uint8(codec))
	}

	// Check if compression is worthwhile
	if codec != CompressionNone {
		savings := len(data) - len(compressed)
		if savings < MinCompressionSavings {
			codec = CompressionNone
			compressed = data
		}
	}

	return &ArchiveEnvelope{
		Codec:            codec,
		UncompressedSize: uint32(len(data)),
		CompressedSize:   uint32(len(compressed)),
		Checksum:         checksum,
		Payload:          compressed,
	}, nil
}

// DecompressPayload recovers the original payload and verifies its checksum
func DecompressPayload(env *ArchiveEnvelope) ([]byte, error) {
	var decompressed []byte
	var err error

	switch env.Codec {
	case CompressionNone:
		decompressed = env.Payload

	case CompressionLZ4:
		decompressed = make([]byte, env.UncompressedSize)
		n, err := lz4.UncompressBlock(env.Payload, decompressed)
		if err != nil {
			return nil, ErrArchiveCorrupted("DecompressPayload", err)
		}
		if n != int(env.UncompressedSize) {
			return nil, NewSimError(ErrCodeArchiveCorrupted, "DecompressPayload",
				fmt.Sprintf("LZ4 size mismatch: got %d, expected %d", n, env.UncompressedSize), nil)
		}

	case CompressionSnappy:
		decompressed, err = snappy.Decode(nil, env.Payload)
		if err != nil {
			return nil, ErrArchiveCorrupted("DecompressPayload", err)
		}
		if len(decompressed) != int(env.UncompressedSize) {
			return nil, NewSimError(ErrCodeArchiveCorrupted, "DecompressPayload",
				fmt.Sprintf("snappy size mismatch: got %d, expected %d", len(decompressed), env.UncompressedSize), nil)
		}

	default:
		return nil, ErrUnsupportedCodec("DecompressPayload", uint8(env.Codec))
	}

	// Verify checksum
	checksum := crc32Checksum(decompressed)
	if checksum != env.Checksum {
		return nil, ErrChecksumMismatch("DecompressPayload", env.Checksum, checksum)
	}

	return decompressed, nil
}

// SerializeArchive serializes an envelope to its on-disk form
func SerializeArchive(env *ArchiveEnvelope) []byte {
	buf := make([]byte, ArchiveHeaderSize+len(env.Payload))

	binary.LittleEndian.PutUint16(buf[0:2], ArchiveMagic)
	buf[2] = uint8(env.Codec)
	buf[3] = ArchiveVersion
	binary.LittleEndian.PutUint32(buf[4:8], env.UncompressedSize)
	binary.LittleEndian.PutUint32(buf[8:12], env.CompressedSize)
	binary.LittleEndian.PutUint32(buf[12:16], env.Checksum)
	copy(buf[ArchiveHeaderSize:], env.Payload)

	return buf
}

// DeserializeArchive parses the on-disk form back into an envelope
func DeserializeArchive(data []byte) (*ArchiveEnvelope, error) {
	if len(data) < ArchiveHeaderSize {
		return nil, NewSimError(ErrCodeArchiveCorrupted, "DeserializeArchive",
			fmt.Sprintf("data too short for archive header: %d bytes", len(data)), nil)
	}

	magic := binary.LittleEndian.Uint16(data[0:2])
	if magic != ArchiveMagic {
		return nil, NewSimError(ErrCodeArchiveCorrupted, "DeserializeArchive",
			fmt.Sprintf("invalid magic number: got %04x, expected %04x", magic, ArchiveMagic), nil)
	}

	if data[3] != ArchiveVersion {
		return nil, NewSimError(ErrCodeArchiveCorrupted, "DeserializeArchive",
			fmt.Sprintf("unsupported archive version: %d", data[3]), nil)
	}

	codec := CompressionType(data[2])
	uncompressedSize := binary.LittleEndian.Uint32(data[4:8])
	compressedSize := binary.LittleEndian.Uint32(data[8:12])
	checksum := binary.LittleEndian.Uint32(data[12:16])

	if ArchiveHeaderSize+int(compressedSize) > len(data) {
		return nil, NewSimError(ErrCodeArchiveCorrupted, "DeserializeArchive",
			fmt.Sprintf("insufficient data: need %d bytes, have %d",
				ArchiveHeaderSize+int(compressedSize), len(data)), nil)
	}

	payload := make([]byte, compressedSize)
	copy(payload, data[ArchiveHeaderSize:ArchiveHeaderSize+int(compressedSize)])

	return &ArchiveEnvelope{
		Codec:            codec,
		UncompressedSize: uncompressedSize,
		CompressedSize:   compressedSize,
		Checksum:         checksum,
		Payload:          payload,
	}, nil
}

// IsArchive checks whether the data starts with the archive magic
func IsArchive(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	return binary.LittleEndian.Uint16(data[0:2]) == ArchiveMagic
}

// GetCompressionRatio returns original size over stored size
func (env *ArchiveEnvelope) GetCompressionRatio() float64 {
	if env.CompressedSize == 0 {
		return 1.0
	}
	return float64(env.UncompressedSize) / float64(env.CompressedSize)
}

// GetSpaceSavings returns bytes saved by compression
func (env *ArchiveEnvelope) GetSpaceSavings() int {
	return int(env.UncompressedSize) - int(env.CompressedSize)
}

// WriteTraceArchive snapshots the engine and writes its trace as a
// compressed archive
func WriteTraceArchive(w io.Writer, engine *Engine, codec CompressionType) error {
	doc := NewTraceDocument(engine)
	payload, err := json.Marshal(doc)
	if err != nil {
		return ErrTraceOperation("WriteTraceArchive", err)
	}

	env, err := CompressPayload(payload, codec)
	if err != nil {
		return err
	}

	if _, err := w.Write(SerializeArchive(env)); err != nil {
		return ErrTraceOperation("WriteTraceArchive", err)
	}

	engine.Metrics().RecordTraceExport()
	engine.Metrics().RecordArchiveSizes(uint64(env.UncompressedSize), uint64(env.CompressedSize))
	return nil
}

// ReadTraceArchive parses a compressed archive back into a trace document
func ReadTraceArchive(r io.Reader) (*TraceDocument, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, NewSimError(ErrCodeTraceReadFailed, "ReadTraceArchive", "archive read failed", err)
	}

	env, err := DeserializeArchive(data)
	if err != nil {
		return nil, err
	}

	payload, err := DecompressPayload(env)
	if err != nil {
		return nil, err
	}

	var doc TraceDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, ErrArchiveCorrupted("ReadTraceArchive", err)
	}

	return &doc, nil
}

// ExportTraceArchive writes the engine's trace archive to a file
func ExportTraceArchive(engine *Engine, path string, codec CompressionType) error {
	file, err := os.Create(path)
	if err != nil {
		return ErrTraceOperation("ExportTraceArchive", err)
	}
	defer file.Close()

	if err := WriteTraceArchive(file, engine, codec); err != nil {
		return err
	}
	return file.Sync()
}

// ImportTraceArchive reads a trace archive from a file
func ImportTraceArchive(path string) (*TraceDocument, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, NewSimError(ErrCodeTraceReadFailed, "ImportTraceArchive", "archive open failed", err)
	}
	defer file.Close()

	return ReadTraceArchive(file)
}

// CRC32 checksum helper
func crc32Checksum(data []byte) uint32 {
	// Simple CRC32 implementation (using IEEE polynomial)
	const poly = 0xEDB88320
	crc := uint32(0xFFFFFFFF)

	for _, b := range data {
		crc ^= uint32(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
	}

	return ^crc
}

package tone

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed length of the container header in bytes.
const HeaderSize = 44

// Field values fixed by the container layout.
const (
	fmtChunkSize  = 16
	formatPCM     = 1
	channelsMono  = 1
	bitsPerSample = 16
	blockAlign    = channelsMono * bitsPerSample / 8
)

// ErrMalformed is returned by [ParseHeader] and [Decode] for byte sequences
// that are not a container produced by [EncodePCM].
var ErrMalformed = errors.New("tone: malformed container")

// Header is the decoded form of the 44-byte container header.
//
//	offset size field
//	 0     4    "RIFF"
//	 4     4    ChunkSize = 36 + DataSize
//	 8     4    "WAVE"
//	12     4    "fmt "
//	16     4    16
//	20     2    AudioFormat = 1 (PCM)
//	22     2    NumChannels = 1
//	24     4    SampleRate
//	28     4    ByteRate = SampleRate·2
//	32     2    BlockAlign = 2
//	34     2    BitsPerSample = 16
//	36     4    "data"
//	40     4    DataSize
type Header struct {
	ChunkSize     uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataSize      uint32
}

// NewHeader returns the header for dataBytes bytes of mono 16-bit PCM at
// sampleRate.
func NewHeader(sampleRate, dataBytes int) Header {
	return Header{
		ChunkSize:     uint32(36 + dataBytes),
		AudioFormat:   formatPCM,
		NumChannels:   channelsMono,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: bitsPerSample,
		DataSize:      uint32(dataBytes),
	}
}

// AppendBinary appends the 44 header bytes to b.
func (h Header) AppendBinary(b []byte) []byte {
	le := binary.LittleEndian
	b = append(b, "RIFF"...)
	b = le.AppendUint32(b, h.ChunkSize)
	b = append(b, "WAVE"...)
	b = append(b, "fmt "...)
	b = le.AppendUint32(b, fmtChunkSize)
	b = le.AppendUint16(b, h.AudioFormat)
	b = le.AppendUint16(b, h.NumChannels)
	b = le.AppendUint32(b, h.SampleRate)
	b = le.AppendUint32(b, h.ByteRate)
	b = le.AppendUint16(b, h.BlockAlign)
	b = le.AppendUint16(b, h.BitsPerSample)
	b = append(b, "data"...)
	b = le.AppendUint32(b, h.DataSize)
	return b
}

// EncodePCM wraps pcm in a container header. The header's size fields always
// match len(pcm)·2.
func EncodePCM(pcm []int16, sampleRate int) []byte {
	dataBytes := len(pcm) * 2
	out := make([]byte, 0, HeaderSize+dataBytes)
	out = NewHeader(sampleRate, dataBytes).AppendBinary(out)
	for _, s := range pcm {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}

// ParseHeader decodes and validates the first [HeaderSize] bytes of data.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformed, len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" ||
		string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return Header{}, fmt.Errorf("%w: bad chunk identifiers", ErrMalformed)
	}
	le := binary.LittleEndian
	if got := le.Uint32(data[16:20]); got != fmtChunkSize {
		return Header{}, fmt.Errorf("%w: fmt chunk size %d", ErrMalformed, got)
	}
	h := Header{
		ChunkSize:     le.Uint32(data[4:8]),
		AudioFormat:   le.Uint16(data[20:22]),
		NumChannels:   le.Uint16(data[22:24]),
		SampleRate:    le.Uint32(data[24:28]),
		ByteRate:      le.Uint32(data[28:32]),
		BlockAlign:    le.Uint16(data[32:34]),
		BitsPerSample: le.Uint16(data[34:36]),
		DataSize:      le.Uint32(data[40:44]),
	}
	if h.AudioFormat != formatPCM || h.NumChannels != channelsMono || h.BitsPerSample != bitsPerSample {
		return Header{}, fmt.Errorf("%w: only mono 16-bit PCM is supported", ErrMalformed)
	}
	if h.SampleRate == 0 || h.BlockAlign == 0 {
		return Header{}, fmt.Errorf("%w: sample rate %d, block align %d", ErrMalformed, h.SampleRate, h.BlockAlign)
	}
	if h.ChunkSize != 36+h.DataSize {
		return Header{}, fmt.Errorf("%w: chunk size %d does not match data size %d", ErrMalformed, h.ChunkSize, h.DataSize)
	}
	return h, nil
}

// Decode parses a container and returns its header and samples.
func Decode(data []byte) (Header, []int16, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return Header{}, nil, err
	}
	payload := data[HeaderSize:]
	if uint32(len(payload)) != h.DataSize || h.DataSize%2 != 0 {
		return Header{}, nil, fmt.Errorf("%w: payload is %d bytes, header declares %d", ErrMalformed, len(payload), h.DataSize)
	}
	pcm := make([]int16, len(payload)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(payload[i*2:]))
	}
	return h, pcm, nil
}

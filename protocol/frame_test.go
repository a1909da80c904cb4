package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// jsonOfSize returns a JSON string literal whose encoding is exactly n bytes (n >= 2).
func jsonOfSize(n int) []byte {
	return []byte(`"` + strings.Repeat("a", n-2) + `"`)
}

func TestDecodeFrame_RoundTrip_LengthBoundaries(t *testing.T) {
	masks := [][4]byte{{0, 0, 0, 0}, {0x37, 0xfa, 0x21, 0x3d}, {0xff, 0xff, 0xff, 0xff}}
	sizes := []int{2, 125, 126, 65535, 65536}

	for _, size := range sizes {
		for _, mask := range masks {
			payload := jsonOfSize(size)
			frame := EncodeClientFrame(payload, mask)

			decoded, err := DecodeFrame(frame)
			require.NoError(t, err, "size=%d mask=%v", size, mask)
			require.Equal(t, payload, decoded, "size=%d mask=%v", size, mask)
		}
	}
}

func TestDecodeFrame_EmptyPayloadIsNotJSON(t *testing.T) {
	req := require.New(t)

	// Given a zero-length text frame
	frame := EncodeClientFrame(nil, [4]byte{1, 2, 3, 4})

	// Then framing is accepted but the empty payload is rejected as a JSON document
	_, err := DecodeFrame(frame)
	req.ErrorIs(err, ErrInvalidPayload)
	req.ErrorIs(err, ErrFrameDecode)
}

func TestDecodeFrame_UTF8Payload(t *testing.T) {
	req := require.New(t)
	payload, err := json.Marshal(map[string]string{"text": "héllo 世界 🎉"})
	req.NoError(err)

	decoded, err := DecodeFrame(EncodeClientFrame(payload, [4]byte{9, 8, 7, 6}))
	req.NoError(err)
	req.Equal(payload, decoded)
}

func TestDecodeFrame_Errors(t *testing.T) {
	valid := EncodeClientFrame([]byte(`{"type":"heartbeat"}`), [4]byte{1, 2, 3, 4})

	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{name: "empty input", raw: nil, want: ErrTruncatedFrame},
		{name: "single byte", raw: []byte{0x81}, want: ErrTruncatedFrame},
		{name: "close frame", raw: []byte{0x88, 0x80, 0, 0, 0, 0}, want: ErrCloseFrame},
		{name: "binary frame", raw: []byte{0x82, 0x80, 0, 0, 0, 0}, want: ErrUnsupportedOpcode},
		{name: "ping frame", raw: []byte{0x89, 0x80, 0, 0, 0, 0}, want: ErrUnsupportedOpcode},
		{name: "fragmented text", raw: []byte{0x01, 0x80, 0, 0, 0, 0}, want: ErrFragmentedFrame},
		{name: "unmasked text", raw: EncodeFrame([]byte(`{}`)), want: ErrUnmaskedFrame},
		{name: "missing mask", raw: []byte{0x81, 0x82, 1, 2}, want: ErrTruncatedFrame},
		{name: "short payload", raw: valid[:len(valid)-3], want: ErrTruncatedFrame},
		{name: "missing 16-bit length", raw: []byte{0x81, 0x80 | 126, 0}, want: ErrTruncatedFrame},
		{name: "missing 64-bit length", raw: []byte{0x81, 0x80 | 127, 0, 0, 0}, want: ErrTruncatedFrame},
		{name: "not json", raw: EncodeClientFrame([]byte("hello"), [4]byte{1, 2, 3, 4}), want: ErrInvalidPayload},
		{name: "invalid utf8", raw: EncodeClientFrame([]byte{'"', 0xff, 0xfe, '"'}, [4]byte{1, 2, 3, 4}), want: ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.raw)
			require.ErrorIs(t, err, tt.want)
			require.ErrorIs(t, err, ErrFrameDecode)
		})
	}
}

func TestEncodeFrame_DeclaredLengthMatchesPayload(t *testing.T) {
	tests := []struct {
		size       int
		headerSize int
		marker     byte
	}{
		{size: 0, headerSize: 2, marker: 0},
		{size: 125, headerSize: 2, marker: 125},
		{size: 126, headerSize: 4, marker: 126},
		{size: 65535, headerSize: 4, marker: 126},
		{size: 65536, headerSize: 10, marker: 127},
	}

	for _, tt := range tests {
		payload := bytes.Repeat([]byte{'x'}, tt.size)
		frame := EncodeFrame(payload)

		require.Equal(t, TextFinal, frame[0])
		// Server frames are never masked
		require.Zero(t, frame[1]&0x80)
		require.Equal(t, tt.marker, frame[1]&0x7F)
		require.Len(t, frame, tt.headerSize+tt.size)

		var declared uint64
		switch tt.marker {
		case 126:
			declared = uint64(binary.BigEndian.Uint16(frame[2:4]))
		case 127:
			declared = binary.BigEndian.Uint64(frame[2:10])
		default:
			declared = uint64(tt.marker)
		}
		require.Equal(t, uint64(tt.size), declared)
		require.Equal(t, payload, frame[tt.headerSize:])
	}
}

func TestReadFrame_SplitsStreamIntoFrames(t *testing.T) {
	req := require.New(t)
	first := EncodeClientFrame([]byte(`{"type":"heartbeat"}`), [4]byte{1, 2, 3, 4})
	second := EncodeClientFrame(jsonOfSize(300), [4]byte{5, 6, 7, 8})
	third := EncodeClientFrame(jsonOfSize(70000), [4]byte{9, 10, 11, 12})

	// Given three frames back to back on the same stream
	stream := bufio.NewReader(bytes.NewReader(append(append(append([]byte{}, first...), second...), third...)))

	// When frames are read one after the other
	// Then each one is returned intact
	for _, want := range [][]byte{first, second, third} {
		raw, err := ReadFrame(stream, 1<<20)
		req.NoError(err)
		req.Equal(want, raw)
	}
}

func TestReadFrame_RejectsOversizedFrame(t *testing.T) {
	req := require.New(t)
	frame := EncodeClientFrame(jsonOfSize(2048), [4]byte{1, 2, 3, 4})

	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(frame)), 1024)
	req.ErrorIs(err, ErrFrameTooLarge)
}

func TestReadFrame_UnmaskedFrameHasNoMaskBytes(t *testing.T) {
	req := require.New(t)
	frame := EncodeFrame([]byte(`{"type":"status"}`))

	raw, err := ReadFrame(bufio.NewReader(bytes.NewReader(frame)), 0)
	req.NoError(err)
	req.Equal(frame, raw)
}

func TestDecodeServerFrame(t *testing.T) {
	req := require.New(t)
	payload := jsonOfSize(1000)

	decoded, err := DecodeServerFrame(EncodeFrame(payload))
	req.NoError(err)
	req.Equal(payload, decoded)

	_, err = DecodeServerFrame([]byte{0x88, 0x00})
	req.ErrorIs(err, ErrCloseFrame)

	_, err = DecodeServerFrame(EncodeFrame(payload)[:50])
	req.ErrorIs(err, ErrTruncatedFrame)
}

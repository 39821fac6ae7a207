package pipeline

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rbright/voxpage/internal/config"
)

// openDump creates debug/<kind>-<timestamp>.<ext> under the state directory.
func openDump(kind string, ext string, now time.Time) (*os.File, error) {
	state, err := config.StateDir()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(state, "debug")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create debug dir: %w", err)
	}

	name := kind + "-" + now.Format("20060102-150405.000") + "." + ext
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open debug dump: %w", err)
	}
	return file, nil
}

// wavHeader is the canonical 44-byte RIFF header for 16-bit PCM.
type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	Format        uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

func newWAVHeader(dataLen int, sampleRate int) wavHeader {
	const channels, bits = 1, 16
	block := channels * bits / 8
	return wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataLen),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		Format:        1,
		Channels:      channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * block),
		BlockAlign:    uint16(block),
		BitsPerSample: bits,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataLen),
	}
}

// writeWAV writes mono s16le pcm as a WAV file.
func writeWAV(w io.Writer, pcm []byte, sampleRate int) error {
	if err := binary.Write(w, binary.LittleEndian, newWAVHeader(len(pcm), sampleRate)); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}

package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const wavHeaderSize = 44

// WriteWAV writes a canonical 16-bit PCM RIFF/WAVE stream.
func WriteWAV(w io.Writer, pcm []byte, sampleRate int, channels int) error {
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	blockAlign := channels * (bitsPerSample / 8)

	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}

// EncodeWAV returns pcm wrapped in a WAV container.
func EncodeWAV(pcm []byte, sampleRate int, channels int) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	_ = WriteWAV(&buf, pcm, sampleRate, channels)
	return buf.Bytes()
}

// WriteWAVFile writes pcm to path with owner-only permissions.
func WriteWAVFile(path string, pcm []byte, sampleRate int, channels int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create wav directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open wav file: %w", err)
	}
	if err := WriteWAV(file, pcm, sampleRate, channels); err != nil {
		_ = file.Close()
		return fmt.Errorf("write wav file: %w", err)
	}
	return file.Close()
}

// WAVInfo is the subset of a WAV fmt chunk the pipeline checks.
type WAVInfo struct {
	Format        uint16
	Channels      int
	SampleRate    int
	BitsPerSample int
}

// skipWAVHeader consumes a RIFF header up to the start of the data chunk when
// r begins with one. Raw PCM input is left untouched.
func skipWAVHeader(r *bufio.Reader) (WAVInfo, bool, error) {
	magic, err := r.Peek(12)
	if err != nil || string(magic[0:4]) != "RIFF" || string(magic[8:12]) != "WAVE" {
		return WAVInfo{}, false, nil
	}
	if _, err := r.Discard(12); err != nil {
		return WAVInfo{}, true, err
	}

	var info WAVInfo
	chunkHeader := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, chunkHeader); err != nil {
			return info, true, fmt.Errorf("read wav chunk header: %w", err)
		}
		id := string(chunkHeader[0:4])
		size := int(binary.LittleEndian.Uint32(chunkHeader[4:8]))

		switch id {
		case "data":
			return info, true, nil
		case "fmt ":
			if size < 16 {
				return info, true, errors.New("wav fmt chunk too short")
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return info, true, fmt.Errorf("read wav fmt chunk: %w", err)
			}
			info.Format = binary.LittleEndian.Uint16(body[0:2])
			info.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
		default:
			if _, err := r.Discard(size + size%2); err != nil {
				return info, true, fmt.Errorf("skip wav chunk %q: %w", id, err)
			}
		}
	}
}

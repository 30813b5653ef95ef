package audio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/stretchr/testify/require"
)

func TestFormatChunkBytes(t *testing.T) {
	require.Equal(t, 3200, DefaultFormat().ChunkBytes())
	require.Equal(t, 640, Format{SampleRate: 16000, Channels: 1, ChunkDuration: 20 * time.Millisecond}.ChunkBytes())
	require.Equal(t, 1280, Format{SampleRate: 16000, Channels: 2, ChunkDuration: 20 * time.Millisecond}.ChunkBytes())
	require.Equal(t, 3200, Format{}.ChunkBytes())
}

func TestChooseDeviceDefault(t *testing.T) {
	devices := []Device{
		{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Default: true},
		{ID: "sony", Description: "Sony WH-1000XM6", Available: true},
	}

	selection, err := chooseDevice(devices, "default", "")
	require.NoError(t, err)
	require.Equal(t, "elgato", selection.Device.ID)
	require.Empty(t, selection.Warning)
	require.False(t, selection.Fallback)
}

func TestChooseDeviceByDescription(t *testing.T) {
	devices := []Device{
		{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Default: true},
		{ID: "usb-mic", Description: "Blue Yeti", Available: true},
	}

	selection, err := chooseDevice(devices, " YETI ", "")
	require.NoError(t, err)
	require.Equal(t, "usb-mic", selection.Device.ID)
}

func TestChooseDeviceMutedUsesFallback(t *testing.T) {
	devices := []Device{
		{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Muted: true, Default: true},
		{ID: "sony", Description: "Sony WH-1000XM6", Available: true},
	}

	selection, err := chooseDevice(devices, "elgato", "sony")
	require.NoError(t, err)
	require.Equal(t, "sony", selection.Device.ID)
	require.Contains(t, selection.Warning, "muted")
	require.True(t, selection.Fallback)
}

func TestChooseDeviceUnavailableFallsBackToDefault(t *testing.T) {
	devices := []Device{
		{ID: "elgato", Available: true, Default: true},
		{ID: "headset", Available: false},
	}

	selection, err := chooseDevice(devices, "headset", "")
	require.NoError(t, err)
	require.Equal(t, "elgato", selection.Device.ID)
	require.Contains(t, selection.Warning, "unavailable")
}

func TestChooseDeviceErrors(t *testing.T) {
	_, err := chooseDevice(nil, "", "")
	require.ErrorContains(t, err, "no audio input devices")

	devices := []Device{{ID: "elgato", Available: true, Muted: true, Default: true}}
	_, err = chooseDevice(devices, "", "")
	require.ErrorContains(t, err, "muted")

	_, err = chooseDevice(devices, "missing", "")
	require.ErrorContains(t, err, "did not match")

	_, err = chooseDevice(devices, "", "missing")
	require.ErrorContains(t, err, "fallback failed")
}

func TestDeviceMatches(t *testing.T) {
	dev := Device{ID: "alsa_input.usb-elgato", Description: "Elgato Wave 3 Mono"}
	require.True(t, deviceMatches(dev, "elgato"))
	require.True(t, deviceMatches(dev, "wave 3"))
	require.False(t, deviceMatches(dev, "missing"))
	require.False(t, deviceMatches(dev, ""))
}

func TestListDevicesFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := ListDevices(context.Background())
	require.Error(t, err)

	source := &PulseSource{Device: "default"}
	_, err = source.Open(context.Background())
	require.Error(t, err)
}

func TestSourceStateString(t *testing.T) {
	require.Equal(t, "running", sourceStateString(0))
	require.Equal(t, "idle", sourceStateString(1))
	require.Equal(t, "suspended", sourceStateString(2))
	require.Equal(t, "unknown(99)", sourceStateString(99))
}

func TestSourceAvailable(t *testing.T) {
	require.False(t, sourceAvailable(nil))
	require.True(t, sourceAvailable(&pulseproto.GetSourceInfoReply{}))

	yes := &pulseproto.GetSourceInfoReply{ActivePortName: "mic"}
	setSourcePorts(t, yes, []sourcePort{{name: "mic", available: 2}})
	require.True(t, sourceAvailable(yes))

	no := &pulseproto.GetSourceInfoReply{ActivePortName: "mic"}
	setSourcePorts(t, no, []sourcePort{{name: "line", available: 2}, {name: "mic", available: 1}})
	require.False(t, sourceAvailable(no))
}

func TestPulseStreamChunksAndFlushesTail(t *testing.T) {
	stream := newPulseStream(Device{ID: "mic"}, 640)

	input := make([]byte, 640+110)
	for i := range input {
		input[i] = byte(i % 251)
	}

	n, err := stream.onPCM(input)
	require.NoError(t, err)
	require.Equal(t, len(input), n)
	require.Equal(t, int64(len(input)), stream.BytesCaptured())

	first := <-stream.Chunks()
	require.Equal(t, input[:640], first)

	require.NoError(t, stream.Stop())
	require.NoError(t, stream.Stop())

	tail, ok := <-stream.Chunks()
	require.True(t, ok)
	require.Equal(t, input[640:], tail)

	_, ok = <-stream.Chunks()
	require.False(t, ok)
	require.NoError(t, stream.Err())
}

func TestPulseStreamRejectsAfterStop(t *testing.T) {
	stream := newPulseStream(Device{ID: "mic"}, 640)
	require.NoError(t, stream.Stop())

	n, err := stream.onPCM([]byte{1, 2, 3})
	require.Equal(t, 0, n)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, int64(0), stream.BytesCaptured())
}

func TestPulseStreamServerLossEndsStreamWithError(t *testing.T) {
	stream := newPulseStream(Device{ID: "mic"}, 4)
	var lost atomic.Bool
	stream.lost = func() (bool, error) {
		if !lost.Load() {
			return false, nil
		}
		return true, errors.New("pulseaudio: connection closed")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stream.watch(ctx, 5*time.Millisecond)

	_, err := stream.onPCM([]byte{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, <-stream.Chunks())
	require.NoError(t, stream.Err())

	lost.Store(true)
	tail, ok := <-stream.Chunks()
	require.True(t, ok)
	require.Equal(t, []byte{5, 6}, tail)

	_, ok = <-stream.Chunks()
	require.False(t, ok)
	require.ErrorContains(t, stream.Err(), "connection closed")
}

func TestPulseStreamServerLossWithoutCause(t *testing.T) {
	stream := newPulseStream(Device{ID: "mic"}, 4)
	stream.lost = func() (bool, error) { return true, nil }
	go stream.watch(context.Background(), time.Millisecond)

	for range stream.Chunks() {
	}
	require.ErrorIs(t, stream.Err(), errServerLost)
}

func TestPulseStreamWatchStopsOnCancel(t *testing.T) {
	stream := newPulseStream(Device{ID: "mic"}, 4)
	ctx, cancel := context.WithCancel(context.Background())
	go stream.watch(ctx, time.Hour)

	cancel()
	for range stream.Chunks() {
	}
	require.NoError(t, stream.Err())
}

func TestWriteWAVHeader(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	out := EncodeWAV(pcm, 16000, 1)

	require.Len(t, out, 44+len(pcm))
	require.Equal(t, "RIFF", string(out[0:4]))
	require.Equal(t, uint32(36+len(pcm)), binary.LittleEndian.Uint32(out[4:8]))
	require.Equal(t, "WAVE", string(out[8:12]))
	require.Equal(t, uint16(1), binary.LittleEndian.Uint16(out[22:24]))
	require.Equal(t, uint32(16000), binary.LittleEndian.Uint32(out[24:28]))
	require.Equal(t, uint32(32000), binary.LittleEndian.Uint32(out[28:32]))
	require.Equal(t, uint16(16), binary.LittleEndian.Uint16(out[34:36]))
	require.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(out[40:44]))
	require.Equal(t, pcm, out[44:])
}

func TestSkipWAVHeaderRoundTrip(t *testing.T) {
	pcm := []byte{9, 8, 7, 6}
	reader := bufio.NewReader(bytes.NewReader(EncodeWAV(pcm, 22050, 2)))

	info, isWAV, err := skipWAVHeader(reader)
	require.NoError(t, err)
	require.True(t, isWAV)
	require.Equal(t, WAVInfo{Format: 1, Channels: 2, SampleRate: 22050, BitsPerSample: 16}, info)

	rest, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, pcm, rest)
}

func TestSkipWAVHeaderLeavesRawPCM(t *testing.T) {
	reader := bufio.NewReader(bytes.NewReader([]byte{1, 2, 3, 4}))
	_, isWAV, err := skipWAVHeader(reader)
	require.NoError(t, err)
	require.False(t, isWAV)

	rest, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, rest)
}

func TestWriteWAVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug", "utterance.wav")
	require.NoError(t, WriteWAVFile(path, []byte{1, 0}, 16000, 1))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	require.Equal(t, int64(46), info.Size())
}

func smallFormat() Format {
	return Format{SampleRate: 16000, Channels: 1, ChunkDuration: time.Millisecond}
}

func readerSource(data []byte) *ReaderSource {
	return &ReaderSource{
		OpenFunc: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
		Format:   smallFormat(),
	}
}

func collect(t *testing.T, stream Stream) [][]byte {
	t.Helper()
	var out [][]byte
	timeout := time.After(2 * time.Second)
	for {
		select {
		case chunk, ok := <-stream.Chunks():
			if !ok {
				return out
			}
			out = append(out, chunk)
		case <-timeout:
			t.Fatal("timed out waiting for stream to end")
		}
	}
}

func TestReaderSourceChunksRawPCM(t *testing.T) {
	data := make([]byte, 32*3+10+1)
	stream, err := readerSource(data).Open(context.Background())
	require.NoError(t, err)

	chunks := collect(t, stream)
	require.Len(t, chunks, 4)
	for _, chunk := range chunks[:3] {
		require.Len(t, chunk, 32)
	}
	require.Len(t, chunks[3], 10)
	require.NoError(t, stream.Err())
	require.NoError(t, stream.Stop())
}

func TestReaderSourceSkipsWAVHeader(t *testing.T) {
	pcm := bytes.Repeat([]byte{1, 0}, 16)
	stream, err := readerSource(EncodeWAV(pcm, 16000, 1)).Open(context.Background())
	require.NoError(t, err)

	chunks := collect(t, stream)
	require.Equal(t, [][]byte{pcm}, chunks)
}

func TestReaderSourceRejectsMismatchedWAV(t *testing.T) {
	_, err := readerSource(EncodeWAV([]byte{0, 0}, 44100, 1)).Open(context.Background())
	require.ErrorContains(t, err, "44100Hz")
}

func TestReaderSourceReportsReadError(t *testing.T) {
	source := &ReaderSource{
		OpenFunc: func() (io.ReadCloser, error) {
			return io.NopCloser(io.MultiReader(bytes.NewReader(make([]byte, 32)), errReader{})), nil
		},
		Format: smallFormat(),
	}
	stream, err := source.Open(context.Background())
	require.NoError(t, err)

	chunks := collect(t, stream)
	require.Len(t, chunks, 1)
	require.ErrorContains(t, stream.Err(), "device gone")
}

func TestReaderSourceOpenError(t *testing.T) {
	source := &ReaderSource{
		Label:    "file",
		OpenFunc: func() (io.ReadCloser, error) { return nil, os.ErrNotExist },
	}
	_, err := source.Open(context.Background())
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Equal(t, "file", source.Name())

	_, err = (&ReaderSource{}).Open(context.Background())
	require.Error(t, err)
}

func TestReaderSourceStopEndsPacedStream(t *testing.T) {
	source := readerSource(make([]byte, 32*1000))
	source.Format.ChunkDuration = 10 * time.Millisecond
	source.Realtime = true

	stream, err := source.Open(context.Background())
	require.NoError(t, err)
	<-stream.Chunks()
	require.NoError(t, stream.Stop())
	require.NoError(t, stream.Stop())

	collect(t, stream)
	require.NoError(t, stream.Err())
}

func TestFileSourceReadsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.wav")
	require.NoError(t, WriteWAVFile(path, bytes.Repeat([]byte{2, 0}, 8), 16000, 1))

	source := NewFileSource(path, smallFormat(), false)
	require.Equal(t, "file", source.Name())

	for i := 0; i < 2; i++ {
		stream, err := source.Open(context.Background())
		require.NoError(t, err)
		require.Len(t, collect(t, stream), 1)
	}
}

func nextChunk(t *testing.T, stream Stream) []byte {
	t.Helper()
	select {
	case chunk, ok := <-stream.Chunks():
		require.True(t, ok, "stream ended early")
		return chunk
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chunk")
		return nil
	}
}

func TestSharedReaderSourceResumesAcrossRestarts(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	source := NewSharedReaderSource("stdin", pr, smallFormat(), false)
	require.Equal(t, "stdin", source.Name())

	first, err := source.Open(context.Background())
	require.NoError(t, err)
	go func() { _, _ = pw.Write(bytes.Repeat([]byte{1}, 32)) }()
	require.Equal(t, bytes.Repeat([]byte{1}, 32), nextChunk(t, first))

	require.NoError(t, first.Stop())
	require.NoError(t, first.Stop())
	collect(t, first)
	require.NoError(t, first.Err())

	second, err := source.Open(context.Background())
	require.NoError(t, err)
	go func() { _, _ = pw.Write(bytes.Repeat([]byte{2}, 64)) }()
	require.Equal(t, bytes.Repeat([]byte{2}, 32), nextChunk(t, second))
	require.Equal(t, bytes.Repeat([]byte{2}, 32), nextChunk(t, second))

	_ = pw.Close()
	require.Empty(t, collect(t, second))
	require.NoError(t, second.Err())
}

func TestSharedReaderSourceSkipsLeadingWAVHeaderOnce(t *testing.T) {
	pcm := bytes.Repeat([]byte{3, 0}, 16)
	source := NewSharedReaderSource("stdin", bytes.NewReader(EncodeWAV(pcm, 16000, 1)), smallFormat(), false)

	stream, err := source.Open(context.Background())
	require.NoError(t, err)
	require.Equal(t, [][]byte{pcm}, collect(t, stream))

	again, err := source.Open(context.Background())
	require.NoError(t, err)
	require.Empty(t, collect(t, again))
}

func TestSharedReaderSourceReportsInputErrors(t *testing.T) {
	source := NewSharedReaderSource("stdin", bytes.NewReader(EncodeWAV([]byte{0, 0}, 44100, 1)), smallFormat(), false)
	stream, err := source.Open(context.Background())
	require.NoError(t, err)
	require.Empty(t, collect(t, stream))
	require.ErrorContains(t, stream.Err(), "44100Hz")

	source = NewSharedReaderSource("stdin", io.MultiReader(bytes.NewReader(make([]byte, 32)), errReader{}), smallFormat(), false)
	stream, err = source.Open(context.Background())
	require.NoError(t, err)
	require.Len(t, collect(t, stream), 1)
	require.ErrorContains(t, stream.Err(), "device gone")
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) {
	return 0, errors.New("device gone")
}

type sourcePort struct {
	name      string
	available uint32
}

func setSourcePorts(t *testing.T, reply *pulseproto.GetSourceInfoReply, ports []sourcePort) {
	t.Helper()

	sliceValue := reflect.MakeSlice(reflect.TypeOf(reply.Ports), len(ports), len(ports))
	for i, port := range ports {
		item := sliceValue.Index(i)
		item.FieldByName("Name").SetString(port.name)
		item.FieldByName("Available").SetUint(uint64(port.available))
	}
	reflect.ValueOf(reply).Elem().FieldByName("Ports").Set(sliceValue)
}

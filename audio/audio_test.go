package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

func genRamp(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(i%1000) / 1000
	}
	return s
}

func wavBytes(samples []int16, sampleRate, channels int) []byte {
	dataSize := len(samples) * 2
	buf := make([]byte, WAVHeaderSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(WAVHeaderSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*channels*2))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(channels*2))
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[WAVHeaderSize+i*2:], uint16(s))
	}
	return buf
}

func flacBytes(t *testing.T, samples []int16, sampleRate int) []byte {
	t.Helper()
	const blockSize = 4096
	var buf bytes.Buffer
	info := &meta.StreamInfo{
		BlockSizeMin:  blockSize,
		BlockSizeMax:  blockSize,
		SampleRate:    uint32(sampleRate),
		NChannels:     1,
		BitsPerSample: 16,
	}
	enc, err := flac.NewEncoder(&buf, info)
	if err != nil {
		t.Fatalf("flac.NewEncoder: %v", err)
	}
	for i := 0; i < len(samples); i += blockSize {
		block := samples[i:min(i+blockSize, len(samples))]
		s32 := make([]int32, len(block))
		for j, s := range block {
			s32[j] = int32(s)
		}
		f := &frame.Frame{
			Header: frame.Header{
				BlockSize:     uint16(len(block)),
				SampleRate:    uint32(sampleRate),
				Channels:      frame.ChannelsMono,
				BitsPerSample: 16,
			},
			Subframes: []*frame.Subframe{{
				SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
				Samples:   s32,
				NSamples:  len(block),
			}},
		}
		if err := enc.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("encoder close: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeWAVMono(t *testing.T) {
	clip, err := DecodeWAV(wavBytes([]int16{0, 16384, -16384, 32767}, 16000, 1))
	if err != nil {
		t.Fatal(err)
	}
	if clip.SampleRate != 16000 || len(clip.Samples) != 4 {
		t.Fatalf("clip = %d samples @ %d", len(clip.Samples), clip.SampleRate)
	}
	if clip.Samples[1] != 0.5 || clip.Samples[2] != -0.5 {
		t.Fatalf("samples = %v", clip.Samples)
	}
}

func TestDecodeWAVStereoDownmix(t *testing.T) {
	clip, err := DecodeWAV(wavBytes([]int16{16384, 0, -16384, -16384}, 44100, 2))
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{0.25, -0.5}
	if len(clip.Samples) != 2 || clip.Samples[0] != want[0] || clip.Samples[1] != want[1] {
		t.Fatalf("samples = %v, want %v", clip.Samples, want)
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, err := DecodeWAV([]byte("not a wav file at all")); err == nil {
		t.Fatal("expected error")
	}
}

func TestDecodeFLAC(t *testing.T) {
	pcm := make([]int16, 10000)
	for i := range pcm {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/44100))
	}
	clip, err := DecodeFLAC(bytes.NewReader(flacBytes(t, pcm, 44100)))
	if err != nil {
		t.Fatal(err)
	}
	if clip.SampleRate != 44100 || len(clip.Samples) != len(pcm) {
		t.Fatalf("clip = %d samples @ %d", len(clip.Samples), clip.SampleRate)
	}
	for i, s := range pcm {
		if clip.Samples[i] != float32(s)/32768 {
			t.Fatalf("sample %d = %v, want %v", i, clip.Samples[i], float32(s)/32768)
		}
	}
}

func TestLoadClipByExtension(t *testing.T) {
	dir := t.TempDir()
	pcm := []int16{100, 200, 300}
	wavPath := filepath.Join(dir, "a.wav")
	flacPath := filepath.Join(dir, "a.FLAC")
	if err := os.WriteFile(wavPath, wavBytes(pcm, 8000, 1), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(flacPath, flacBytes(t, pcm, 8000), 0644); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{wavPath, flacPath} {
		clip, err := LoadClip(p)
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		if len(clip.Samples) != 3 {
			t.Fatalf("%s: %d samples", p, len(clip.Samples))
		}
	}
}

func TestStreamRingKeepsLatest(t *testing.T) {
	st := &Stream{ring: make([]float32, 4)}
	st.write([]float32{1, 2, 3})
	st.write([]float32{4, 5})
	dst := make([]float32, 4)
	st.ReadFrame(dst)
	want := []float32{2, 3, 4, 5}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("frame = %v, want %v", dst, want)
		}
	}
	st.write([]float32{6, 7, 8, 9, 10, 11})
	st.ReadFrame(dst)
	want = []float32{8, 9, 10, 11}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("frame = %v, want %v", dst, want)
		}
	}
	if st.Received() != 11 {
		t.Fatalf("Received = %d", st.Received())
	}
}

func replaySource(ctx *ReplayContext, device string) *Source {
	return &Source{
		NewContext: func() (Context, error) { return ctx, nil },
		Device:     device,
	}
}

func TestSourceAcquireReplay(t *testing.T) {
	clip := Clip{Samples: genRamp(FrameSize * 3), SampleRate: SampleRate}
	rc := NewReplayContextFromClip(clip, false)
	st, err := replaySource(rc, "").Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Release()

	rep := st.Capture().(*ReplayCapture)
	select {
	case <-rep.AudioDone():
	case <-time.After(5 * time.Second):
		t.Fatal("replay never finished")
	}
	if st.Received() < uint64(len(clip.Samples)) {
		t.Fatalf("received %d samples, want >= %d", st.Received(), len(clip.Samples))
	}
	if st.DeviceName() != "replay" {
		t.Fatalf("DeviceName = %q", st.DeviceName())
	}
	st.Release()
	st.Release()
}

func TestSourceAcquireDenied(t *testing.T) {
	rc := NewReplayContextFromClip(Clip{SampleRate: SampleRate}, false)
	rc.DenyAccess()
	_, err := replaySource(rc, "").Acquire(context.Background())
	var ae *AcquisitionError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want *AcquisitionError", err)
	}
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestSourceUnknownDevice(t *testing.T) {
	rc := NewReplayContextFromClip(Clip{SampleRate: SampleRate}, false)
	_, err := replaySource(rc, "USB mic").Acquire(context.Background())
	if !errors.Is(err, ErrNoDevice) {
		t.Fatalf("err = %v, want ErrNoDevice", err)
	}
}

func TestSourceConnectFailure(t *testing.T) {
	src := &Source{NewContext: func() (Context, error) {
		return nil, errors.New("pulse: dial unix /run/user/1000/pulse/native: connect: connection refused")
	}}
	_, err := src.Acquire(context.Background())
	if !errors.Is(err, ErrNoDevice) {
		t.Fatalf("err = %v, want ErrNoDevice", err)
	}
}

func TestSourceAcquireCancelled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	src := &Source{NewContext: func() (Context, error) {
		<-block
		return nil, errors.New("late")
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Acquire(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestAcquisitionErrorClassification(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"malgo: access denied", ErrPermissionDenied},
		{"Operation not permitted: permission", ErrPermissionDenied},
		{"pulse: no such entity", ErrNoDevice},
		{"something odd", nil},
	}
	for _, tc := range tests {
		err := acquisitionError("start", errors.New(tc.msg))
		if err.Kind != tc.want {
			t.Errorf("%q: kind = %v, want %v", tc.msg, err.Kind, tc.want)
		}
	}
}

func TestIsBluetooth(t *testing.T) {
	if !IsBluetooth("AirPods Pro") || IsBluetooth("Built-in Microphone") {
		t.Fatal("bluetooth heuristic broken")
	}
}

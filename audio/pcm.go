package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mewkiz/flac"
)

// Clip is decoded mono audio ready to be replayed through a capture device.
type Clip struct {
	Samples    []float32
	SampleRate int
}

func (c Clip) Duration() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// LoadClip decodes a 16-bit PCM WAV or a FLAC file. Multi-channel input is
// downmixed to mono.
func LoadClip(path string) (Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Clip{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".flac":
		return DecodeFLAC(bytes.NewReader(data))
	default:
		return DecodeWAV(data)
	}
}

func DecodeWAV(data []byte) (Clip, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Clip{}, errors.New("wav: not a RIFF/WAVE file")
	}
	var (
		channels, bits int
		rate           int
		pcm            []byte
	)
	for pos := 12; pos+8 <= len(data); {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4:]))
		body := data[pos+8 : min(pos+8+size, len(data))]
		switch id {
		case "fmt ":
			if len(body) < 16 {
				return Clip{}, errors.New("wav: short fmt chunk")
			}
			if format := binary.LittleEndian.Uint16(body[0:]); format != 1 {
				return Clip{}, fmt.Errorf("wav: unsupported format %d (want PCM)", format)
			}
			channels = int(binary.LittleEndian.Uint16(body[2:]))
			rate = int(binary.LittleEndian.Uint32(body[4:]))
			bits = int(binary.LittleEndian.Uint16(body[14:]))
		case "data":
			pcm = body
		}
		pos += 8 + size + size%2
	}
	if channels == 0 || pcm == nil {
		return Clip{}, errors.New("wav: missing fmt or data chunk")
	}
	if bits != 16 {
		return Clip{}, fmt.Errorf("wav: unsupported bit depth %d", bits)
	}
	return Clip{Samples: downmix(pcm16ToFloat(pcm), channels), SampleRate: rate}, nil
}

func DecodeFLAC(r io.Reader) (Clip, error) {
	stream, err := flac.New(r)
	if err != nil {
		return Clip{}, fmt.Errorf("flac: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	scale := float32(int64(1) << (info.BitsPerSample - 1))
	var samples []float32
	for {
		f, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Clip{}, fmt.Errorf("flac frame: %w", err)
		}
		n := len(f.Subframes[0].Samples)
		for i := 0; i < n; i++ {
			var sum float32
			for _, sub := range f.Subframes {
				sum += float32(sub.Samples[i]) / scale
			}
			samples = append(samples, sum/float32(len(f.Subframes)))
		}
	}
	return Clip{Samples: samples, SampleRate: int(info.SampleRate)}, nil
}

func downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	out := make([]float32, len(interleaved)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

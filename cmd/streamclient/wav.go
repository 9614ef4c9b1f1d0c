package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// wavFormat is the subset of the fmt chunk the client needs.
type wavFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// readWAVHeader walks the RIFF chunks up to "data" and leaves r positioned at
// the first sample.
func readWAVHeader(r io.Reader) (wavFormat, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return wavFormat{}, fmt.Errorf("read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return wavFormat{}, errors.New("not a WAV file")
	}

	var format wavFormat
	var haveFormat bool
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return wavFormat{}, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return wavFormat{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return wavFormat{}, errors.New("short fmt chunk")
			}
			format = wavFormat{
				AudioFormat:   binary.LittleEndian.Uint16(body[0:2]),
				Channels:      binary.LittleEndian.Uint16(body[2:4]),
				SampleRate:    binary.LittleEndian.Uint32(body[4:8]),
				BitsPerSample: binary.LittleEndian.Uint16(body[14:16]),
			}
			haveFormat = true
		case "data":
			if !haveFormat {
				return wavFormat{}, errors.New("data chunk before fmt chunk")
			}
			if format.AudioFormat != 1 || format.BitsPerSample != 16 || format.Channels != 1 {
				return format, fmt.Errorf("unsupported WAV: format=%d bits=%d channels=%d, want 16-bit mono PCM",
					format.AudioFormat, format.BitsPerSample, format.Channels)
			}
			return format, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return wavFormat{}, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}

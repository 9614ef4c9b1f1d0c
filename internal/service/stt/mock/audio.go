package mock

import (
	"encoding/binary"
	"math"
)

// Tone returns samples of a 440 Hz sine at the given peak amplitude (0..1) as
// 16-bit little-endian PCM at 16 kHz.
func Tone(samples int, amplitude float64) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude * math.Sin(2*math.Pi*440*float64(i)/16000)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*32767)))
	}
	return pcm
}

// Silence returns samples of digital silence.
func Silence(samples int) []byte {
	return make([]byte, samples*2)
}

// Package audio writes agent speech to disk.
package audio

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
)

const headerLen = 44

// WAVWriter streams 16-bit little-endian mono PCM into a WAV container.
// Sizes in the header are patched on Close.
type WAVWriter struct {
	mu         sync.Mutex
	w          io.WriteSeeker
	sampleRate int
	dataLen    uint32
	closed     bool
}

// NewWAVWriter writes a provisional header and returns a writer for PCM data.
func NewWAVWriter(w io.WriteSeeker, sampleRate int) (*WAVWriter, error) {
	if sampleRate <= 0 {
		return nil, errors.New("audio: sample rate must be positive")
	}
	if _, err := w.Write(header(sampleRate, 0)); err != nil {
		return nil, err
	}
	return &WAVWriter{w: w, sampleRate: sampleRate}, nil
}

// Write appends PCM bytes. An odd trailing byte is written as-is; players
// ignore the incomplete sample.
func (ww *WAVWriter) Write(pcm []byte) (int, error) {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return 0, io.ErrClosedPipe
	}
	n, err := ww.w.Write(pcm)
	ww.dataLen += uint32(n)
	return n, err
}

// DataLen reports the number of PCM bytes written so far.
func (ww *WAVWriter) DataLen() int {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	return int(ww.dataLen)
}

// Close rewrites the header with final sizes. It does not close the
// underlying writer.
func (ww *WAVWriter) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	if _, err := ww.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := ww.w.Write(header(ww.sampleRate, ww.dataLen)); err != nil {
		return err
	}
	_, err := ww.w.Seek(0, io.SeekEnd)
	return err
}

func header(sampleRate int, dataLen uint32) []byte {
	buf := make([]byte, headerLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], dataLen+headerLen-8)
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataLen)
	return buf
}

package codec

import (
	"context"
	"os/exec"
	"testing"
	"time"
)

func requireFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not on PATH, skipping")
	}
}

func TestSamplesPerChunk(t *testing.T) {
	cases := []struct {
		rate, ms, want int
	}{
		{16000, 20, 320},
		{16000, 100, 1600},
		{48000, 20, 960},
	}
	for _, c := range cases {
		if got := samplesPerChunk(c.rate, c.ms); got != c.want {
			t.Errorf("samplesPerChunk(%d,%d) = %d, want %d", c.rate, c.ms, got, c.want)
		}
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	if c.FFmpegPath != "ffmpeg" || c.TargetSampleRate != 16000 || c.TargetChannels != 1 {
		t.Errorf("unexpected defaults: %+v", c)
	}
}

func TestPipeline_DecodesWavToPCM(t *testing.T) {
	requireFFmpeg(t)

	p := New(Config{TargetSampleRate: 16000, TargetChannels: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d, err := p.Start(ctx, 20, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Close()

	wav := silentWAV(16000, 1, 200*time.Millisecond)
	if err := d.Write(wav); err != nil {
		t.Fatalf("Write: %v", err)
	}
	d.Close() // signals EOF to ffmpeg's stdin

	got := 0
	timeout := time.After(5 * time.Second)
loop:
	for {
		select {
		case chunk, ok := <-d.Chunks():
			if !ok {
				break loop
			}
			got += len(chunk)
		case err := <-d.Err():
			t.Fatalf("decode error: %v", err)
		case <-timeout:
			t.Fatal("timed out waiting for decoded chunks")
		}
	}
	if got == 0 {
		t.Error("expected some decoded PCM bytes")
	}
}

// silentWAV builds a minimal PCM16 WAV container of the given duration so
// the test doesn't depend on any fixture file.
func silentWAV(sampleRate, channels int, dur time.Duration) []byte {
	numSamples := int(dur.Seconds() * float64(sampleRate))
	dataSize := numSamples * channels * 2
	buf := make([]byte, 44+dataSize)

	putU32 := func(off int, v uint32) {
		buf[off] = byte(v)
		buf[off+1] = byte(v >> 8)
		buf[off+2] = byte(v >> 16)
		buf[off+3] = byte(v >> 24)
	}
	putU16 := func(off int, v uint16) {
		buf[off] = byte(v)
		buf[off+1] = byte(v >> 8)
	}

	copy(buf[0:4], "RIFF")
	putU32(4, uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	putU32(16, 16)
	putU16(20, 1) // PCM
	putU16(22, uint16(channels))
	putU32(24, uint32(sampleRate))
	byteRate := sampleRate * channels * 2
	putU32(28, uint32(byteRate))
	putU16(32, uint16(channels*2))
	putU16(34, 16)
	copy(buf[36:40], "data")
	putU32(40, uint32(dataSize))
	return buf
}

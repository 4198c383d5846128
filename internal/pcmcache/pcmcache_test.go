package pcmcache

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func int16PCM(values ...int16) []byte {
	out := make([]byte, len(values)*2)
	for i, v := range values {
		out[i*2] = byte(uint16(v))
		out[i*2+1] = byte(uint16(v) >> 8)
	}
	return out
}

func TestPeakDbfs_FullScaleIsZero(t *testing.T) {
	pcm := int16PCM(32767)
	got := PeakDbfs(pcm)
	if math.Abs(got-0) > 0.01 {
		t.Errorf("PeakDbfs(full scale) = %f, want ~0", got)
	}
}

func TestPeakDbfs_Silence(t *testing.T) {
	pcm := int16PCM(0, 0, 0)
	if got := PeakDbfs(pcm); got != -math.MaxFloat64 {
		t.Errorf("PeakDbfs(silence) = %f, want -MaxFloat64", got)
	}
}

func TestPeakDbfs_HalfScaleIsAboutMinus6(t *testing.T) {
	pcm := int16PCM(16384)
	got := PeakDbfs(pcm)
	if math.Abs(got-(-6.02)) > 0.1 {
		t.Errorf("PeakDbfs(half scale) = %f, want ~-6.02", got)
	}
}

func TestNormalize_SilenceStaysUnscaled(t *testing.T) {
	pcm := int16PCM(0, 0, 0, 0)
	entry, err := Normalize(pcm, 16000, 1, 16000, 1, -3)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(entry.PCM) != len(pcm) {
		t.Errorf("len(PCM) = %d, want %d", len(entry.PCM), len(pcm))
	}
}

func TestNormalize_OddByteCountErrors(t *testing.T) {
	if _, err := Normalize([]byte{1, 2, 3}, 16000, 1, 16000, 1, -3); err == nil {
		t.Error("expected error for odd byte count")
	}
}

func TestCache_AcquireReusesSameEntry(t *testing.T) {
	c := New(WithTempDir(t.TempDir()))
	key := Key{Path: "a.wav", TargetRate: 16000}
	builds := 0
	build := func() (*Entry, error) {
		builds++
		return &Entry{PCM: []byte{1, 2}}, nil
	}

	e1, _ := c.Acquire(key, build)
	e2, _ := c.Acquire(key, build)
	if e1 != e2 {
		t.Error("expected the same Entry pointer on repeated Acquire")
	}
	if builds != 1 {
		t.Errorf("builds = %d, want 1", builds)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCache_ReleaseDeletesAtZeroRefs(t *testing.T) {
	c := New(WithTempDir(t.TempDir()))
	key := Key{Path: "a.wav"}
	build := func() (*Entry, error) { return &Entry{}, nil }

	c.Acquire(key, build)
	c.Acquire(key, build)
	c.Release(key)
	if c.Len() != 1 {
		t.Fatalf("Len() = %d after one release of two acquires, want 1", c.Len())
	}
	c.Release(key)
	if c.Len() != 0 {
		t.Errorf("Len() = %d after releasing all acquires, want 0", c.Len())
	}
}

func TestCache_DifferentKeysAreIndependent(t *testing.T) {
	c := New(WithTempDir(t.TempDir()))
	build := func() (*Entry, error) { return &Entry{}, nil }
	c.Acquire(Key{Path: "a.wav"}, build)
	c.Acquire(Key{Path: "b.wav"}, build)
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestCache_AcquireWritesTempFile(t *testing.T) {
	dir := t.TempDir()
	c := New(WithTempDir(dir))
	key := Key{Path: "a.wav"}
	build := func() (*Entry, error) { return &Entry{PCM: []byte{1, 2, 3, 4}}, nil }

	e, err := c.Acquire(key, build)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if e.Path == "" {
		t.Fatal("expected Entry.Path to be set")
	}
	if filepath.Dir(e.Path) != dir {
		t.Errorf("temp file dir = %q, want %q", filepath.Dir(e.Path), dir)
	}
	got, err := os.ReadFile(e.Path)
	if err != nil {
		t.Fatalf("read temp file: %v", err)
	}
	if string(got) != string(e.PCM) {
		t.Errorf("temp file content = %v, want %v", got, e.PCM)
	}
}

func TestCache_ReleaseUnlinksTempFileExactlyOnce(t *testing.T) {
	dir := t.TempDir()
	c := New(WithTempDir(dir))
	key := Key{Path: "a.wav"}
	build := func() (*Entry, error) { return &Entry{PCM: []byte{1, 2}}, nil }

	e, _ := c.Acquire(key, build)
	c.Acquire(key, build) // second ref, same entry, same file
	c.Release(key)
	if _, err := os.Stat(e.Path); err != nil {
		t.Fatalf("temp file removed before last release: %v", err)
	}
	c.Release(key)
	if _, err := os.Stat(e.Path); !os.IsNotExist(err) {
		t.Errorf("expected temp file %q to be unlinked after last release, stat err = %v", e.Path, err)
	}
}

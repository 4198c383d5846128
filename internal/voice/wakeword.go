package voice

import (
	"sync"

	"github.com/sttcore/streamcore/pkg/provider/vad"
)

// vadWakeDetector adapts a vad.Engine into a WakeWordDetector: it treats a
// speech-energy edge in the trailing window as the wake signal. This is a
// coarse proxy for true wake-word spotting (any sustained loud segment
// admits the mic, not just a specific phrase) — a model-backed
// WakeWordDetector can be substituted directly in voice.New without this
// package changing, since detection is intentionally just an injected
// collaborator here.
type vadWakeDetector struct {
	engine      vad.Engine
	frameSizeMs int

	mu   sync.Mutex
	sess map[int]vad.SessionHandle // keyed by sampleRate, lazily created
}

// NewVADWakeDetector wraps engine as a WakeWordDetector. frameSizeMs is the
// fixed frame size (e.g. 20ms) the engine's sessions are configured with;
// Detect re-slices whatever window length voice.Config.WakeWindowMs
// produces into frameSizeMs chunks.
func NewVADWakeDetector(engine vad.Engine, frameSizeMs int) WakeWordDetector {
	if frameSizeMs <= 0 {
		frameSizeMs = 20
	}
	return &vadWakeDetector{engine: engine, frameSizeMs: frameSizeMs, sess: make(map[int]vad.SessionHandle)}
}

// Detect feeds window to a per-sampleRate VAD session frame by frame and
// reports whether the most recent frame was classified as speech.
func (d *vadWakeDetector) Detect(window []byte, sampleRate int) bool {
	sess, err := d.sessionFor(sampleRate)
	if err != nil {
		return false
	}

	frameBytes := sampleRate * d.frameSizeMs / 1000 * 2
	if frameBytes <= 0 || len(window) < frameBytes {
		return false
	}

	speaking := false
	for off := 0; off+frameBytes <= len(window); off += frameBytes {
		ev, err := sess.ProcessFrame(window[off : off+frameBytes])
		if err != nil {
			return false
		}
		switch ev.Type {
		case vad.VADSpeechStart, vad.VADSpeechContinue:
			speaking = true
		case vad.VADSpeechEnd, vad.VADSilence:
			speaking = false
		}
	}
	return speaking
}

func (d *vadWakeDetector) sessionFor(sampleRate int) (vad.SessionHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sess, ok := d.sess[sampleRate]; ok {
		return sess, nil
	}
	sess, err := d.engine.NewSession(vad.Config{SampleRate: sampleRate, FrameSizeMs: d.frameSizeMs})
	if err != nil {
		return nil, err
	}
	d.sess[sampleRate] = sess
	return sess, nil
}

var _ WakeWordDetector = (*vadWakeDetector)(nil)

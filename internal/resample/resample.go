// Package resample provides a streaming PCM16 resampler that preserves
// per-chunk capture timestamps and durations across rate changes, so that
// audio attribution keyed on (captureTs, durationMs) survives a sample-rate
// boundary.
package resample

// Attribution pairs one audio chunk with the metadata needed to compute
// transcript latency once a provider responds.
type Attribution struct {
	CaptureTsMs float64
	DurationMs  float64
	Seq         uint32
}

// Chunk is one resampled output chunk and its re-derived attribution.
type Chunk struct {
	PCM  []byte
	Attr Attribution
}

// Resampler converts interleaved mono PCM16 at SourceRate to PCM16 at
// TargetRate, preserving attribution across the boundary. It is a
// streaming, single-chunk-in/single-chunk-out component: one Resampler
// instance is created per ProviderSession.
type Resampler struct {
	SourceRate int
	TargetRate int
}

// New returns a Resampler converting from srcRate to dstRate.
func New(srcRate, dstRate int) *Resampler {
	return &Resampler{SourceRate: srcRate, TargetRate: dstRate}
}

// PassThrough reports whether Process is a no-op for this rate pair, per the
// §4.2 contract ("pass-through when R1 == R2: input is forwarded unchanged").
func (r *Resampler) PassThrough() bool { return r.SourceRate == r.TargetRate }

// Process resamples one input chunk and re-derives its attribution so that
// captureTs' remains the end-of-chunk wall-clock timestamp in the output
// timeline.
//
// Timeline preservation: if the input spans wall-clock
// [captureTs-durationMs, captureTs], and the resampled chunk has length S out
// of an expected total E = round(inputSamples * targetRate/sourceRate), then
//
//	captureTs' = (captureTs - durationMs) + (sentSoFar+S) * (durationMs/E)
//	durationMs' = S * durationMs/E
//
// sentSoFar is the number of output samples already attributed to this input
// chunk's span from prior Process calls (always 0 here, since Process
// consumes one whole input chunk into one whole output chunk per call; the
// parameter exists so multi-part emission, e.g. by a future streaming codec
// stage, can reuse the same formula without losing the invariant).
func (r *Resampler) Process(pcm []byte, attr Attribution) Chunk {
	if r.PassThrough() {
		return Chunk{PCM: pcm, Attr: attr}
	}

	inputSamples := len(pcm) / 2
	expectedTotal := int(round(float64(inputSamples) * float64(r.TargetRate) / float64(r.SourceRate)))
	out := ResampleMono16(pcm, r.SourceRate, r.TargetRate)
	s := len(out) / 2

	if expectedTotal <= 0 {
		return Chunk{PCM: out, Attr: Attribution{CaptureTsMs: attr.CaptureTsMs, DurationMs: 0, Seq: attr.Seq}}
	}

	spanStart := attr.CaptureTsMs - attr.DurationMs
	perSample := attr.DurationMs / float64(expectedTotal)
	sentSoFar := 0 // Process always starts a fresh span at the head of the chunk.

	newCaptureTs := spanStart + float64(sentSoFar+s)*perSample
	newDuration := float64(s) * perSample

	return Chunk{
		PCM: out,
		Attr: Attribution{
			CaptureTsMs: newCaptureTs,
			DurationMs:  newDuration,
			Seq:         attr.Seq,
		},
	}
}

func round(f float64) float64 {
	if f < 0 {
		return float64(int64(f - 0.5))
	}
	return float64(int64(f + 0.5))
}

// ResampleMono16 resamples 16-bit little-endian mono PCM from srcRate to
// dstRate using linear interpolation. If srcRate == dstRate, the input is
// returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < dstSamples; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

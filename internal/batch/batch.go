// Package batch implements C9: the parallel batch job runner that replays
// uploaded files against one or more providers, scoring each result against
// an optional reference transcript.
package batch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sttcore/streamcore/internal/adapter"
	"github.com/sttcore/streamcore/internal/jobhistory"
	"github.com/sttcore/streamcore/internal/normalize"
	"github.com/sttcore/streamcore/internal/pcmcache"
	"github.com/sttcore/streamcore/internal/store"
)

// TargetRate is the PCM rate batch scoring normalizes every file to,
// matching the realtime default provider rate.
const TargetRate = 16000

// TargetPeakDbfs is the peak-normalization target applied before scoring,
// so loudness differences between uploads don't bias CER/WER.
const TargetPeakDbfs = -3.0

// FileReader loads one upload's raw PCM16 samples plus its native sample
// rate/channel count. Decoupled from any concrete decoder (wav/ffmpeg) so
// the runner can be tested without real audio files.
type FileReader interface {
	ReadPCM(path string) (pcm []byte, sampleRate, channels int, err error)
}

// ProviderSet resolves a provider name to the adapter.Provider that runs
// its batch transcription.
type ProviderSet interface {
	Provider(name string) (adapter.Provider, bool)
}

// Config bounds the runner's worker pools.
type Config struct {
	// MaxParallel caps effectiveSlots. It is itself capped at
	// runtime.NumCPU(); <= 0 falls back to runtime.NumCPU().
	MaxParallel int
}

// Manifest maps an upload path to its reference transcript, used for
// CER/WER scoring when present. Options.Manifest == nil means no manifest
// was requested: every path is scored without a reference (RefText is left
// empty, CER/WER nil). When a manifest is supplied, a path absent from it is
// a per-file fatal and counts as a failure for every provider.
type Manifest map[string]string

// Options configures one Run call.
type Options struct {
	Providers []string
	Lang      string
	Parallel  int
	Files     []string
	Manifest  Manifest
}

// Runner executes batch jobs against a ProviderSet, indexing progress in a
// jobhistory.History and persisting each FileResult to an append-only Store.
type Runner struct {
	cfg     Config
	reader  FileReader
	set     ProviderSet
	history *jobhistory.History
	results store.Store
	idSeq   func() string
	numCPU  func() int
}

// New creates a Runner. idSeq generates job ids (injected so tests don't
// depend on time/randomness).
func New(cfg Config, reader FileReader, set ProviderSet, history *jobhistory.History, results store.Store, idSeq func() string) *Runner {
	return &Runner{cfg: cfg, reader: reader, set: set, history: history, results: results, idSeq: idSeq, numCPU: runtime.NumCPU}
}

// slots computes the §4.5 parallelism model for one job.
func (r *Runner) slots(providerCount, requestedParallel int) (fileConcurrency, providerConcurrency int) {
	numCPU := r.numCPU
	if numCPU == nil {
		numCPU = runtime.NumCPU
	}
	cpuCount := numCPU()
	if cpuCount < 1 {
		cpuCount = 1
	}
	maxParallel := r.cfg.MaxParallel
	if maxParallel <= 0 || maxParallel > cpuCount {
		maxParallel = cpuCount
	}

	requested := requestedParallel
	if requested < 1 {
		requested = 1
	}
	desiredSlots := providerCount * requested
	effectiveSlots := desiredSlots
	if effectiveSlots < providerCount {
		effectiveSlots = providerCount
	}
	if effectiveSlots > maxParallel {
		effectiveSlots = maxParallel
	}

	fileConcurrency = effectiveSlots / providerCount
	if fileConcurrency < 1 {
		fileConcurrency = 1
	}

	providerConcurrency = maxParallel / fileConcurrency
	if providerConcurrency > providerCount {
		providerConcurrency = providerCount
	}
	if providerConcurrency < 1 {
		providerConcurrency = 1
	}
	return fileConcurrency, providerConcurrency
}

// Start registers and launches a job, returning the registered job at once; the
// job runs to completion in the background and is polled via
// jobhistory.History.Get.
func (r *Runner) Start(ctx context.Context, opts Options) *jobhistory.BatchJob {
	job := &jobhistory.BatchJob{
		ID:        r.idSeq(),
		Providers: opts.Providers,
		Lang:      opts.Lang,
		Total:     len(opts.Files) * len(opts.Providers),
		CreatedAt: time.Now(),
	}
	r.history.Register(job)

	go r.run(ctx, job, opts)
	return job
}

func (r *Runner) run(ctx context.Context, job *jobhistory.BatchJob, opts Options) {
	providerCount := len(opts.Providers)
	if providerCount == 0 {
		r.history.MarkTerminal(ctx, job.ID)
		return
	}
	fileConcurrency, providerConcurrency := r.slots(providerCount, opts.Parallel)

	cache := pcmcache.New()
	fg, fctx := errgroup.WithContext(ctx)
	fg.SetLimit(fileConcurrency)

	for _, path := range opts.Files {
		path := path
		fg.Go(func() error {
			r.runFile(fctx, job, path, opts, providerConcurrency, cache)
			return nil
		})
	}
	fg.Wait()

	r.history.MarkTerminal(ctx, job.ID)
}

func (r *Runner) runFile(ctx context.Context, job *jobhistory.BatchJob, path string, opts Options, providerConcurrency int, cache *pcmcache.Cache) {
	refText := opts.Manifest[path]
	if opts.Manifest != nil {
		if _, ok := opts.Manifest[path]; !ok {
			r.failAll(ctx, job, path, len(opts.Providers), "no manifest entry for this file")
			return
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		r.failAll(ctx, job, path, len(opts.Providers), fmt.Sprintf("stat: %v", err))
		return
	}
	rawPCM, srcRate, srcChannels, err := r.reader.ReadPCM(path)
	if err != nil {
		r.failAll(ctx, job, path, len(opts.Providers), fmt.Sprintf("read: %v", err))
		return
	}

	key := pcmcache.Key{
		Path: path, ModTimeUnix: info.ModTime().Unix(), Size: info.Size(),
		TargetRate: TargetRate, TargetChannel: 1, PeakDbfs: TargetPeakDbfs,
	}
	entry, err := cache.Acquire(key, func() (*pcmcache.Entry, error) {
		return pcmcache.Normalize(rawPCM, srcRate, srcChannels, TargetRate, 1, TargetPeakDbfs)
	})
	if err != nil {
		r.failAll(ctx, job, path, len(opts.Providers), fmt.Sprintf("normalize: %v", err))
		return
	}
	defer cache.Release(key)

	pg, pctx := errgroup.WithContext(ctx)
	pg.SetLimit(providerConcurrency)
	for _, providerName := range opts.Providers {
		providerName := providerName
		pg.Go(func() error {
			r.runProvider(pctx, job, path, providerName, opts.Lang, refText, entry)
			return nil
		})
	}
	pg.Wait()

	os.Remove(path)
}

func (r *Runner) runProvider(ctx context.Context, job *jobhistory.BatchJob, path, providerName, lang, refText string, entry *pcmcache.Entry) {
	p, ok := r.set.Provider(providerName)
	if !ok {
		r.fail(ctx, job, path, providerName, "unknown provider")
		return
	}

	start := time.Now()
	res, err := p.TranscribeFileFromPCM(ctx, bytes.NewReader(entry.PCM), adapter.BatchOptions{
		SampleRate:    TargetRate,
		Language:      lang,
		ReferenceText: refText,
	})
	processingTime := time.Since(start)
	if err != nil {
		r.fail(ctx, job, path, providerName, err.Error())
		return
	}

	durationSec := entry.DurationSec
	if res.DurationSec != nil {
		durationSec = *res.DurationSec
	}
	processingMs := float64(processingTime.Milliseconds())
	var rtf float64
	if durationSec > 0 {
		rtf = processingMs / (durationSec * 1000)
	}

	fr := jobhistory.FileResult{
		JobID:            job.ID,
		Path:             path,
		Provider:         providerName,
		Lang:             lang,
		DurationSec:      durationSec,
		ProcessingTimeMs: processingMs,
		RTF:              rtf,
		Text:             res.Text,
		RefText:          refText,
		CreatedAt:        time.Now(),
	}
	if refText != "" {
		scoreWithReference(&fr, lang, res.Text, refText)
	}

	r.emit(ctx, job, fr, nil)
}

// scoreWithReference applies the §4.5 language-aware scoring policy: ja*
// scores CER only (word boundaries undefined); everything else scores WER
// with stripSpace force-disabled before scoring.
func scoreWithReference(fr *jobhistory.FileResult, lang, hyp, ref string) {
	if strings.HasPrefix(lang, "ja") {
		preset := normalize.PresetCER
		normHyp := normalize.Apply(preset, hyp).TextNorm
		normRef := normalize.Apply(preset, ref).TextNorm
		cer := errorRate(splitChars(normHyp), splitChars(normRef))
		fr.CER = &cer
		fr.NormalizationUsed = string(preset)
		return
	}
	preset := normalize.PresetWER
	normHyp := normalize.Apply(preset, hyp).TextNorm
	normRef := normalize.Apply(preset, ref).TextNorm
	wer := errorRate(strings.Fields(normHyp), strings.Fields(normRef))
	fr.WER = &wer
	fr.NormalizationUsed = string(preset)
}

func splitChars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// errorRate is the Levenshtein edit distance between hyp and ref, divided
// by len(ref) (0 when ref is empty and hyp is too, 1.0 when ref is empty
// and hyp is not).
func errorRate(hyp, ref []string) float64 {
	if len(ref) == 0 {
		if len(hyp) == 0 {
			return 0
		}
		return 1
	}
	prev := make([]int, len(ref)+1)
	curr := make([]int, len(ref)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(hyp); i++ {
		curr[0] = i
		for j := 1; j <= len(ref); j++ {
			cost := 1
			if hyp[i-1] == ref[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return float64(prev[len(ref)]) / float64(len(ref))
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func (r *Runner) fail(ctx context.Context, job *jobhistory.BatchJob, path, providerName, message string) {
	r.emit(ctx, job, jobhistory.FileResult{}, &jobhistory.FileError{Path: path, Provider: providerName, Message: message})
}

func (r *Runner) failAll(ctx context.Context, job *jobhistory.BatchJob, path string, count int, message string) {
	for i := 0; i < count; i++ {
		r.fail(ctx, job, path, "", message)
	}
}

func (r *Runner) emit(ctx context.Context, job *jobhistory.BatchJob, fr jobhistory.FileResult, ferr *jobhistory.FileError) {
	if ferr != nil {
		job.AddError(*ferr)
		return
	}
	job.AddResult(fr)
	if r.results != nil {
		r.results.Append(ctx, "batch_file_result", fr)
	}
}

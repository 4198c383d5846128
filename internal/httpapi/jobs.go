package httpapi

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sttcore/streamcore/internal/batch"
	"github.com/sttcore/streamcore/internal/jobhistory"
)

// jobUploadDir is where a batch job's uploaded files wait while the runner's
// FileReader reads them by path; batch's runFile removes each one after all
// of its providers have run. A file whose manifest lookup, read or
// normalization fails is not removed.
const jobUploadDir = "job-uploads"

type jobsTranscribeResponse struct {
	JobID string `json:"jobId"`
}

// handleJobsTranscribe accepts a multipart upload of one or more audio
// files plus "providers" (comma-separated), optional "lang", optional
// "parallel", and an optional "manifest" field (a JSON object mapping
// uploaded filename to reference transcript for CER/WER scoring), writes
// the files to disk, and starts a batch.Runner job against them.
func (s *Server) handleJobsTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(256 << 20); err != nil {
		http.Error(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	providers := splitCSV(r.FormValue("providers"))
	if len(providers) == 0 {
		http.Error(w, "providers is required", http.StatusBadRequest)
		return
	}

	uploads := r.MultipartForm.File["files"]
	if len(uploads) == 0 {
		http.Error(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	var manifestByName map[string]string
	if raw := r.FormValue("manifest"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &manifestByName); err != nil {
			http.Error(w, "invalid manifest JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	if err := os.MkdirAll(jobUploadDir, 0o755); err != nil {
		http.Error(w, "failed to prepare upload storage", http.StatusInternalServerError)
		return
	}

	var manifest batch.Manifest
	if manifestByName != nil {
		manifest = make(batch.Manifest, len(manifestByName))
	}

	paths := make([]string, 0, len(uploads))
	for _, fh := range uploads {
		path, err := saveUpload(fh, s.sessionID())
		if err != nil {
			http.Error(w, "failed to store upload: "+err.Error(), http.StatusInternalServerError)
			return
		}
		paths = append(paths, path)
		if manifestByName != nil {
			if ref, ok := manifestByName[fh.Filename]; ok {
				manifest[path] = ref
			}
		}
	}

	parallel := 1
	if p := r.FormValue("parallel"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			parallel = n
		}
	}

	job := s.runner.Start(r.Context(), batch.Options{
		Providers: providers,
		Lang:      r.FormValue("lang"),
		Parallel:  parallel,
		Files:     paths,
		Manifest:  manifest,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobsTranscribeResponse{JobID: job.ID})
}

func saveUpload(fh *multipart.FileHeader, prefix string) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	path := filepath.Join(jobUploadDir, prefix+"-"+filepath.Base(fh.Filename))
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}
	return path, nil
}

// handleJobStatus reports a job's lifecycle counters without its full
// per-file results, suited to polling.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job := s.lookupJob(w, r)
	if job == nil {
		return
	}
	snap := job.Snapshot()
	writeJSON(w, struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		Total     int    `json:"total"`
		Done      int    `json:"done"`
		Failed    int    `json:"failed"`
		Providers int    `json:"providerCount"`
	}{
		ID:        snap.ID,
		Status:    string(snap.Status),
		Total:     snap.Total,
		Done:      snap.Done,
		Failed:    snap.Failed,
		Providers: len(snap.Providers),
	})
}

// handleJobResults returns every FileResult/FileError recorded so far.
func (s *Server) handleJobResults(w http.ResponseWriter, r *http.Request) {
	job := s.lookupJob(w, r)
	if job == nil {
		return
	}
	writeJSON(w, job.Snapshot())
}

// handleJobSummary returns the job's aggregate scoring summary: mean
// RTF/CER/WER across its completed results, alongside the raw counters.
func (s *Server) handleJobSummary(w http.ResponseWriter, r *http.Request) {
	job := s.lookupJob(w, r)
	if job == nil {
		return
	}
	snap := job.Snapshot()

	var sumRTF, sumCER, sumWER float64
	var nCER, nWER int
	for _, fr := range snap.Results {
		sumRTF += fr.RTF
		if fr.CER != nil {
			sumCER += *fr.CER
			nCER++
		}
		if fr.WER != nil {
			sumWER += *fr.WER
			nWER++
		}
	}

	summary := struct {
		ID       string   `json:"id"`
		Status   string   `json:"status"`
		Total    int      `json:"total"`
		Done     int      `json:"done"`
		Failed   int      `json:"failed"`
		MeanRTF  float64  `json:"meanRtf"`
		MeanCER  *float64 `json:"meanCer,omitempty"`
		MeanWER  *float64 `json:"meanWer,omitempty"`
	}{
		ID:     snap.ID,
		Status: string(snap.Status),
		Total:  snap.Total,
		Done:   snap.Done,
		Failed: snap.Failed,
	}
	if snap.Done > 0 {
		summary.MeanRTF = sumRTF / float64(snap.Done)
	}
	if nCER > 0 {
		mean := sumCER / float64(nCER)
		summary.MeanCER = &mean
	}
	if nWER > 0 {
		mean := sumWER / float64(nWER)
		summary.MeanWER = &mean
	}
	writeJSON(w, summary)
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) *jobhistory.BatchJob {
	id := r.PathValue("id")
	job, ok := s.jobs.Get(id)
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return nil
	}
	return job
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

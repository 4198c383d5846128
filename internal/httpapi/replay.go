package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sttcore/streamcore/internal/replay"
)

// replayUploadDir is where uploaded replay files wait to be taken by a
// /ws/replay connection, separate from the batch job runner's own uploads
// since a replay file lives only until one socket consumes it.
const replayUploadDir = "replay-uploads"

type createReplayResponse struct {
	SessionID string `json:"sessionId"`
}

// handleCreateReplay accepts one multipart file upload plus a
// comma-separated "providers" form field, persists the file to disk, and
// registers a take-once replay.Session the client then opens /ws/replay
// against — the HTTP half of the §9.5 "POST an upload to obtain sessionId"
// scenario.
func (s *Server) handleCreateReplay(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	providers := splitCSV(r.FormValue("providers"))
	if len(providers) == 0 {
		http.Error(w, "providers is required", http.StatusBadRequest)
		return
	}

	if err := os.MkdirAll(replayUploadDir, 0o755); err != nil {
		http.Error(w, "failed to prepare upload storage", http.StatusInternalServerError)
		return
	}

	sessionID := s.sessionID()
	dst := filepath.Join(replayUploadDir, sessionID+filepath.Ext(header.Filename))
	out, err := os.Create(dst)
	if err != nil {
		http.Error(w, "failed to store upload", http.StatusInternalServerError)
		return
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		http.Error(w, "failed to write upload", http.StatusInternalServerError)
		return
	}

	s.replay.Put(replay.Session{
		SessionID: sessionID,
		Providers: providers,
		FilePath:  dst,
		ExpiresAt: time.Now().Add(s.cfg.Retention.ReplayTTL),
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(createReplayResponse{SessionID: sessionID})
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stevenzev/expressdiff/internal/results"
	"github.com/stevenzev/expressdiff/internal/stage"
)

// uploadDestinations maps a file extension to the run subdirectory it
// belongs in (spec §4.7). Extensions not listed here are rejected.
var uploadDestinations = map[string]string{
	".fq.gz":    "raw",
	".fastq.gz": "raw",
	".fa":       "reference",
	".fasta":    "reference",
	".gtf":      "reference",
	".csv":      "metadata",
	".tsv":      "metadata",
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"version":   s.version,
	})
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.ctrl.Accounts(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleStorageInfo(w http.ResponseWriter, r *http.Request) {
	user := os.Getenv("USER")
	writeJSON(w, http.StatusOK, StorageInfo{
		InstallDirectory: s.appCfg.InstallDir,
		DataDirectory:    s.appCfg.WorkDir,
		RunsDirectory:    s.appCfg.RunsDir(),
		StorageType:      "posix",
		User:             user,
	})
}

func (s *Server) handleStages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stages": stage.NamesString()})
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Name == "" || req.Account == "" {
		writeError(w, http.StatusBadRequest, "name and account are required")
		return
	}
	params := map[string]string{}
	if req.AdapterType != "" {
		params["adapter_type"] = req.AdapterType
	}
	run, err := s.ctrl.CreateRun(req.Name, req.Description, req.Account, params)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunInfo(run, stage.NamesString()))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, _, err := s.ctrl.ListRuns(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	out := make([]RunInfo, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunInfo(run, stage.NamesString()))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.ctrl.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunInfo(run, stage.NamesString()))
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.DeleteRun(r.Context(), r.PathValue("id")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "run deleted"})
}

func (s *Server) handleUpdateAdapter(w http.ResponseWriter, r *http.Request) {
	var req UpdateAdapterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	run, err := s.ctrl.UpdateAdapter(r.Context(), r.PathValue("id"), req.AdapterType)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunInfo(run, stage.NamesString()))
}

// handleUpload accepts multipart files[] and routes each into a run
// subdirectory by extension, mkdir -p'ing the destination first (spec
// §4.7). A file with a disallowed extension yields one error for that file
// without aborting the rest of the batch.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	run, err := s.ctrl.GetRun(r.Context(), runID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	if err := r.ParseMultipartForm(256 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart upload: %v", err))
		return
	}
	files := r.MultipartForm.File["files[]"]

	var written []string
	var failed []string
	for _, fh := range files {
		dest, ok := destinationFor(fh.Filename)
		if !ok {
			failed = append(failed, fmt.Sprintf("%s: unrecognized extension", fh.Filename))
			continue
		}
		if err := saveUploadedFile(fh, s.appCfg.RunDir(run.RunID), dest); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", fh.Filename, err))
			continue
		}
		written = append(written, filepath.Join(dest, fh.Filename))
	}

	status := http.StatusOK
	if len(failed) > 0 && len(written) == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{"written": written, "errors": failed})
}

func destinationFor(filename string) (string, bool) {
	lower := strings.ToLower(filename)
	// Check the longest known suffixes first so "*.fastq.gz" doesn't match
	// a bare ".gz" rule (there is none, but this keeps the check order
	// intentional as the set grows).
	for _, ext := range []string{".fastq.gz", ".fq.gz", ".fasta", ".fa", ".gtf", ".csv", ".tsv"} {
		if strings.HasSuffix(lower, ext) {
			return uploadDestinations[ext], true
		}
	}
	return "", false
}

func saveUploadedFile(fh *multipart.FileHeader, runDir, destSubdir string) error {
	destDir := filepath.Join(runDir, destSubdir)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(destDir, filepath.Base(fh.Filename)))
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	run, err := s.ctrl.GetRun(r.Context(), runID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	res := s.ctrl.ValidateStage(run, stage.QCRaw)
	writeJSON(w, http.StatusOK, StageValidation{Valid: res.Valid, Errors: res.Errors, Warnings: res.Warnings})
}

func (s *Server) handleValidateStage(w http.ResponseWriter, r *http.Request) {
	runID, stName := r.PathValue("id"), r.PathValue("stage")
	st, ok := stage.Lookup(stage.Name(stName))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown stage %q", stName))
		return
	}
	run, err := s.ctrl.GetRun(r.Context(), runID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	res := s.ctrl.ValidateStage(run, st.Name)
	writeJSON(w, http.StatusOK, StageValidation{Valid: res.Valid, Errors: res.Errors, Warnings: res.Warnings})
}

func (s *Server) handleSubmitStage(w http.ResponseWriter, r *http.Request) {
	runID, stName := r.PathValue("id"), r.PathValue("stage")
	st, ok := stage.Lookup(stage.Name(stName))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown stage %q", stName))
		return
	}
	var req SubmitStageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	run, err := s.ctrl.SubmitStage(r.Context(), runID, st.Name, req.Account, req.ConfirmRerun, nil)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunInfo(run, stage.NamesString()))
}

func (s *Server) handleStageStatus(w http.ResponseWriter, r *http.Request) {
	runID, stName := r.PathValue("id"), r.PathValue("stage")
	st, ok := stage.Lookup(stage.Name(stName))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown stage %q", stName))
		return
	}
	state, err := s.ctrl.GetStageStatus(r.Context(), runID, st.Name)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StageStatusResponse{
		Stage:          stName,
		Status:         state.Status,
		JobID:          state.JobID,
		UpdatedAt:      state.UpdatedAt,
		ScriptChecksum: state.ScriptChecksum,
	})
}

func (s *Server) handleStageLogs(w http.ResponseWriter, r *http.Request) {
	runID, stName := r.PathValue("id"), r.PathValue("stage")
	st, ok := stage.Lookup(stage.Name(stName))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown stage %q", stName))
		return
	}
	logDir := filepath.Join(s.appCfg.RunDir(runID), string(st.Name), "logs")
	stdoutFile := filepath.Join(logDir, string(st.Name)+".out")
	stderrFile := filepath.Join(logDir, string(st.Name)+".err")

	writeJSON(w, http.StatusOK, StageLogs{
		Stdout:     readTail(stdoutFile),
		Stderr:     readTail(stderrFile),
		StdoutFile: stdoutFile,
		StderrFile: stderrFile,
	})
}

// readTail returns a file's content, or an empty string if it does not
// exist yet (a stage that hasn't produced logs is not an error).
func readTail(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(b)
}

func (s *Server) handleFeatureCountsSummary(w http.ResponseWriter, r *http.Request) {
	runDir := s.appCfg.RunDir(r.PathValue("id"))
	summary, err := results.FeatureCountsSummaryFor(runDir)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDESeq2Results(w http.ResponseWriter, r *http.Request) {
	runDir := s.appCfg.RunDir(r.PathValue("id"))
	res, err := results.DESeq2ResultsFor(runDir)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDESeq2Download(w http.ResponseWriter, r *http.Request) {
	runDir := s.appCfg.RunDir(r.PathValue("id"))
	path, err := results.DownloadPath(runDir, r.PathValue("file_type"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleQCList(w http.ResponseWriter, r *http.Request) {
	runDir := s.appCfg.RunDir(r.PathValue("id"))
	var entries []string
	for _, st := range []stage.Name{stage.QCRaw, stage.QCTrimmed} {
		dir := filepath.Join(runDir, string(st))
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if !f.IsDir() && strings.HasSuffix(f.Name(), ".html") {
				entries = append(entries, filepath.Join(string(st), f.Name()))
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": entries})
}

func (s *Server) handleQCFile(w http.ResponseWriter, r *http.Request) {
	stName := r.PathValue("stage")
	st, ok := stage.Lookup(stage.Name(stName))
	if !ok || (st.Name != stage.QCRaw && st.Name != stage.QCTrimmed) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown QC stage %q", stName))
		return
	}
	relPath := r.PathValue("path")
	runDir := s.appCfg.RunDir(r.PathValue("id"))
	base := filepath.Join(runDir, string(st.Name))
	full := filepath.Join(base, relPath)
	// Reject any path escaping the stage's output directory.
	if !strings.HasPrefix(filepath.Clean(full), filepath.Clean(base)+string(filepath.Separator)) {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	http.ServeFile(w, r, full)
}

package orchestrator

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfweaver/internal/queue"
	"github.com/local/pdfweaver/internal/selection"
	"github.com/local/pdfweaver/internal/weaver"
)

// handleMergeUpload accepts multipart/form-data with ordered "file" parts,
// an optional "exclude" index list and an optional "output_name".
func (o *Orchestrator) handleMergeUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, o.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(64 << 20); err != nil { // 64MB in memory, rest in temp files
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	excluded, err := parseIndexes(r.FormValue("exclude"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	jobID := uuid.NewString()
	dir := filepath.Join(o.cfg.UploadDir, jobID)
	paths, names, err := saveUploads(dir, files)
	if err != nil {
		_ = os.RemoveAll(dir)
		log.Error().Err(err).Str("job_id", jobID).Msg("saving uploads failed")
		http.Error(w, "cannot save upload", http.StatusInternalServerError)
		return
	}

	list := selection.New(paths...)
	if err := list.Exclude(excluded...); err != nil {
		_ = os.RemoveAll(dir)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if list.Included() == 0 {
		_ = os.RemoveAll(dir)
		http.Error(w, weaver.ErrNoSelection.Error(), http.StatusBadRequest)
		return
	}
	entries := list.Entries()
	for i := range entries {
		entries[i].DisplayName = names[i]
	}

	job := &queue.MergeJob{JobID: jobID, Entries: entries, OutputName: r.FormValue("output_name"), UploadDir: dir}
	o.enqueue(w, r, job, "upload")
}

// saveUploads stores each part under dir with an index prefix so equal
// client names stay distinct, and returns the stored paths and the client
// names in order.
func saveUploads(dir string, files []*multipart.FileHeader) ([]string, []string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create upload dir: %w", err)
	}
	paths := make([]string, 0, len(files))
	names := make([]string, 0, len(files))
	for i, hdr := range files {
		name := uploadName(hdr.Filename)
		p := filepath.Join(dir, fmt.Sprintf("%03d_%s", i, name))
		if err := saveUpload(hdr, p); err != nil {
			return nil, nil, err
		}
		paths = append(paths, p)
		names = append(names, name)
	}
	return paths, names, nil
}

func saveUpload(hdr *multipart.FileHeader, dst string) error {
	src, err := hdr.Open()
	if err != nil {
		return fmt.Errorf("open part %s: %w", hdr.Filename, err)
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return out.Close()
}

// uploadName strips any client directory from name.
func uploadName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "upload"
	}
	return name
}

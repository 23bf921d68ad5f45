package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"csvload/internal/detect"
	"csvload/internal/ingest"
	"csvload/internal/schema"
)

// tableMapEntry assigns a schema to one file in an insert request.
type tableMapEntry struct {
	Filename  string `json:"filename"`
	TableType string `json:"tableType"`
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return err
	}
	return nil
}

func uploadedFiles(r *http.Request) []*multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	return r.MultipartForm.File["files"]
}

// handleValidate stages every uploaded file under a server-assigned name and
// classifies it by header.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.writeMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid upload: %v", err))
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	files := uploadedFiles(r)
	if len(files) == 0 {
		s.writeMessage(w, http.StatusBadRequest, "No files uploaded")
		return
	}

	results := make([]detect.ValidationResult, 0, len(files))
	var staged []string
	fail := func(code int, msg string) {
		for _, name := range staged {
			_ = s.area.Remove(name)
		}
		s.writeMessage(w, code, msg)
	}

	for _, fh := range files {
		res, err := s.stageAndProbe(r, fh)
		if res.Filename != "" {
			staged = append(staged, res.Filename)
		}
		if err != nil {
			fail(http.StatusBadRequest, err.Error())
			return
		}
		results = append(results, res)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) stageAndProbe(r *http.Request, fh *multipart.FileHeader) (detect.ValidationResult, error) {
	src, err := fh.Open()
	if err != nil {
		return detect.ValidationResult{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer src.Close()

	assigned, _, err := s.area.Put(fh.Filename, src)
	if err != nil {
		return detect.ValidationResult{}, err
	}

	f, err := s.area.Open(assigned)
	if err != nil {
		return detect.ValidationResult{Filename: assigned}, err
	}
	defer f.Close()

	res, err := s.det.Probe(r.Context(), fh.Filename, f)
	res.Filename = assigned
	return res, err
}

// handleInsert ingests the files named in filesTableMap. A file is read from
// the request when one with that name was uploaded, else from staging.
// Entries mapped to "unknown" are skipped.
func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.writeMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid upload: %v", err))
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	raw := r.FormValue("filesTableMap")
	if raw == "" {
		s.writeMessage(w, http.StatusBadRequest, "No table map provided")
		return
	}
	var entries []tableMapEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		s.writeMessage(w, http.StatusBadRequest, "Invalid JSON for filesTableMap")
		return
	}
	if len(entries) == 0 {
		s.writeMessage(w, http.StatusBadRequest, "No files provided")
		return
	}

	uploaded := map[string]*multipart.FileHeader{}
	for _, fh := range uploadedFiles(r) {
		uploaded[fh.Filename] = fh
	}

	var (
		jobs   []ingest.FileJob
		staged = map[string]bool{}
	)
	for _, e := range entries {
		if e.TableType == schema.Unknown || e.Filename == "" {
			continue
		}
		job := ingest.FileJob{Filename: e.Filename, Schema: e.TableType}
		if fh, ok := uploaded[e.Filename]; ok {
			job.Open = func() (io.ReadCloser, error) { return fh.Open() }
		} else {
			name := e.Filename
			staged[name] = true
			job.Open = func() (io.ReadCloser, error) { return s.area.Open(name) }
		}
		jobs = append(jobs, job)
	}

	reports := s.eng.Batch(r.Context(), jobs)
	for _, rep := range reports {
		if staged[rep.Filename] && rep.Status != ingest.StatusError {
			if err := s.area.Remove(rep.Filename); err != nil {
				s.logger.Printf("httpapi: remove staged %s: %v", rep.Filename, err)
			}
		}
		if err := s.pub.Publish(r.Context(), rep); err != nil {
			s.logger.Printf("httpapi: publish %s: %v", rep.Filename, err)
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"insertedResults": reports})
}

package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ictashik/OpenDataTagger/internal/dataset"
	"github.com/ictashik/OpenDataTagger/internal/models"
	"github.com/ictashik/OpenDataTagger/internal/service"
)

const maxUploadSize = 64 << 20

type uploadResponse struct {
	Dataset     string                    `json:"dataset"`
	Columns     []string                  `json:"columns"`
	Definitions []models.OutputDefinition `json:"definitions"`
}

// upload stores a dataset and an optional config file, and points the
// session at them.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("dataset")
	if err != nil {
		writeError(w, http.StatusBadRequest, "dataset file required")
		return
	}
	defer func() { _ = file.Close() }()

	datasetPath, err := s.storeUpload(file, header)
	if err != nil {
		s.logger.Error("store dataset upload", "error", err)
		writeError(w, http.StatusInternalServerError, "could not store dataset")
		return
	}
	columns, err := dataset.ReadColumns(datasetPath)
	if err != nil {
		_ = os.Remove(datasetPath)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid dataset: %v", err))
		return
	}

	var configPath string
	if cfgFile, cfgHeader, err := r.FormFile("config"); err == nil {
		defer func() { _ = cfgFile.Close() }()
		configPath, err = s.storeUpload(cfgFile, cfgHeader)
		if err != nil {
			s.logger.Error("store config upload", "error", err)
			writeError(w, http.StatusInternalServerError, "could not store config")
			return
		}
	}

	ref := sessionFrom(r.Context())
	ref.data = Session{DatasetPath: datasetPath, ConfigPath: configPath, Model: ref.data.Model}
	if err := s.saveSession(r.Context(), ref); err != nil {
		s.logger.Error("save session", "error", err)
		writeError(w, http.StatusInternalServerError, "could not save session")
		return
	}

	s.logger.Info("dataset uploaded", "dataset", datasetPath, "columns", len(columns), "config", configPath)
	writeJSON(w, http.StatusCreated, uploadResponse{
		Dataset:     filepath.Base(datasetPath),
		Columns:     columns,
		Definitions: dataset.LoadDefinitions(configPath),
	})
}

// storeUpload copies an uploaded file into the data directory. A name
// already taken gets a short random suffix.
func (s *Server) storeUpload(src multipart.File, header *multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = "upload.csv"
	}
	path := filepath.Join(s.dataDir, name)
	if _, err := os.Stat(path); err == nil {
		ext := filepath.Ext(name)
		path = filepath.Join(s.dataDir, fmt.Sprintf("%s_%s%s", strings.TrimSuffix(name, ext), uuid.NewString()[:8], ext))
	}

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return "", err
	}
	return path, dst.Close()
}

type columnsResponse struct {
	Columns      []string                  `json:"columns"`
	InputColumns []string                  `json:"input_columns"`
	Definitions  []models.OutputDefinition `json:"definitions"`
}

func (s *Server) getColumns(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context()).data
	columns, ok := s.sessionColumns(w, sess)
	if !ok {
		return
	}
	inputs := sess.InputColumns
	if inputs == nil {
		inputs = []string{}
	}
	writeJSON(w, http.StatusOK, columnsResponse{
		Columns:      columns,
		InputColumns: inputs,
		Definitions:  dataset.LoadDefinitions(sess.ConfigPath),
	})
}

type defineColumnsRequest struct {
	InputColumns    []string `json:"input_columns"`
	OutputColumns   []string `json:"output_columns"`
	PromptTemplates []string `json:"prompt_templates"`
}

// defineColumns records the input column selection and writes the output
// definitions to the session's config file, creating one next to the
// dataset when none was uploaded.
func (s *Server) defineColumns(w http.ResponseWriter, r *http.Request) {
	ref := sessionFrom(r.Context())
	columns, ok := s.sessionColumns(w, ref.data)
	if !ok {
		return
	}

	var req defineColumnsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	for _, col := range req.InputColumns {
		if !slices.Contains(columns, col) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown input column %q", col))
			return
		}
	}

	defs := dataset.DefinitionsFromForm(req.OutputColumns, req.PromptTemplates)
	if ref.data.ConfigPath == "" {
		ref.data.ConfigPath = dataset.ConfigPath(ref.data.DatasetPath)
	}
	if err := dataset.SaveDefinitions(ref.data.ConfigPath, defs); err != nil {
		s.logger.Error("save definitions", "path", ref.data.ConfigPath, "error", err)
		writeError(w, http.StatusInternalServerError, "could not save config")
		return
	}

	ref.data.InputColumns = req.InputColumns
	if err := s.saveSession(r.Context(), ref); err != nil {
		s.logger.Error("save session", "error", err)
		writeError(w, http.StatusInternalServerError, "could not save session")
		return
	}
	writeJSON(w, http.StatusOK, columnsResponse{
		Columns:      columns,
		InputColumns: req.InputColumns,
		Definitions:  defs,
	})
}

// sessionColumns reads the header of the session's dataset, answering the
// request itself when there is none.
func (s *Server) sessionColumns(w http.ResponseWriter, sess Session) ([]string, bool) {
	if sess.DatasetPath == "" {
		writeError(w, http.StatusBadRequest, "No dataset uploaded")
		return nil, false
	}
	columns, err := dataset.ReadColumns(sess.DatasetPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("could not read dataset: %v", err))
		return nil, false
	}
	return columns, true
}

type startResponse struct {
	JobID string `json:"job_id"`
}

func (s *Server) startTagging(w http.ResponseWriter, r *http.Request) {
	ref := sessionFrom(r.Context())
	if ref.data.DatasetPath == "" {
		writeError(w, http.StatusBadRequest, "No dataset uploaded")
		return
	}

	job, err := s.jobs.Start(r.Context(), service.Request{
		DatasetPath:  ref.data.DatasetPath,
		ConfigPath:   ref.data.ConfigPath,
		InputColumns: ref.data.InputColumns,
		Model:        ref.data.Model,
	})
	if errors.Is(err, service.ErrDatasetBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ref.data.JobID = job.ID
	if err := s.saveSession(r.Context(), ref); err != nil {
		// The job runs regardless; the caller still learns its id.
		s.logger.Warn("save session", "job_id", job.ID, "error", err)
	}
	writeJSON(w, http.StatusAccepted, startResponse{JobID: job.ID})
}

// progress reports the session's current job, or the job named by the
// job_id query parameter.
func (s *Server) progress(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("job_id")
	if id == "" {
		id = sessionFrom(r.Context()).data.JobID
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "No progress data found")
		return
	}

	snap, err := s.jobs.Poll(r.Context(), id)
	if errors.Is(err, service.ErrJobNotFound) {
		writeError(w, http.StatusBadRequest, "No progress data found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type resultsResponse struct {
	JobID string `json:"job_id"`
	models.FilePaths
	Rows int `json:"rows"`
}

func (s *Server) results(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context()).data
	paths, err := s.jobs.ResolveOutputFiles(r.Context(), sess.JobID, sess.DatasetPath)
	if errors.Is(err, service.ErrResultsNotFound) {
		writeError(w, http.StatusNotFound, "No results found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := resultsResponse{JobID: sess.JobID, FilePaths: paths}
	if ds, err := dataset.Load(paths.TaggedFile); err == nil {
		resp.Rows = ds.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

// download sends the tagged or logs file of the session's job.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context()).data
	paths, err := s.jobs.ResolveOutputFiles(r.Context(), sess.JobID, sess.DatasetPath)
	if err != nil {
		writeError(w, http.StatusNotFound, "No results found")
		return
	}

	var path string
	switch chi.URLParam(r, "kind") {
	case "tagged":
		path = paths.TaggedFile
	case "logs":
		path = paths.LogsFile
	default:
		writeError(w, http.StatusNotFound, "unknown result kind")
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "No results found")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

type llmStatusResponse struct {
	Model       string   `json:"model"`
	Models      []string `json:"models"`
	ModelsError string   `json:"models_error,omitempty"`
	Requests    int64    `json:"requests"`
	TotalTime   float64  `json:"total_time"`
	AvgSpeed    float64  `json:"avg_speed"`
}

func (s *Server) llmStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := llmStatusResponse{Model: sessionFrom(ctx).data.Model, Models: []string{}}
	if resp.Model == "" {
		resp.Model = s.llm.Model()
	}

	if s.listModels != nil {
		names, err := s.listModels(ctx)
		if err != nil {
			resp.ModelsError = err.Error()
		} else {
			resp.Models = names
		}
	}

	usage, err := s.llm.Usage(ctx)
	if err != nil {
		s.logger.Warn("read llm usage", "error", err)
	}
	resp.Requests, resp.TotalTime, resp.AvgSpeed = usage.Requests, usage.TotalTime, usage.AvgSpeed
	writeJSON(w, http.StatusOK, resp)
}

type selectModelRequest struct {
	SelectedModel string `json:"selected_model"`
}

func (s *Server) selectModel(w http.ResponseWriter, r *http.Request) {
	var req selectModelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	req.SelectedModel = strings.TrimSpace(req.SelectedModel)
	if req.SelectedModel == "" {
		writeError(w, http.StatusBadRequest, "selected_model required")
		return
	}

	ref := sessionFrom(r.Context())
	ref.data.Model = req.SelectedModel
	if err := s.saveSession(r.Context(), ref); err != nil {
		s.logger.Error("save session", "error", err)
		writeError(w, http.StatusInternalServerError, "could not save session")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

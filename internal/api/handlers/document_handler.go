package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/markdave123-py/Indexa/internal/config"
	"github.com/markdave123-py/Indexa/internal/core"
	"github.com/markdave123-py/Indexa/internal/core/ingestion_engine"
	"github.com/markdave123-py/Indexa/internal/models"
)

// maxUploadBytes caps a single document upload.
const maxUploadBytes = 50 << 20

type DocumentHandler struct {
	dbclient     core.DbClient
	objectclient core.ObjectClient
	ingestor     ingestion_engine.Ingestor
	cfg          *config.Config
}

func NewDocumentHandler(dbclient core.DbClient, objectclient core.ObjectClient, ing ingestion_engine.Ingestor, cfg *config.Config) *DocumentHandler {
	return &DocumentHandler{dbclient: dbclient, objectclient: objectclient, ingestor: ing, cfg: cfg}
}

// UploadDocument stores the file in object storage, registers a queued
// job for it and hands the job to the ingestion queue.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.PipelineConfigured(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	userID, ok := r.Context().Value("user_id").(string)
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}

	r.ParseMultipartForm(52 << 20)

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "invalid file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Size > maxUploadBytes {
		http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
		return
	}

	// Sanitize filename to prevent path traversal or invalid characters
	cleanFilename := filepath.Base(header.Filename)
	jobID := uuid.NewString()
	s3Key := fmt.Sprintf("%s/%s/%s", userID, jobID, cleanFilename)

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	target := models.AnalysisTarget(r.FormValue("analysis_target"))
	if target == "" {
		target = models.AnalysisTargetText
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "could not read file", http.StatusBadRequest)
		return
	}

	uploadctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	if _, err := h.objectclient.UploadFile(uploadctx, h.cfg.BucketName, s3Key, data, contentType); err != nil {
		http.Error(w, fmt.Sprintf("upload failed: %v", err), http.StatusInternalServerError)
		return
	}

	tracker := ingestion_engine.NewStageTracker(models.StageMeta{})
	tracker.To(ingestion_engine.StageRegistered)
	tracker.To(ingestion_engine.StageUploaded)

	job := &models.Job{
		ID:             jobID,
		UserID:         userID,
		FileName:       header.Filename,
		Bucket:         h.cfg.BucketName,
		ObjectKey:      s3Key,
		ContentType:    contentType,
		FileSize:       header.Size,
		AnalysisTarget: target,
		Status:         models.JobStatusQueued,
		Metadata:       tracker.Meta(),
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	if err := h.dbclient.CreateJob(uploadctx, job); err != nil {
		log.Printf("DB insert failed for job %s: %v", jobID, err)
		http.Error(w, fmt.Sprintf("failed to store job: %v", err), http.StatusInternalServerError)
		return
	}

	if err := h.ingestor.Enqueue(job.ID); err != nil {
		// The job row is queued either way; a manual trigger can pick it up.
		log.Printf("could not enqueue job %s: %v", job.ID, err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(job)
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(string)
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}

	jobs, err := h.dbclient.ListJobsByUser(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

type documentStatusResponse struct {
	Job            *models.Job `json:"job"`
	ExtractedChars int         `json:"extracted_chars,omitempty"`
	DownloadURL    string      `json:"download_url,omitempty"`
}

// GetDocumentStatus reports one job with what the pipeline produced so
// far. The download URL is a short-lived presigned link, included only
// when object storage is configured.
func (h *DocumentHandler) GetDocumentStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(string)
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}

	jobID := chi.URLParam(r, "jobID")
	job, err := h.dbclient.GetJobByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if job.UserID != userID {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}

	resp := documentStatusResponse{Job: job}

	if res, err := h.dbclient.GetExtractionResultByJob(r.Context(), jobID); err == nil {
		resp.ExtractedChars = utf8.RuneCountInString(res.Text)
	} else if !errors.Is(err, core.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if h.objectclient != nil && h.cfg.PipelineConfigured() == nil {
		url, err := h.objectclient.PresignGet(r.Context(), job.Bucket, job.ObjectKey, 15*time.Minute)
		if err != nil {
			log.Printf("presign failed for job %s: %v", jobID, err)
		} else {
			resp.DownloadURL = url
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// chunkView is a chunk row without its embedding vector, which is too
// heavy for a listing response.
type chunkView struct {
	ID         string `json:"id"`
	Position   int    `json:"position"`
	Text       string `json:"text"`
	CharOffset int    `json:"char_offset"`
	TokenCount int    `json:"token_count"`
	EmbedModel string `json:"embed_model"`
}

func (h *DocumentHandler) GetDocumentChunks(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(string)
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}

	jobID := chi.URLParam(r, "jobID")
	job, err := h.dbclient.GetJobByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if job.UserID != userID {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}

	chunks, err := h.dbclient.GetChunksByJob(r.Context(), jobID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	views := make([]chunkView, 0, len(chunks))
	for _, ch := range chunks {
		views = append(views, chunkView{
			ID:         ch.ID,
			Position:   ch.Position,
			Text:       ch.Text,
			CharOffset: ch.CharOffset,
			TokenCount: ch.TokenCount,
			EmbedModel: ch.EmbedModel,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/Indexa/internal/config"
	"github.com/markdave123-py/Indexa/internal/core"
	"github.com/markdave123-py/Indexa/internal/core/ingestion_engine"
)

type IngestHandler struct {
	dbclient core.DbClient
	ingestor ingestion_engine.Ingestor
	cfg      *config.Config
}

func NewIngestHandler(dbclient core.DbClient, ing ingestion_engine.Ingestor, cfg *config.Config) *IngestHandler {
	return &IngestHandler{dbclient: dbclient, ingestor: ing, cfg: cfg}
}

// TriggerIngestion runs the pipeline for one job synchronously and
// reports the outcome. Safe to call repeatedly: a job that already ran
// is left alone.
func (h *IngestHandler) TriggerIngestion(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.PipelineConfigured(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	userID, ok := r.Context().Value("user_id").(string)
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}

	jobID := chi.URLParam(r, "jobID")
	job, err := h.dbclient.GetJobByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if job.UserID != userID {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	res, err := h.ingestor.ProcessOne(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch res.Outcome {
	case ingestion_engine.OutcomeAlreadyProcessed:
		json.NewEncoder(w).Encode(map[string]string{
			"message": "already processed",
			"jobId":   res.JobID,
		})
	case ingestion_engine.OutcomeFailed:
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "failed",
			"jobId":  res.JobID,
			"reason": res.Reason,
		})
	default:
		json.NewEncoder(w).Encode(map[string]any{
			"status": "completed",
			"jobId":  res.JobID,
			"chunks": res.Chunks,
		})
	}
}

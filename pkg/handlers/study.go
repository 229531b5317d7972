package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/kacperjurak/linaccore/internal/processing"
	"github.com/kacperjurak/linaccore/internal/utils"
	"github.com/kacperjurak/linaccore/pkg/config"
	"github.com/kacperjurak/linaccore/pkg/models"
	"github.com/kacperjurak/linaccore/pkg/worker"
)

// ProcessorFunc runs one study
type ProcessorFunc = worker.ProcessorFunc[models.WorkItem, models.WorkResult]

// NotifyFunc receives the result of every study
type NotifyFunc func(models.WorkResult)

// StudyHandler queues single studies on the worker pool
type StudyHandler struct {
	config     *config.Config
	workerPool *worker.Pool[models.WorkItem, models.WorkResult]
}

// NewStudyHandler creates a new study handler
func NewStudyHandler(cfg *config.Config, pool *worker.Pool[models.WorkItem, models.WorkResult]) *StudyHandler {
	return &StudyHandler{
		config:     cfg,
		workerPool: pool,
	}
}

// ServeHTTP implements the http.Handler interface
func (h *StudyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setupCORS(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var study models.Study
	if err := json.NewDecoder(r.Body).Decode(&study); err != nil {
		writeError(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if msg := checkStudy(h.config, &study); msg != "" {
		writeError(w, msg, http.StatusBadRequest)
		return
	}

	requestID := utils.GenerateID()
	item := models.WorkItem{
		RequestID: requestID,
		Study:     study,
		StartTime: time.Now(),
	}
	if !h.workerPool.SubmitJob(item) {
		writeError(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if !h.config.Quiet {
		log.Printf("HTTP Request received - ID: %s, Study: %s, Elements: %d", requestID, study.ID, len(study.Elements))
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":    true,
		"request_id": requestID,
		"study_id":   study.ID,
		"message":    "Processing started",
	})
}

// checkStudy gives the study an id and returns why it cannot run, if so.
func checkStudy(cfg *config.Config, s *models.Study) string {
	if len(s.Elements) == 0 {
		return "No elements provided"
	}
	if s.ID == "" {
		s.ID = utils.GenerateID()
	}
	if err := processing.Resolve(cfg, *s).Validate(); err != nil {
		return err.Error()
	}
	return ""
}

// setupCORS sets up CORS headers
func setupCORS(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

// writeError writes an error response
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

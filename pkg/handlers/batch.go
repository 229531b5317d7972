package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/kacperjurak/linaccore/internal/utils"
	"github.com/kacperjurak/linaccore/pkg/config"
	"github.com/kacperjurak/linaccore/pkg/models"
	"github.com/kacperjurak/linaccore/pkg/worker"
)

// BatchOptions holds what a batch handler needs besides the study
// configuration
type BatchOptions struct {
	// Context is cancelled when the server shuts down.
	Context context.Context
	Workers int
	Process ProcessorFunc
	Notify  NotifyFunc
	// TimingFile receives one line per batch. Empty disables it.
	TimingFile string
}

// BatchHandler handles batch study processing requests
type BatchHandler struct {
	config *config.Config
	opts   BatchOptions
	wg     sync.WaitGroup
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(cfg *config.Config, opts BatchOptions) *BatchHandler {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	return &BatchHandler{
		config: cfg,
		opts:   opts,
	}
}

// ServeHTTP implements the http.Handler interface
func (h *BatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setupCORS(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var batch models.StudyBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	if len(batch.Studies) == 0 {
		writeError(w, "No studies provided in batch", http.StatusBadRequest)
		return
	}
	for i := range batch.Studies {
		if msg := checkStudy(h.config, &batch.Studies[i]); msg != "" {
			writeError(w, fmt.Sprintf("study %d: %s", i, msg), http.StatusBadRequest)
			return
		}
	}
	if batch.BatchID == "" {
		batch.BatchID = utils.GenerateID()
	}

	log.Printf("🔄 Batch processing started - ID: %s, Studies: %d", batch.BatchID, len(batch.Studies))

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.processBatch(batch)
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":  true,
		"batch_id": batch.BatchID,
		"studies":  len(batch.Studies),
		"message":  "Batch processing started with worker pool",
	})
}

// Wait blocks until every accepted batch is processed.
func (h *BatchHandler) Wait() { h.wg.Wait() }

// processBatch runs the studies of one batch and reports each result
func (h *BatchHandler) processBatch(batch models.StudyBatch) {
	batchStartTime := time.Now()

	items := make([]models.WorkItem, len(batch.Studies))
	for i, s := range batch.Studies {
		items[i] = models.WorkItem{
			ID:        i,
			RequestID: fmt.Sprintf("%s_study_%03d", batch.BatchID, i),
			BatchID:   batch.BatchID,
			Study:     s,
			StartTime: time.Now(),
		}
	}

	results := worker.Map(h.opts.Context, h.opts.Workers, items, h.opts.Process)
	if err := h.opts.Context.Err(); err != nil {
		log.Printf("⚠️  Batch %s interrupted: %v", batch.BatchID, err)
		return
	}

	timings := make([]models.StudyTiming, len(results))
	for i, result := range results {
		timings[i] = models.StudyTiming{
			ID:             result.ID,
			ProcessingTime: result.ProcessingTime,
			Faults:         len(result.Result.Faults),
			Success:        result.Success,
		}
		if h.opts.Notify != nil {
			h.opts.Notify(result)
		}
		if !h.config.Quiet {
			log.Printf("✅ Processed study %d of batch %s", result.ID, batch.BatchID)
		}
	}

	totalBatchTime := time.Since(batchStartTime)
	if h.opts.TimingFile != "" {
		h.saveTimingResults(batch.BatchID, totalBatchTime, timings)
	}

	log.Printf("🎉 Batch processing completed - ID: %s, Total time: %v", batch.BatchID, totalBatchTime)
}

// saveTimingResults saves timing data to a CSV file for performance analysis
func (h *BatchHandler) saveTimingResults(batchID string, totalTime time.Duration, timings []models.StudyTiming) {
	filename := h.opts.TimingFile
	concurrency := h.opts.Workers

	// Check if file exists to decide on header
	var writeHeader bool
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		writeHeader = true
	}

	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("Error opening timing file: %v", err)
		return
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if writeHeader {
		header := []string{
			"Timestamp",
			"BatchID",
			"TotalStudies",
			"TotalFaults",
			"Concurrency",
			"TotalBatchTime_ms",
			"AvgStudyTime_ms",
			"MinStudyTime_ms",
			"MaxStudyTime_ms",
			"SuccessRate",
			"StudiesPerSecond",
			"EfficiencyScore",
		}
		if err := writer.Write(header); err != nil {
			log.Printf("Error writing timing header: %v", err)
			return
		}
	}

	var totalStudyTime time.Duration
	var minTime, maxTime time.Duration = time.Duration(1<<63 - 1), 0
	var successful, faults int

	for _, timing := range timings {
		totalStudyTime += timing.ProcessingTime
		if timing.ProcessingTime < minTime {
			minTime = timing.ProcessingTime
		}
		if timing.ProcessingTime > maxTime {
			maxTime = timing.ProcessingTime
		}
		if timing.Success {
			successful++
		}
		faults += timing.Faults
	}

	numStudies := len(timings)
	avgStudyTime := totalStudyTime / time.Duration(numStudies)
	successRate := float64(successful) / float64(numStudies) * 100
	studiesPerSecond := float64(numStudies) / totalTime.Seconds()

	// Perfect efficiency = 1.0 (linear speedup)
	efficiencyScore := totalStudyTime.Seconds() / totalTime.Seconds() / float64(concurrency)

	ms := func(d time.Duration) string { return fmt.Sprintf("%.2f", float64(d.Nanoseconds())/1000000.0) }
	record := []string{
		time.Now().Format(time.RFC3339),
		batchID,
		fmt.Sprintf("%d", numStudies),
		fmt.Sprintf("%d", faults),
		fmt.Sprintf("%d", concurrency),
		ms(totalTime),
		ms(avgStudyTime),
		ms(minTime),
		ms(maxTime),
		fmt.Sprintf("%.1f", successRate),
		fmt.Sprintf("%.2f", studiesPerSecond),
		fmt.Sprintf("%.3f", efficiencyScore),
	}

	if err := writer.Write(record); err != nil {
		log.Printf("Error writing timing record: %v", err)
		return
	}

	log.Printf("📊 Timing saved: %d studies, %d goroutines, %s ms total, %.2f%% success, %.3f efficiency",
		numStudies, concurrency, ms(totalTime), successRate, efficiencyScore)
}

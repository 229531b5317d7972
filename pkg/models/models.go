package models

import (
	"time"

	"github.com/kacperjurak/linaccore/pkg/config"
)

// FieldSamples is an inline field map: normalised on-axis field e at
// positions z (m).
type FieldSamples struct {
	Z []float64 `json:"z"`
	E []float64 `json:"e"`
}

// SuperposedMap is one of the field maps summed into a single element,
// translated by Offset (m) from the element entrance.
type SuperposedMap struct {
	Path    string        `json:"path"`
	Samples *FieldSamples `json:"samples,omitempty"`
	Offset  float64       `json:"z_offset_m"`
}

// CavityData describes the nominal tuning of a field map.
type CavityData struct {
	KE    float64 `json:"k_e"`
	Phase float64 `json:"phase_rad"`
	// Reference is phi_0_abs, phi_0_rel or phi_s.
	Reference string  `json:"reference"`
	FCavity   float64 `json:"f_cavity_mhz"`
}

// ElementData is one element or command of a study structure
type ElementData struct {
	Kind   string  `json:"kind"`
	Name   string  `json:"name"`
	Length float64 `json:"length_m"`

	Gradient   float64 `json:"gradient"`
	Field      float64 `json:"b_field"`
	Angle      float64 `json:"angle_rad"`
	FieldIndex float64 `json:"field_index"`

	// Path of a field map file, relative to the working directory. Samples
	// are used instead when given.
	Path    string        `json:"path"`
	Samples *FieldSamples `json:"samples,omitempty"`
	Cavity  *CavityData   `json:"cavity,omitempty"`

	// Superpose replaces Path and Samples with the sum of several maps
	// driven by the same cavity settings.
	Superpose []SuperposedMap `json:"superpose,omitempty"`

	Args []float64 `json:"args"`
}

// Study is a linac with failed cavities to compensate. The optional blocks
// replace the ones of the service configuration.
type Study struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Elements []ElementData `json:"elements"`
	// Failed overrides Wtf.Failed.
	Failed       []int                      `json:"failed"`
	Beam         *config.BeamConfig         `json:"beam,omitempty"`
	Calculator   *config.CalculatorConfig   `json:"calculator,omitempty"`
	DesignSpace  *config.DesignSpaceConfig  `json:"design_space,omitempty"`
	Wtf          *config.WtfConfig          `json:"wtf,omitempty"`
	Optimisation *config.OptimisationConfig `json:"optimisation,omitempty"`
}

// StudyBatch represents a batch of studies
type StudyBatch struct {
	BatchID   string    `json:"batch_id"`
	Timestamp time.Time `json:"timestamp"`
	Studies   []Study   `json:"studies"`
}

// CavityResult is the tuning of one cavity after compensation.
type CavityResult struct {
	Index   int     `json:"index"`
	Name    string  `json:"name"`
	Status  string  `json:"status"`
	KE      float64 `json:"k_e"`
	Phi0Abs float64 `json:"phi_0_abs"`
	Phi0Rel float64 `json:"phi_0_rel"`
	PhiS    float64 `json:"phi_s"`
	VCavMV  float64 `json:"v_cav_mv"`
}

// FaultResult is the outcome of one compensation.
type FaultResult struct {
	ID           int            `json:"id"`
	Failed       []int          `json:"failed"`
	Compensating []int          `json:"compensating"`
	Zone         [2]int         `json:"zone"`
	Success      bool           `json:"success"`
	Status       string         `json:"status"`
	Method       string         `json:"method"`
	Norm         float64        `json:"norm"`
	X            []float64      `json:"x"`
	Values       []float64      `json:"objective_values"`
	FuncEval     int            `json:"function_evaluations"`
	Cavities     []CavityResult `json:"cavities"`
	HistoryRunID string         `json:"history_run_id,omitempty"`
}

// Warning is a non fatal finding of the study.
type Warning struct {
	Code    string `json:"code"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// StudyResult is the JSON summary of a study
type StudyResult struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	Faults     []FaultResult `json:"faults"`
	WKinRefOut float64       `json:"w_kin_ref_out"`
	WKinFixOut float64       `json:"w_kin_fix_out"`
	PhiRefOut  float64       `json:"phi_abs_ref_out"`
	PhiFixOut  float64       `json:"phi_abs_fix_out"`
	Warnings   []Warning     `json:"warnings,omitempty"`
	Figures    []string      `json:"figures,omitempty"`
	Runtime    float64       `json:"runtime_s"`
}

// WorkItem represents a single study processing task
type WorkItem struct {
	ID        int
	RequestID string
	BatchID   string
	Study     Study
	StartTime time.Time
}

// WorkResult contains the result of a study
type WorkResult struct {
	ID             int
	RequestID      string
	BatchID        string
	Result         StudyResult
	ProcessingTime time.Duration
	Success        bool
}

// WebhookItem represents a webhook task
type WebhookItem struct {
	RequestID string
	BatchID   string
	Result    StudyResult
}

// WebhookResponse represents the webhook payload structure
type WebhookResponse struct {
	ID      string      `json:"id"`
	BatchID string      `json:"batch_id,omitempty"`
	Time    string      `json:"time"`
	Success bool        `json:"success"`
	Result  StudyResult `json:"result"`
}

// StudyTiming tracks performance metrics for individual study processing
type StudyTiming struct {
	ID             int           `json:"id"`
	ProcessingTime time.Duration `json:"processing_time_ms"`
	Faults         int           `json:"faults"`
	Success        bool          `json:"success"`
}

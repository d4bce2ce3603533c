package config

import "fmt"

// Validator validates a Config comprehensively, accumulating every
// problem it finds rather than stopping at the first one (an operator
// fixing a typo'd config file wants the whole list in one run).
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every check and returns a combined error listing all
// failures, or nil if the configuration is valid.
func (v *Validator) ValidateAll() error {
	var errs []error

	y := v.cfg.YAML

	if y.Database.Host == "" {
		errs = append(errs, NewValidationError("database.host", fmt.Errorf("must not be empty")))
	}
	if y.Database.Database == "" {
		errs = append(errs, NewValidationError("database.database", fmt.Errorf("must not be empty")))
	}
	if y.Redis.Addr == "" {
		errs = append(errs, NewValidationError("redis.addr", fmt.Errorf("must not be empty")))
	}
	if y.LLM.Model == "" {
		errs = append(errs, NewValidationError("llm.model", fmt.Errorf("must not be empty")))
	}
	if y.Embedding.Dimension <= 0 {
		errs = append(errs, NewValidationError("embedding.dimension", fmt.Errorf("must be positive, got %d", y.Embedding.Dimension)))
	}
	if y.Cluster.SimilarityThreshold <= 0 || y.Cluster.SimilarityThreshold > 1 {
		errs = append(errs, NewValidationError("cluster.similarity_threshold", fmt.Errorf("must be in (0,1], got %f", y.Cluster.SimilarityThreshold)))
	}
	if y.Dialogue.TopKHypotheses <= 0 {
		errs = append(errs, NewValidationError("dialogue.top_k_hypotheses", fmt.Errorf("must be positive")))
	}
	if y.Dialogue.DiagnosisThreshold <= y.Dialogue.ForcedDiagnosisFloor {
		errs = append(errs, NewValidationError("dialogue.diagnosis_threshold",
			fmt.Errorf("must exceed forced_diagnosis_floor (%f)", y.Dialogue.ForcedDiagnosisFloor)))
	}
	if y.Retry.MaxAttempts <= 0 {
		errs = append(errs, NewValidationError("retry.max_attempts", fmt.Errorf("must be positive")))
	}

	if len(errs) == 0 {
		return nil
	}

	combined := ErrValidationFailed
	msg := combined.Error()
	for _, e := range errs {
		msg += "\n  - " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}

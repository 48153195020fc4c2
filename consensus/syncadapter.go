package consensus

import "github.com/tolelom/tolchain/core"

// SyncValidator adapts Validator to network.BlockValidator's single-method
// shape (ValidateBlock(block) error), stamping each call with the current
// corrected time.
type SyncValidator struct {
	validator *Validator
	clock     TimeSource
}

// NewSyncValidator wraps validator for use as a network.BlockValidator.
func NewSyncValidator(validator *Validator, clock TimeSource) *SyncValidator {
	return &SyncValidator{validator: validator, clock: clock}
}

// ValidateBlock satisfies network.BlockValidator.
func (s *SyncValidator) ValidateBlock(block *core.Block) error {
	return s.validator.IsValidErr(block, s.clock.CorrectedTimeMs())
}

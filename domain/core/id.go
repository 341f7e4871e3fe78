package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	// Use UUID v7 for time-ordered, sortable IDs
	// Falls back to v4 if v7 is not available (for compatibility)
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	RunID        ID
	ModelID      ID
	SampleID     ID
	GroupID      ID
	CovariateKey ID
)

// String conversions for domain IDs
func (id RunID) String() string        { return ID(id).String() }
func (id ModelID) String() string      { return ID(id).String() }
func (id SampleID) String() string     { return ID(id).String() }
func (id GroupID) String() string      { return ID(id).String() }
func (id CovariateKey) String() string { return ID(id).String() }

// ParseRunID parses a string into RunID
func ParseRunID(s string) (RunID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("run ID cannot be empty")
	}
	return RunID(s), nil
}

// ParseModelID parses a string into ModelID
func ParseModelID(s string) (ModelID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("model ID cannot be empty")
	}
	return ModelID(s), nil
}

// ParseSampleID parses a string into SampleID
func ParseSampleID(s string) (SampleID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("sample ID cannot be empty")
	}
	return SampleID(s), nil
}

// ParseGroupID parses a string into GroupID
func ParseGroupID(s string) (GroupID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("group ID cannot be empty")
	}
	return GroupID(s), nil
}

// ParseCovariateKey parses a string into CovariateKey
func ParseCovariateKey(s string) (CovariateKey, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("covariate key cannot be empty")
	}
	return CovariateKey(s), nil
}

// Artifact represents any output of the system
type Artifact struct {
	ID        ID           `json:"id"`
	Kind      ArtifactKind `json:"kind"`
	Payload   interface{}  `json:"payload"`
	CreatedAt Timestamp    `json:"created_at"`
}

// ArtifactKind defines types of artifacts
type ArtifactKind string

const (
	// ArtifactModel is a fitted compositional model with its posterior draws.
	ArtifactModel ArtifactKind = "model"
	// ArtifactOutlierReport records per-cell outlier flags across refit passes.
	ArtifactOutlierReport ArtifactKind = "outlier_report"
	// ArtifactTestResult captures per-group credible intervals and tail probabilities.
	ArtifactTestResult ArtifactKind = "test_result"
	// ArtifactFitManifest captures audit metadata for a fit (dimensions, seeds, thresholds, fingerprint).
	ArtifactFitManifest ArtifactKind = "fit_manifest"
	// ArtifactReplicateSet is a batch of posterior predictive replicate tables.
	ArtifactReplicateSet ArtifactKind = "replicate_set"
)

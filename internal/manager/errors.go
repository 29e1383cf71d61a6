package manager

import (
	"errors"
	"fmt"
	"strings"

	"modelpilot/internal/catalog"
)

// InsufficientResourcesError is returned when no candidate could be loaded
// after fallback and eviction. Causes holds one error per candidate tried.
type InsufficientResourcesError struct {
	Capability catalog.Modality
	Causes     []error
}

func (e *InsufficientResourcesError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "insufficient resources for %q", string(e.Capability))
	if len(e.Causes) > 0 {
		b.WriteString(": ")
		for i, c := range e.Causes {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(c.Error())
		}
	}
	return b.String()
}

func (e *InsufficientResourcesError) Unwrap() []error { return e.Causes }

// IsInsufficientResources reports whether err carries an
// InsufficientResourcesError.
func IsInsufficientResources(err error) bool {
	var ire *InsufficientResourcesError
	return errors.As(err, &ire)
}

// budgetError records a candidate skipped because even evicting every idle
// model would not cover its deficit.
type budgetError struct {
	id          string
	required    uint64
	available   uint64
	reclaimable uint64
}

func (e budgetError) Error() string {
	return fmt.Sprintf("%s: needs %d bytes, %d available, %d reclaimable", e.id, e.required, e.available, e.reclaimable)
}

// IsBudgetExceeded reports whether err is a per-candidate budget failure.
func IsBudgetExceeded(err error) bool {
	var be budgetError
	return errors.As(err, &be)
}

type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound returns an error when a requested model id is not in the catalog.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var nf modelNotFoundError
	return errors.As(err, &nf) || catalog.IsNotFound(err)
}

type noCandidatesError struct{ capability catalog.Modality }

func (e noCandidatesError) Error() string {
	return fmt.Sprintf("no catalog model supports %q", string(e.capability))
}

// ErrNoCandidates returns an error for a capability nothing in the catalog
// supports.
func ErrNoCandidates(m catalog.Modality) error { return noCandidatesError{capability: m} }

// IsNoCandidates reports whether err is a no-candidates error.
func IsNoCandidates(err error) bool {
	var nc noCandidatesError
	return errors.As(err, &nc)
}

type shuttingDownError struct{}

func (shuttingDownError) Error() string { return "manager is shutting down" }

// ErrShuttingDown is returned by Acquire after Shutdown began.
var ErrShuttingDown error = shuttingDownError{}

// IsShuttingDown reports whether err is ErrShuttingDown.
func IsShuttingDown(err error) bool { return errors.Is(err, ErrShuttingDown) }

// adapterMissingError marks a candidate whose provider has no adapter
// configured.
type adapterMissingError struct{ kind catalog.ProviderKind }

func (e adapterMissingError) Error() string { return "no adapter for provider " + string(e.kind) }

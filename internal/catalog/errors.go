package catalog

type notFoundError struct{ id string }

func (e notFoundError) Error() string { return "model not found in catalog: " + e.id }

// ErrNotFound returns the error used by Get for unknown ids.
func ErrNotFound(id string) error { return notFoundError{id: id} }

// IsNotFound reports whether err indicates a missing catalog id.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/artempl88/sozdaibota-sub000/internal/repository"
)

var (
	// ErrSessionNotFound is returned for unknown session ids
	ErrSessionNotFound = fmt.Errorf("session not found: %w", repository.ErrNotFound)
	// ErrPersistence is returned when the session store cannot be read or written
	ErrPersistence = errors.New("session persistence failed")
)

// ValidationError carries field-level intake problems
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "validation failed: " + strings.Join(keys, ", ")
}

package resolver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/00vip7-stack/hedge-dashboard/src/models"
)

var ErrMappingFailed = errors.New("required columns could not be mapped")

// MappingError reports required fields that no header could be mapped to.
type MappingError struct {
	Missing   []models.CanonicalField
	Headers   []string
	Examples  map[models.CanonicalField][]string
	ColumnMap models.ColumnMap
}

func (e *MappingError) Error() string {
	missing := make([]string, len(e.Missing))
	for i, f := range e.Missing {
		missing[i] = string(f)
	}
	return fmt.Sprintf("%s: missing %s; headers: %s", ErrMappingFailed, strings.Join(missing, ", "), e.IndexedHeaders())
}

func (e *MappingError) Is(target error) bool {
	return target == ErrMappingFailed
}

// IndexedHeaders renders the input headers as "[0] name, [1] name".
func (e *MappingError) IndexedHeaders() string {
	parts := make([]string, len(e.Headers))
	for i, h := range e.Headers {
		parts[i] = fmt.Sprintf("[%d] %s", i, h)
	}
	return strings.Join(parts, ", ")
}

// Hint tells a human which header names would have been recognised.
func (e *MappingError) Hint() string {
	var b strings.Builder
	b.WriteString("Rename the columns so the required fields can be recognised.")
	for _, f := range e.Missing {
		if ex := e.Examples[f]; len(ex) > 0 {
			fmt.Fprintf(&b, " %s: %s.", f, strings.Join(ex, ", "))
		}
	}
	return b.String()
}

func (r *Resolver) mappingError(missing []models.CanonicalField, headers []string, cm models.ColumnMap) *MappingError {
	examples := make(map[models.CanonicalField][]string, len(missing))
	for _, f := range missing {
		examples[f] = r.dict.SynonymExamples(f, 8)
	}
	return &MappingError{
		Missing:   missing,
		Headers:   append([]string(nil), headers...),
		Examples:  examples,
		ColumnMap: cm,
	}
}

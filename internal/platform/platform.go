// Package platform defines what labelwire needs from the labeling platform
// and provides an HTTP implementation of it.
//
// The conversion core only depends on the interfaces here; tests and other
// transports can substitute their own implementations.
package platform

import (
	"context"
	"fmt"
	"io"

	"github.com/ppiankov/labelwire/internal/model"
	"github.com/ppiankov/labelwire/internal/ontology"
)

// OntologySource provides a project's ontology.
type OntologySource interface {
	FetchOntology(ctx context.Context, projectID string) (*ontology.Ontology, error)
}

// DataRowSource provides the data rows that exist in a project.
type DataRowSource interface {
	FetchDataRowRefs(ctx context.Context, projectID string) (model.DataRowSet, error)
}

// Uploader accepts an NDJSON stream for import.
type Uploader interface {
	PostNDJSON(ctx context.Context, body io.Reader, name string) (*UploadHandle, error)
}

// Downloader opens an NDJSON export. The caller closes the stream.
type Downloader interface {
	GetNDJSON(ctx context.Context, url string) (io.ReadCloser, error)
}

// UploadHandle identifies an accepted import.
type UploadHandle struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// StatusError is a non-2xx platform response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if sent again.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == 429 || (e.StatusCode >= 500 && e.StatusCode < 600)
}

// Package remote talks to the remote system of record: a document store keyed
// by collection and id that offers get-by-id, field-level update and create.
//
// Errors follow the model taxonomy. Network failures, 5xx and 429 wrap
// model.ErrTransient. A missing document wraps model.ErrNotFound. A create
// for an existing document wraps model.ErrAlreadyExists. Any other rejection
// is a *model.ConflictError with reason RemoteRejected.
package remote

import (
	"context"
	"errors"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
)

// Client is the remote system of record.
type Client interface {
	// Get fetches the current document.
	Get(ctx context.Context, ref model.EntityRef) (model.Document, error)

	// Update writes the given top-level fields and returns the document as
	// stored afterwards. A nil value clears the field.
	Update(ctx context.Context, ref model.EntityRef, fields map[string]any) (model.Document, error)

	// Create stores a new document. It fails with model.ErrAlreadyExists if
	// the id is taken.
	Create(ctx context.Context, ref model.EntityRef, data any) (model.Document, error)
}

// IsRemoteMissing reports whether err means the target does not exist remotely.
func IsRemoteMissing(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}

package audit

import "context"

// Repository persists audit entries. It only appends.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
}

package source

import (
	"errors"

	"dbconduit/internal/domain"
)

// ErrSourceUnknown is returned when a source name is not registered.
var ErrSourceUnknown = errors.New("source unknown")

// Source yields connection definitions.
type Source interface {
	// Name identifies the source; it must be unique per handler.
	Name() string
	// Load returns the current specs.
	Load() ([]domain.ConnectionSpec, error)
}

// SaveOp selects what Saver.Save does with the given specs.
type SaveOp string

const (
	SaveAdd    SaveOp = "add"
	SaveDelete SaveOp = "delete"
)

// Saver is implemented by sources that can persist changes.
type Saver interface {
	Save(specs []domain.ConnectionSpec, op SaveOp) error
}

// Watchable is implemented by sources backed by a file on disk.
type Watchable interface {
	Source
	Path() string
}

// apply merges specs into current according to op, matching on connection ID.
// Added specs replace existing ones with the same ID in place.
func apply(current, specs []domain.ConnectionSpec, op SaveOp) []domain.ConnectionSpec {
	out := append([]domain.ConnectionSpec(nil), current...)
	for _, s := range specs {
		id := s.ConnectionID()
		idx := -1
		for i, c := range out {
			if c.ConnectionID() == id {
				idx = i
				break
			}
		}
		switch op {
		case SaveAdd:
			if idx >= 0 {
				out[idx] = s
			} else {
				out = append(out, s)
			}
		case SaveDelete:
			if idx >= 0 {
				out = append(out[:idx], out[idx+1:]...)
			}
		}
	}
	return out
}

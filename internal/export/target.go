package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dbconduit/internal/domain"
)

// BufferSink writes lines into an editor buffer.
type BufferSink interface {
	SetLines(handle int, lines []string) error
}

// ClipboardSink stores text in a clipboard register.
type ClipboardSink interface {
	SetRegister(register, text string) error
}

// Sinks are the editor-side destinations. Either may be nil when the
// frontend does not provide it.
type Sinks struct {
	Buffer    BufferSink
	Clipboard ClipboardSink
}

// ErrNoSink is returned when the target needs a sink that is not configured.
var ErrNoSink = errors.New("no sink for output target")

// Deliver sends data to target.
func Deliver(target domain.OutputTarget, data []byte, sinks Sinks) error {
	switch t := target.(type) {
	case domain.FileTarget:
		if t.Path == "" {
			return errors.New("file target needs a path")
		}
		if err := os.MkdirAll(filepath.Dir(t.Path), 0o755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
		return os.WriteFile(t.Path, data, 0o644)
	case domain.BufferTarget:
		if sinks.Buffer == nil {
			return fmt.Errorf("%w: buffer", ErrNoSink)
		}
		return sinks.Buffer.SetLines(t.Handle, strings.Split(strings.TrimRight(string(data), "\n"), "\n"))
	case domain.ClipboardTarget:
		if sinks.Clipboard == nil {
			return fmt.Errorf("%w: clipboard", ErrNoSink)
		}
		return sinks.Clipboard.SetRegister(t.Register, string(data))
	}
	return fmt.Errorf("unknown output target %T", target)
}

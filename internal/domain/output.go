package domain

// OutputTarget is where an exported row range goes.
// It is one of FileTarget, BufferTarget or ClipboardTarget.
type OutputTarget interface {
	outputKind() string
}

// FileTarget writes to a path on disk.
type FileTarget struct {
	Path string `json:"path"`
}

// BufferTarget writes into an editor buffer.
type BufferTarget struct {
	Handle int `json:"handle"`
}

// ClipboardTarget writes into a clipboard register.
type ClipboardTarget struct {
	Register string `json:"register"`
}

func (FileTarget) outputKind() string      { return "file" }
func (BufferTarget) outputKind() string    { return "buffer" }
func (ClipboardTarget) outputKind() string { return "clipboard" }

// OutputKind names the target variant ("file", "buffer" or "clipboard").
func OutputKind(t OutputTarget) string {
	if t == nil {
		return ""
	}
	return t.outputKind()
}

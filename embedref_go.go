package embedref

import (
	"github.com/embedref/embedref/options"
)

// NewGoSession creates a session backed by the pure-Go onnx engine. It needs
// no shared library but supports fewer graph operators than onnxruntime.
func NewGoSession(opts ...options.WithOption) (*Session, error) {
	return newSession("GO", opts...)
}

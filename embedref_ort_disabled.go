//go:build !cgo || (!ORT && !ALL)

package embedref

import (
	"errors"

	"github.com/embedref/embedref/options"
)

func NewORTSession(_ ...options.WithOption) (*Session, error) {
	return nil, errors.New("to enable ORT, run `go build -tags ORT` or `go build -tags ALL`")
}

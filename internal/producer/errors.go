package producer

import (
	"errors"
	"fmt"
)

// ErrTransportFatal marks a worker whose client can no longer publish. It ends that
// worker only.
var ErrTransportFatal = errors.New("transport fatal")

// PublishError is a single record that could not be encoded or delivered.
type PublishError struct {
	Topic string
	Key   string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s to %s: %v", e.Key, e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

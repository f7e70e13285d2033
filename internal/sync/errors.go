package sync

import (
	"errors"
	"fmt"

	"github.com/matheus3301/securetalk/internal/model"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = fmt.Errorf("message longer than %d characters", model.MaxContentLength)
	ErrNotRetryable   = errors.New("message cannot be retried")
	ErrThreadClosed   = errors.New("thread closed")
)

package terminal

import "errors"

var (
	ErrTabNotFound      = errors.New("terminal: tab not found")
	ErrNoTabs           = errors.New("terminal: no tabs open")
	ErrViewDisposed     = errors.New("terminal: view disposed")
	ErrBadSearchPattern = errors.New("terminal: invalid search pattern")
)

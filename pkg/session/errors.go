package session

import "errors"

var (
	ErrNoInputFile   = errors.New("no input file selected")
	ErrNoSession     = errors.New("no running session")
	ErrNoSessionDir  = errors.New("session directory not created")
	ErrCreateWorkDir = errors.New("create session directory")
	ErrWriteInput    = errors.New("write input file")
	ErrWriteStdin    = errors.New("write to stdin")
	ErrUploadFile    = errors.New("upload file")
	ErrExportTimeout = errors.New("export did not settle in time")
	ErrExport        = errors.New("export file")
)

package storedb

import "errors"

var (
	ErrOpenStore = errors.New("storedb: open store")
	ErrMigrate   = errors.New("storedb: apply migration")
)

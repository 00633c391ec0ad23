package wasmbin

import "errors"

var (
	ErrOpenStore       = errors.New("open module store")
	ErrModuleNotCached = errors.New("module not cached")
	ErrReadModule      = errors.New("read cached module")
	ErrWriteModule     = errors.New("write cached module")
	ErrDeleteModule    = errors.New("delete cached module")
	ErrListModules     = errors.New("list cached modules")
	ErrFetchModule     = errors.New("fetch module")
	ErrInstantiate     = errors.New("instantiate module")
	ErrPullModule      = errors.New("pull module image")
	ErrNoLayers        = errors.New("no layers in image")
	ErrNotInArchive    = errors.New("module file not found in archive")
)

package main

import "errors"

// Serve errors
var (
	ErrUIStartServer    = errors.New("start UI server")
	ErrUIServeAssets    = errors.New("serve UI assets")
	ErrUIInvalidRequest = errors.New("invalid request")
	ErrUILoadModule     = errors.New("load module")
	ErrUIModuleNotReady = errors.New("module not loaded")
	ErrUIListCache      = errors.New("list cache")
	ErrUIDeleteCache    = errors.New("delete cache entry")
	ErrUIExport         = errors.New("export file")
	ErrUISearch         = errors.New("search scrollback")
	ErrOpenLog          = errors.New("open log file")
)

// Run errors
var (
	ErrRunNeedsTTY = errors.New("run requires a TTY")
	ErrSetRawMode  = errors.New("setting raw mode")
	ErrReadInput   = errors.New("read input file")
	ErrRunModule   = errors.New("run module")
)

// Cache errors
var (
	ErrCacheOpen  = errors.New("open cache")
	ErrCachePrune = errors.New("prune cache")
)

package main

import (
	"embed"
	"io/fs"
)

//go:embed static/*
var embeddedUIAssets embed.FS

func uiAssetsFS() (fs.FS, error) {
	return fs.Sub(embeddedUIAssets, "static")
}

package wasmbin

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/AbhiTheModder/r2web/internal/errx"
)

// ImageReference returns the OCI image holding the given module build.
func ImageReference(registry, version string) string {
	if version == "" {
		version = Version
	}
	return fmt.Sprintf("%s/radare2:%s", registry, version)
}

// Pull resolves version through the configured OCI registry instead of
// the HTTP source. The first layer carries the module, either as a
// tarball containing radare2.wasm or as the raw binary.
func (m *Manager) Pull(ctx context.Context, version string, persist bool, instantiate Instantiate) ([]byte, error) {
	if version == "" {
		version = Version
	}

	start := time.Now()
	if data, err := m.store.Get(version); err == nil {
		if instantiate != nil {
			if err := instantiate(ctx, data); err != nil {
				return nil, errx.Wrap(ErrInstantiate, err)
			}
		}
		m.emitDownload(version, true, int64(len(data)), false, start)
		return data, nil
	}

	m.tracker.Begin()
	imageRef := ImageReference(m.registry, version)
	data, err := m.pullLayer(ctx, imageRef)
	if err != nil {
		m.tracker.Fail(err)
		return nil, err
	}
	return m.finish(ctx, version, data, imageRef, persist, instantiate, start)
}

func (m *Manager) pullLayer(ctx context.Context, imageRef string) ([]byte, error) {
	ref, err := name.ParseReference(imageRef)
	if err != nil {
		return nil, errx.With(ErrPullModule, ": parse reference %s: %w", imageRef, err)
	}

	desc, err := remote.Get(ref,
		remote.WithAuthFromKeychain(authn.DefaultKeychain),
		remote.WithContext(ctx),
	)
	if err != nil {
		return nil, errx.Wrap(ErrPullModule, err)
	}

	img, err := desc.Image()
	if err != nil {
		return nil, errx.Wrap(ErrPullModule, err)
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, errx.Wrap(ErrPullModule, err)
	}
	if len(layers) == 0 {
		return nil, ErrNoLayers
	}

	rc, err := layers[0].Uncompressed()
	if err != nil {
		return nil, errx.Wrap(ErrPullModule, err)
	}
	defer rc.Close()

	m.tracker.Downloading(0, 0)

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, errx.Wrap(ErrPullModule, err)
	}

	// Layer formats seen in the wild: gzipped tarball, plain tarball,
	// raw module bytes.
	if data, err := extractFromTarGz(content); err == nil {
		return data, nil
	}
	if data, err := extractFromTar(bytes.NewReader(content)); err == nil {
		return data, nil
	}
	return content, nil
}

func extractFromTarGz(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	return extractFromTar(gr)
}

func extractFromTar(r io.Reader) ([]byte, error) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if filepath.Base(hdr.Name) == moduleFilename {
			return io.ReadAll(tr)
		}
	}
	return nil, ErrNotInArchive
}

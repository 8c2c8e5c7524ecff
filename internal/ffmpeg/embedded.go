//go:build ffmpeg_embedded

package ffmpeg

import (
	"embed"
	"errors"
	"io"
	"io/fs"
	"path"
)

// prebuilt bundles shipped inside the binary for offline installs
//
//go:embed assets/*
var bundles embed.FS

func openEmbeddedAsset(name string) (io.ReadCloser, bool, error) {
	f, err := bundles.Open(path.Join("assets", name))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return f, true, nil
}

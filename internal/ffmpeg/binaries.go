package ffmpeg

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

const (
	bundleVersion = "6.1"
	bundleBaseURL = "https://github.com/ffbinaries/ffbinaries-prebuilt/releases/download"
)

// resolved locations of the ffmpeg and ffprobe executables
type BinaryPaths struct {
	FFmpeg  string
	FFprobe string
}

func (p BinaryPaths) complete() bool {
	return p.FFmpeg != "" && p.FFprobe != ""
}

var (
	mu        sync.Mutex
	override  BinaryPaths
	resolved  BinaryPaths
	resolveOK bool
)

// Configure pins explicit binary paths (usually from the config file). Empty
// fields fall back to the normal lookup. Must be called before the first
// Resolve to have an effect.
func Configure(paths BinaryPaths) {
	mu.Lock()
	defer mu.Unlock()
	override = paths
	resolveOK = false
}

// Resolve finds ffmpeg and ffprobe. Lookup order: Configure, the
// VIDOCR_FFMPEG_PATH/VIDOCR_FFPROBE_PATH environment, PATH, the user cache,
// an embedded bundle, and finally a download of the prebuilt bundle.
func Resolve(ctx context.Context) (BinaryPaths, error) {
	mu.Lock()
	defer mu.Unlock()
	if resolveOK {
		return resolved, nil
	}

	paths, err := resolve(ctx, override)
	if err != nil {
		return BinaryPaths{}, err
	}
	resolved, resolveOK = paths, true
	return paths, nil
}

func FFmpegPath(ctx context.Context) (string, error) {
	paths, err := Resolve(ctx)
	if err != nil {
		return "", err
	}
	return paths.FFmpeg, nil
}

func FFprobePath(ctx context.Context) (string, error) {
	paths, err := Resolve(ctx)
	if err != nil {
		return "", err
	}
	return paths.FFprobe, nil
}

func resolve(ctx context.Context, pinned BinaryPaths) (BinaryPaths, error) {
	paths := pinned
	if paths.FFmpeg == "" {
		paths.FFmpeg = os.Getenv("VIDOCR_FFMPEG_PATH")
	}
	if paths.FFprobe == "" {
		paths.FFprobe = os.Getenv("VIDOCR_FFPROBE_PATH")
	}
	if paths.FFmpeg == "" {
		if found, err := exec.LookPath("ffmpeg"); err == nil {
			paths.FFmpeg = found
		}
	}
	if paths.FFprobe == "" {
		if found, err := exec.LookPath("ffprobe"); err == nil {
			paths.FFprobe = found
		}
	}
	if paths.complete() {
		return paths, nil
	}

	asset, err := assetForPlatform(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return BinaryPaths{}, err
	}

	installDir := cacheDir()
	cached := BinaryPaths{
		FFmpeg:  filepath.Join(installDir, "ffmpeg"+executableSuffix()),
		FFprobe: filepath.Join(installDir, "ffprobe"+executableSuffix()),
	}
	if fileExists(cached.FFmpeg) && fileExists(cached.FFprobe) {
		return cached, nil
	}

	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return BinaryPaths{}, fmt.Errorf("create ffmpeg cache dir: %w", err)
	}

	reader, embedded, err := openEmbeddedAsset(asset)
	if err != nil {
		return BinaryPaths{}, err
	}
	if !embedded {
		reader, err = download(ctx, asset)
		if err != nil {
			return BinaryPaths{}, err
		}
	}
	defer func() { _ = reader.Close() }()

	if err := unpack(asset, reader, installDir); err != nil {
		return BinaryPaths{}, err
	}
	if !fileExists(cached.FFmpeg) || !fileExists(cached.FFprobe) {
		return BinaryPaths{}, errors.New("ffmpeg binaries missing after extraction")
	}
	if runtime.GOOS != "windows" {
		for _, p := range []string{cached.FFmpeg, cached.FFprobe} {
			if err := os.Chmod(p, 0o755); err != nil {
				return BinaryPaths{}, fmt.Errorf("chmod %s: %w", filepath.Base(p), err)
			}
		}
	}
	return cached, nil
}

func cacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, "vidocr", "ffmpeg", bundleVersion, runtime.GOOS, runtime.GOARCH)
}

func assetForPlatform(goos, goarch string) (string, error) {
	var suffix string
	switch goos + "/" + goarch {
	case "linux/amd64":
		suffix = "linux-64"
	case "linux/arm64":
		suffix = "linux-arm-64"
	case "darwin/amd64":
		suffix = "macos-64"
	case "windows/amd64":
		suffix = "win-64"
	default:
		return "", fmt.Errorf("unsupported platform for bundled ffmpeg: %s/%s", goos, goarch)
	}
	return "ffmpeg-" + bundleVersion + "-" + suffix + ".zip", nil
}

func download(ctx context.Context, asset string) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/v%s/%s", bundleBaseURL, bundleVersion, asset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build ffmpeg download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download ffmpeg bundle: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("download ffmpeg bundle: unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

// zip needs random access, so the bundle is spooled to a temp file first
func unpack(asset string, reader io.Reader, installDir string) error {
	tmp, err := os.CreateTemp("", "vidocr-ffmpeg-*.zip")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	archivePath := tmp.Name()
	defer func() { _ = os.Remove(archivePath) }()

	if _, err := io.Copy(tmp, reader); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", asset, err)
	}
	defer func() { _ = zr.Close() }()

	found := map[string]bool{}
	for _, file := range zr.File {
		name := binaryName(filepath.Base(file.Name))
		if name == "" {
			continue
		}
		dest := filepath.Join(installDir, name+executableSuffix())
		if err := extractZipFile(file, dest); err != nil {
			return err
		}
		found[name] = true
	}
	if !found["ffmpeg"] || !found["ffprobe"] {
		return fmt.Errorf("%s is missing required binaries", asset)
	}
	return nil
}

func extractZipFile(file *zip.File, dest string) error {
	reader, err := file.Open()
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", file.Name, err)
	}
	defer func() { _ = reader.Close() }()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, reader); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return nil
}

// maps an archive entry to "ffmpeg"/"ffprobe", or "" for anything else
func binaryName(entry string) string {
	name := strings.TrimSuffix(strings.ToLower(entry), ".exe")
	switch name {
	case "ffmpeg", "ffprobe":
		return name
	default:
		return ""
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Size() > 0
}

func executableSuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ""
}

//go:build cgo

package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// DefaultONNXRuntimeVersion must match the onnxruntime_go release pulled in
// by fastembed-go.
const DefaultONNXRuntimeVersion = "1.23.0"

// ErrUnsupportedPlatform is returned where no runtime release exists.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

const onnxReleases = "https://github.com/microsoft/onnxruntime/releases/download"

// ONNXRuntime locates and installs the onnxruntime shared library that
// fastembed loads through ONNX_PATH.
type ONNXRuntime struct {
	Version string
	// Releases is the download root; a release archive lives at
	// <Releases>/v<Version>/onnxruntime-<platform>-<Version>.tgz.
	Releases string
	// Dir receives the managed install.
	Dir    string
	GOOS   string
	GOARCH string
	Client *http.Client
}

// DefaultONNXRuntime installs DefaultONNXRuntimeVersion for this platform
// under ~/.config/ratlr/lib.
func DefaultONNXRuntime() *ONNXRuntime {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &ONNXRuntime{
		Version:  DefaultONNXRuntimeVersion,
		Releases: onnxReleases,
		Dir:      filepath.Join(home, ".config", "ratlr", "lib"),
		GOOS:     runtime.GOOS,
		GOARCH:   runtime.GOARCH,
		Client:   http.DefaultClient,
	}
}

// release returns the archive platform tag and the library file name.
func (r *ONNXRuntime) release() (platform, library string, err error) {
	switch r.GOOS + "/" + r.GOARCH {
	case "linux/amd64":
		return "linux-x64", "libonnxruntime.so", nil
	case "linux/arm64":
		return "linux-aarch64", "libonnxruntime.so", nil
	case "darwin/amd64":
		return "osx-x86_64", "libonnxruntime.dylib", nil
	case "darwin/arm64":
		return "osx-arm64", "libonnxruntime.dylib", nil
	}
	return "", "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, r.GOOS, r.GOARCH)
}

// LibraryPath returns ONNX_PATH when set, otherwise the managed library if
// it is installed, otherwise "".
func (r *ONNXRuntime) LibraryPath() string {
	if p := os.Getenv("ONNX_PATH"); p != "" {
		return p
	}
	_, library, err := r.release()
	if err != nil {
		return ""
	}
	managed := filepath.Join(r.Dir, library)
	if _, err := os.Stat(managed); err != nil {
		return ""
	}
	return managed
}

// Install downloads the release archive and unpacks its lib directory
// into Dir.
func (r *ONNXRuntime) Install(ctx context.Context) error {
	platform, library, err := r.release()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.Dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", r.Dir, err)
	}

	url := fmt.Sprintf("%s/v%s/onnxruntime-%s-%s.tgz", r.Releases, r.Version, platform, r.Version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: %s", url, resp.Status)
	}

	prefix := fmt.Sprintf("onnxruntime-%s-%s/lib/", platform, r.Version)
	if err := unpackLibraries(resp.Body, r.Dir, prefix, library); err != nil {
		return fmt.Errorf("unpack %s: %w", url, err)
	}
	return nil
}

// unpackLibraries copies the regular files and symlinks under prefix into
// dir, flattened. It fails unless library, or a versioned library.N file,
// was among them.
func unpackLibraries(src io.Reader, dir, prefix, library string) error {
	gz, err := gzip.NewReader(src)
	if err != nil {
		return err
	}
	defer gz.Close()

	found := false
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		name := strings.TrimPrefix(hdr.Name, "./")
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		base := path.Base(name)
		dest := filepath.Join(dir, base)

		switch hdr.Typeflag {
		case tar.TypeSymlink:
			_ = os.Remove(dest)
			// A failed link is tolerated: the target file is in the archive too.
			if os.Symlink(hdr.Linkname, dest) == nil && base == library {
				found = true
			}
		case tar.TypeReg:
			if err := writeFile(dest, tr); err != nil {
				return err
			}
			if base == library || strings.HasPrefix(base, library+".") {
				found = true
			}
		}
	}
	if !found {
		return fmt.Errorf("%s not in archive", library)
	}
	return nil
}

func writeFile(dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Ensure returns the library path, installing the runtime first when none
// is found, and exports ONNX_PATH for fastembed.
func (r *ONNXRuntime) Ensure(ctx context.Context, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if p := r.LibraryPath(); p != "" {
		return p, os.Setenv("ONNX_PATH", p)
	}

	logger.Info("onnx runtime not found, downloading",
		zap.String("version", r.Version),
		zap.String("platform", r.GOOS+"/"+r.GOARCH))
	if err := r.Install(ctx); err != nil {
		return "", fmt.Errorf("install onnx runtime (run 'ratlr init' or set ONNX_PATH): %w", err)
	}
	p := r.LibraryPath()
	if p == "" {
		return "", fmt.Errorf("onnx runtime installed to %s but the library is missing", r.Dir)
	}
	logger.Info("onnx runtime installed", zap.String("path", p))
	return p, os.Setenv("ONNX_PATH", p)
}

package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
)

const (
	// LightpandaDownloadURL is the URL to download Lightpanda browser
	LightpandaDownloadURL = "https://github.com/lightpanda-io/browser/releases/download/nightly/lightpanda-x86_64-linux"
)

// ErrLightpandaUnavailable is returned when no binary exists and none could be
// fetched for this platform.
var ErrLightpandaUnavailable = errors.New("lightpanda browser unavailable")

// lightpandaNames are the binary names searched for, most specific first.
var lightpandaNames = []string{
	"lightpanda-x86_64-linux",
	"lightpanda",
}

// EnsureLightpandaBinary finds the Lightpanda browser binary next to the
// executable or in ./browser, downloading it when missing.
func EnsureLightpandaBinary(ctx context.Context, logger *zap.Logger) (string, error) {
	// Only supported on Linux
	if runtime.GOOS != "linux" {
		return "", fmt.Errorf("%w: unsupported OS %s", ErrLightpandaUnavailable, runtime.GOOS)
	}

	execPath, err := os.Executable()
	if err != nil {
		return "", err
	}
	execDir := filepath.Dir(execPath)

	searchPaths := []string{
		execDir,
		filepath.Join(execDir, "browser"),
		"./browser",
		".",
	}

	for _, searchPath := range searchPaths {
		for _, binaryName := range lightpandaNames {
			fullPath := filepath.Join(searchPath, binaryName)
			if info, err := os.Stat(fullPath); err == nil {
				if err := ensureExecutable(fullPath, info); err != nil {
					logger.Warn("Failed to ensure executable permissions", zap.Error(err))
				}
				logger.Info("Lightpanda browser found", zap.String("path", fullPath))
				return fullPath, nil
			}
		}
	}

	logger.Info("Lightpanda browser not found, attempting to download")

	browserDir := filepath.Join(execDir, "browser")
	if err := os.MkdirAll(browserDir, 0755); err != nil {
		// Try current directory instead
		browserDir = "./browser"
		if err := os.MkdirAll(browserDir, 0755); err != nil {
			return "", fmt.Errorf("%w: %v", ErrLightpandaUnavailable, err)
		}
	}

	binaryPath := filepath.Join(browserDir, lightpandaNames[0])
	if err := downloadLightpanda(ctx, binaryPath, logger); err != nil {
		return "", fmt.Errorf("%w: %v", ErrLightpandaUnavailable, err)
	}

	return binaryPath, nil
}

func downloadLightpanda(ctx context.Context, destPath string, logger *zap.Logger) error {
	logger.Info("Downloading Lightpanda browser", zap.String("url", LightpandaDownloadURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, LightpandaDownloadURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("failed to save file: %w", err)
	}

	if err := os.Chmod(destPath, 0755); err != nil {
		return fmt.Errorf("failed to make executable: %w", err)
	}

	logger.Info("Lightpanda browser installed", zap.String("path", destPath))
	return nil
}

func ensureExecutable(path string, info os.FileInfo) error {
	mode := info.Mode()
	if mode&0111 != 0 {
		return nil
	}

	if err := os.Chmod(path, mode|0755); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	return nil
}

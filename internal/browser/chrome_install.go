package browser

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap"
)

// InstallChrome downloads a Chromium build for the current OS/arch, installing
// the system libraries it needs first when withDeps is set. It returns the
// binary path for NewChromeManager.
func InstallChrome(ctx context.Context, revision int, withDeps bool, logger *zap.Logger) (string, error) {
	if withDeps {
		logger.Info("Installing Chromium dependencies")
		if err := InstallChromeDependencies(ctx); err != nil {
			return "", err
		}
	}

	downloader := launcher.NewBrowser()
	downloader.Context = ctx
	if revision > 0 {
		downloader.Revision = revision
	}

	path, err := downloader.Get()
	if err != nil {
		return "", fmt.Errorf("failed to download chrome: %w", err)
	}

	logger.Info("Chromium ready", zap.String("path", path), zap.Int("revision", downloader.Revision))
	return path, nil
}

// packageManager is one way of installing Chromium's shared libraries.
type packageManager struct {
	bin      string
	refresh  []string // run first, if set
	install  []string
	packages []string
}

var packageManagers = []packageManager{
	{bin: "apt-get", refresh: []string{"update"}, install: []string{"install", "-y", "--no-install-recommends"}, packages: chromeDepsApt},
	{bin: "dnf", install: []string{"install", "-y"}, packages: chromeDepsRPM},
	{bin: "yum", install: []string{"install", "-y"}, packages: chromeDepsRPM},
	{bin: "apk", install: []string{"add", "--no-cache"}, packages: chromeDepsApk},
}

// depsCommands returns the commands installing Chromium's libraries with the
// first package manager lookPath finds.
func depsCommands(lookPath func(string) (string, error)) ([][]string, error) {
	for _, pm := range packageManagers {
		path, err := lookPath(pm.bin)
		if err != nil || path == "" {
			continue
		}
		var cmds [][]string
		if len(pm.refresh) > 0 {
			cmds = append(cmds, append([]string{path}, pm.refresh...))
		}
		install := append([]string{path}, pm.install...)
		cmds = append(cmds, append(install, pm.packages...))
		return cmds, nil
	}
	return nil, fmt.Errorf("no supported package manager found for Chrome dependencies")
}

// InstallChromeDependencies installs OS packages required by Chromium. It is
// a no-op outside Linux.
func InstallChromeDependencies(ctx context.Context) error {
	if runtime.GOOS != "linux" {
		return nil
	}
	cmds, err := depsCommands(exec.LookPath)
	if err != nil {
		return err
	}
	for _, c := range cmds {
		if err := runCommand(ctx, c[0], c[1:]...); err != nil {
			return err
		}
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w\n%s", name, strings.Join(args, " "), err, out.String())
	}
	return nil
}

var chromeDepsApt = []string{
	"ca-certificates",
	"fonts-liberation",
	"libasound2",
	"libatk-bridge2.0-0",
	"libatk1.0-0",
	"libcups2",
	"libdbus-1-3",
	"libdrm2",
	"libgbm1",
	"libgtk-3-0",
	"libnspr4",
	"libnss3",
	"libx11-xcb1",
	"libxcomposite1",
	"libxdamage1",
	"libxfixes3",
	"libxrandr2",
	"libxshmfence1",
	"libxss1",
	"libxtst6",
	"libpango-1.0-0",
	"libpangocairo-1.0-0",
	"libxkbcommon0",
}

var chromeDepsRPM = []string{
	"alsa-lib",
	"atk",
	"cups-libs",
	"gtk3",
	"libX11",
	"libXcomposite",
	"libXdamage",
	"libXrandr",
	"libXfixes",
	"libX11-xcb",
	"libxcb",
	"libxkbcommon",
	"libxshmfence",
	"nss",
	"nspr",
	"pango",
	"mesa-libgbm",
	"libdrm",
}

var chromeDepsApk = []string{
	"ca-certificates",
	"freetype",
	"harfbuzz",
	"nss",
	"ttf-freefont",
	"alsa-lib",
	"atk",
	"at-spi2-atk",
	"cups-libs",
	"libxcomposite",
	"libxdamage",
	"libxrandr",
	"libxfixes",
	"libxkbcommon",
	"libx11",
	"libxrender",
	"libxext",
	"libxcb",
	"libdrm",
	"mesa-gbm",
	"gtk+3.0",
	"pango",
	"cairo",
	"gdk-pixbuf",
	"fontconfig",
	"libstdc++",
	"libgcc",
}

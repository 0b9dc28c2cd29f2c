// Package fetch holds the download, extraction and checkout helpers shared by
// the setup tasks of the built-in modules.
package fetch

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/vk/mcubench/internal/ctxlog"
	"github.com/vk/mcubench/internal/environment"
	"github.com/vk/mcubench/internal/execute"
	"github.com/vk/mcubench/internal/registry"
)

// httpClient is shared by all downloads to reuse TCP connections.
var httpClient = &http.Client{
	Timeout: 30 * time.Minute,
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// InstallDir returns `<deps>/install/<name>`.
func InstallDir(env *environment.Environment, name string) string {
	return filepath.Join(env.Paths.Deps, "install", name)
}

// SrcDir returns `<deps>/src/<name>`.
func SrcDir(env *environment.Environment, name string) string {
	return filepath.Join(env.Paths.Deps, "src", name)
}

// DirName appends the task flags to name so each variant gets its own directory.
func DirName(name string, flags []string) string {
	if len(flags) == 0 {
		return name
	}
	return name + "_" + strings.Join(flags, "_")
}

// Populated reports whether dir exists and holds at least one entry.
func Populated(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

// Download saves url to dest.
func Download(ctx context.Context, url, dest string) error {
	logger := ctxlog.FromContext(ctx).With("url", url)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}
	logger.Info("Downloading.", "dest", dest)
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download of %s failed with status: %s", url, resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	logger.Debug("Download finished.", "bytes", n)
	return nil
}

// DownloadAndExtract downloads an archive to a scratch dir and unpacks it
// into dest, dropping the archive's top-level directory.
func DownloadAndExtract(ctx context.Context, url, dest string) error {
	tmp, err := os.MkdirTemp("", "mcubench-fetch-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	archive := filepath.Join(tmp, filepath.Base(url))
	if err := Download(ctx, url, archive); err != nil {
		return err
	}
	return Extract(ctx, archive, dest)
}

// Extract unpacks a .tar.gz archive natively. Other tar flavors (for
// example .tar.xz) are handed to the system tar.
func Extract(ctx context.Context, archive, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	if strings.HasSuffix(archive, ".tar.gz") || strings.HasSuffix(archive, ".tgz") {
		return extractTarGz(archive, dest)
	}
	_, err := execute.Run(ctx, execute.Command{
		Path: "tar",
		Args: []string{"-xf", archive, "-C", dest, "--strip-components=1"},
	})
	return err
}

func extractTarGz(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("reading %s: %w", archive, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", archive, err)
		}

		rel := stripFirst(hdr.Name)
		if rel == "" {
			continue
		}
		target := filepath.Join(dest, rel)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}

func writeEntry(path string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// stripFirst removes the top-level directory of an archive path.
func stripFirst(name string) string {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	_, rest, found := strings.Cut(name, "/")
	if !found {
		return ""
	}
	return rest
}

// GitClone checks out ref of url into dest, or fetches when dest exists.
func GitClone(ctx context.Context, url, ref, dest string) error {
	if Populated(filepath.Join(dest, ".git")) {
		if _, err := execute.Run(ctx, execute.Command{Path: "git", Args: []string{"fetch", "origin", ref}, Dir: dest}); err != nil {
			return err
		}
		_, err := execute.Run(ctx, execute.Command{Path: "git", Args: []string{"checkout", "FETCH_HEAD"}, Dir: dest})
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	_, err := execute.Run(ctx, execute.Command{Path: "git", Args: []string{"clone", "--depth", "1", "--branch", ref, url, dest}})
	return err
}

// Override returns the environment variable that replaces a task's own
// installation, for example `llvm.install_dir`.
func Override(env *environment.Environment, key string) (string, bool) {
	return env.Var(key)
}

// VarOr returns the environment variable key, or def when it is unset.
func VarOr(env *environment.Environment, key, def string) string {
	if v, ok := env.Var(key); ok && v != "" {
		return v
	}
	return def
}

// Archive is a prebuilt dependency shipped as a tarball.
type Archive struct {
	// Name is the install directory name before flags are appended.
	Name string
	// Key is the cache key that receives the install directory. Setting the
	// same key in the environment vars skips the download.
	Key string
	URL string
}

// Install makes the archive available for opts.Flags and records its
// directory in the cache.
func (a Archive) Install(ctx context.Context, tc *registry.TaskContext, opts registry.TaskOptions) (string, error) {
	logger := ctxlog.FromContext(ctx).With("key", a.Key)
	if dir, ok := Override(tc.Env, a.Key); ok {
		logger.Info("Using user-provided installation.", "dir", dir)
		return dir, tc.Cache.Set(a.Key, opts.Flags, dir)
	}

	dir := InstallDir(tc.Env, DirName(a.Name, opts.Flags))
	if opts.Rebuild {
		if err := os.RemoveAll(dir); err != nil {
			return "", err
		}
	}
	if Populated(dir) {
		logger.Debug("Already installed.", "dir", dir)
	} else if err := DownloadAndExtract(ctx, a.URL, dir); err != nil {
		return "", err
	}
	return dir, tc.Cache.Set(a.Key, opts.Flags, dir)
}

// Build runs the build steps in dir, creating it first. env entries are
// added to the process environment of every step.
func Build(ctx context.Context, dir string, env []string, verbose bool, steps ...[]string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i, step := range steps {
		if len(step) == 0 || step[0] == "" {
			return fmt.Errorf("build step %d in %s has no command", i+1, dir)
		}
		c := execute.Command{Path: step[0], Args: step[1:], Dir: dir, Env: env, Live: verbose, Output: os.Stderr}
		if _, err := execute.Run(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

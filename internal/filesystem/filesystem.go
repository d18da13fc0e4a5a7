// Package filesystem dispatches URIs onto storage backends. Local paths
// (plain, relative, or file://) use the OS filesystem; s3:// URIs use an
// object-store client configured from the environment.
package filesystem

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	llmerrors "github.com/coral-nlp/llmdata/pkg/errors"
)

// FS is the minimal surface readers and writers need from a backend.
type FS interface {
	// Open returns a reader over the object at path.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Create returns a writer for the object at path. The object becomes
	// visible when the writer is closed; a failed Close is a flush failure.
	Create(ctx context.Context, path string) (io.WriteCloser, error)
}

// Scheme extracts the URI scheme of a path; pathless and relative inputs
// resolve to "file".
func Scheme(path string) string {
	u, err := url.Parse(path)
	if err != nil || u.Scheme == "" {
		return "file"
	}
	// Windows-style drive letters are not schemes, but this engine only
	// targets POSIX hosts; a single-letter scheme is still treated as one.
	return u.Scheme
}

// ForPath returns the backend responsible for a path.
func ForPath(path string) (FS, error) {
	switch Scheme(path) {
	case "file":
		return localFS{}, nil
	case "s3":
		return newS3FS()
	default:
		return nil, llmerrors.NewConfigError(path, "scheme file or s3", Scheme(path))
	}
}

// Expand resolves the reader path spec into a concrete URI list. Wildcard
// globs are supported for local paths only.
func Expand(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		if !strings.ContainsAny(p, "*?[") {
			out = append(out, p)
			continue
		}
		if Scheme(p) != "file" {
			return nil, llmerrors.NewConfigError(p, "wildcards are local-only", p)
		}
		matches, err := filepath.Glob(stripFileScheme(p))
		if err != nil {
			return nil, llmerrors.WrapConfigError(p, err)
		}
		out = append(out, matches...)
	}
	return out, nil
}

func stripFileScheme(path string) string {
	return strings.TrimPrefix(path, "file://")
}

type localFS struct{}

func (localFS) Open(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(stripFileScheme(path))
	if err != nil {
		return nil, llmerrors.NewPermanentError("open", path, err)
	}
	return f, nil
}

func (localFS) Create(_ context.Context, path string) (io.WriteCloser, error) {
	local := stripFileScheme(path)
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return nil, llmerrors.NewPermanentError("mkdir", path, err)
	}
	f, err := os.Create(local)
	if err != nil {
		return nil, llmerrors.NewPermanentError("create", path, err)
	}
	return f, nil
}

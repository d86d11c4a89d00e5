package acquire

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// FileFetcher reads saved sample pages from disk. Targets may be plain
// paths or file:// URLs; relative paths resolve against Root.
type FileFetcher struct {
	Root         string
	MaxBodyBytes int64
}

// Name implements Fetcher.
func (f *FileFetcher) Name() string { return "file" }

// Fetch implements Fetcher.
func (f *FileFetcher) Fetch(ctx context.Context, target string) *Result {
	if err := ctx.Err(); err != nil {
		return failedResult(f.Name(), target, 0, err)
	}
	path := strings.TrimPrefix(target, "file://")
	if !filepath.IsAbs(path) && f.Root != "" {
		path = filepath.Join(f.Root, path)
	}

	fh, err := os.Open(path)
	if err != nil {
		return failedResult(f.Name(), target, 0, eris.Wrapf(err, "acquire: open %s", path))
	}
	defer func() { _ = fh.Close() }()

	limit := f.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(fh, limit))
	if err != nil {
		return failedResult(f.Name(), target, 0, eris.Wrapf(err, "acquire: read %s", path))
	}
	// Saved pages are inspected too: a sample captured from a challenge
	// page must not be mistaken for the shop's markup.
	if block := DetectBlock(0, nil, body); block != BlockNone {
		return blockedResult(f.Name(), target, 0, block)
	}
	return docResult(f.Name(), target, string(body), 0)
}

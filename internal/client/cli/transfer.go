package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/fileshare/internal/filex"
)

var errUsage = errors.New("usage")

// Upload sends a local file: upload <path> [name]. The remote name defaults
// to the file's base name.
func (a *App) Upload(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(a.out, "Usage: upload <path> [name]")
		return errUsage
	}
	path := args[0]
	name := filepath.Base(path)
	if len(args) == 2 {
		name = args[1]
	}

	f, err := os.Open(path)
	if err != nil {
		return a.report(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return a.report(err)
	}
	if !info.Mode().IsRegular() {
		return a.report(fmt.Errorf("%s is not a regular file", path))
	}

	ctx, cancel := a.requestContext(ctx)
	defer cancel()

	var src io.Reader = f
	var p *progress
	if a.progress {
		p = newProgress(a.out, name, uint64(info.Size()))
		src = &progressReader{r: f, p: p}
	}

	stored, err := a.client.Upload(ctx, name, src, info.Size())
	if p != nil {
		p.finish()
	}
	if err != nil {
		return a.report(err)
	}
	fmt.Fprintf(a.out, "Uploaded %s (%s)\n", name, formatSize(stored))
	return nil
}

// Download fetches a file: download <name> [path]. Without a path the file
// is written into the configured download directory. The destination only
// appears once the whole file has arrived.
func (a *App) Download(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(a.out, "Usage: download <name> [path]")
		return errUsage
	}
	name := args[0]

	dest := ""
	if len(args) == 2 {
		dest = args[1]
	} else {
		dir, err := filex.EnsureDir(a.config.DownloadDir)
		if err != nil {
			return a.report(err)
		}
		dest = filepath.Join(dir, filepath.Base(name))
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return a.report(err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	ctx, cancel := a.requestContext(ctx)
	defer cancel()

	var p *progress
	n, err := a.client.DownloadFunc(ctx, name, func(size int64) (io.Writer, error) {
		if !a.progress {
			return tmp, nil
		}
		p = newProgress(a.out, name, uint64(size))
		return &progressWriter{w: tmp, p: p}, nil
	})
	if p != nil {
		p.finish()
	}
	if err != nil {
		return a.report(err)
	}

	if err := tmp.Close(); err != nil {
		return a.report(err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return a.report(err)
	}
	committed = true
	fmt.Fprintf(a.out, "Downloaded %s to %s (%s)\n", name, dest, formatSize(uint64(n)))
	return nil
}

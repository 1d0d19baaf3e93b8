package pipeline

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"mime"
	"os"
	"path"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/v0gel/mason/internal/storage"
)

// uploadIfDifferent uploads every produced record whose gzip-compressed MD5
// differs from the remote object's MD5, then purges the CDN path. Unchanged
// files cause zero PUTs and zero purges; this is the idempotence boundary.
func (pl *Pipeline) uploadIfDifferent(ctx context.Context, st *state) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pl.Config.maxParallel())
	for _, rec := range st.produced {
		g.Go(func() error {
			return pl.uploadRecord(gctx, rec)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return nil
}

func (pl *Pipeline) uploadRecord(ctx context.Context, rec Produced) error {
	content, err := recordContent(rec)
	if err != nil {
		return err
	}

	compressed, err := gzipBytes(content)
	if err != nil {
		return err
	}
	sum := md5Hex(compressed)

	var remote string
	err = withRetry(ctx, func() error {
		var headErr error
		remote, headErr = pl.Store.Head(ctx, rec.Deploy.Bucket, rec.Key)
		if errors.Is(headErr, storage.ErrNotFound) {
			remote = ""
			return nil
		}
		return headErr
	})
	if err != nil {
		return err
	}

	if remote == sum {
		return nil
	}

	meta := &storage.ObjectMeta{
		ContentType:     contentTypeForKey(rec),
		ContentEncoding: "gzip",
	}
	err = withRetry(ctx, func() error {
		return pl.Store.Put(ctx, rec.Deploy.Bucket, rec.Key, bytes.NewReader(compressed), meta)
	})
	if err != nil {
		return err
	}

	err = pl.Purger.Purge(ctx, rec.Deploy.Domain(), "/"+rec.Key)
	if err != nil {
		// The TTL on the edge bounds staleness; don't fail the build.
		slog.Error("didn't purge", "domain", rec.Deploy.Domain(), "key", rec.Key, "err", err)
	}

	return nil
}

func recordContent(rec Produced) ([]byte, error) {
	if rec.RedirectTarget != "" {
		return redirectStub(rec.RedirectTarget), nil
	}
	if rec.Content != nil {
		return rec.Content, nil
	}
	return os.ReadFile(rec.LocalPath)
}

// redirectStub is the synthetic page uploaded at a removed extension-ful
// path so direct hits still resolve to the pretty URL.
func redirectStub(target string) []byte {
	return []byte(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="0; url=` + target + `">
<link rel="canonical" href="` + target + `">
</head>
<body>
<a href="` + target + `">Redirecting</a>
</body>
</html>
`)
}

func contentTypeForKey(rec Produced) string {
	if rec.RedirectTarget != "" {
		return "text/html"
	}
	ext := path.Ext(rec.Key)
	if ext == "" {
		return "text/html"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// gzipBytes compresses deterministically: no name, no mod time, so equal
// input yields an equal MD5 across runs.
func gzipBytes(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(content); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

const retryAttempts = 5

// withRetry retries transient infrastructure errors with 2^attempt seconds
// of backoff plus jitter.
func withRetry(ctx context.Context, f func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<attempt)*time.Second + time.Duration(rand.IntN(1000))*time.Millisecond
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = f()
		if err == nil || ctx.Err() != nil {
			return err
		}
	}
	return err
}

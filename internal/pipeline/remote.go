package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// deleteNotInBuild removes every remote object with no counterpart in the
// local build output, excluding the upload-scratch prefix. After this stage
// the bucket's contents exactly mirror the build.
func (pl *Pipeline) deleteNotInBuild(ctx context.Context, st *state) error {
	producedKeys := make(map[string]map[string]struct{})
	for _, rec := range st.produced {
		keys, ok := producedKeys[rec.Deploy.Bucket]
		if !ok {
			keys = make(map[string]struct{})
			producedKeys[rec.Deploy.Bucket] = keys
		}
		keys[rec.Key] = struct{}{}
	}

	for _, b := range st.buckets {
		objects, err := pl.Store.List(ctx, b.Bucket, "")
		if err != nil {
			return fmt.Errorf("delete not in build: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(pl.Config.maxParallel())
		for _, obj := range objects {
			if strings.HasPrefix(obj.Key, ScratchPrefix) {
				continue
			}
			if _, ok := producedKeys[b.Bucket][obj.Key]; ok {
				continue
			}
			if localCounterpartExists(st.folder, obj.Key) {
				continue
			}

			g.Go(func() error {
				err := withRetry(gctx, func() error {
					return pl.Store.Delete(gctx, b.Bucket, obj.Key)
				})
				if err != nil {
					return err
				}
				if purgeErr := pl.Purger.Purge(gctx, b.Domain(), "/"+obj.Key); purgeErr != nil {
					slog.Error("didn't purge", "domain", b.Domain(), "key", obj.Key, "err", purgeErr)
				}
				return nil
			})
		}
		if err = g.Wait(); err != nil {
			return fmt.Errorf("delete not in build: %w", err)
		}
	}
	return nil
}

// localCounterpartExists reports whether a remote key corresponds to a file
// in the local build output, accounting for the pretty-URL index.html
// mapping and the bare-path redirect-stub convention.
func localCounterpartExists(folder, key string) bool {
	out := filepath.Join(folder, buildOutputDir)

	// Direct artifact.
	if fileExists(filepath.Join(out, filepath.FromSlash(key))) {
		return true
	}

	// Pretty URL: <dir>/index.html is produced from <dir>.html.
	if dir, ok := strings.CutSuffix(key, "/index.html"); ok {
		if fileExists(filepath.Join(out, filepath.FromSlash(dir)+".html")) {
			return true
		}
	}

	// Redirect stub: a bare extensionless path stands for <key>.html.
	if path.Ext(key) == "" {
		if fileExists(filepath.Join(out, filepath.FromSlash(key)+".html")) {
			return true
		}
	}

	return false
}

func fileExists(name string) bool {
	info, err := os.Stat(name)
	return err == nil && !info.IsDir()
}

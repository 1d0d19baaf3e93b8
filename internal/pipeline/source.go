package pipeline

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// versionMarkerPrefix names the sentinel file that stamps a checkout with the
// registry version it was extracted from.
const versionMarkerPrefix = ".mason-version-"

// ArchiveKey is the object key of a site's branch archive in the source
// bucket.
func ArchiveKey(siteName, branch string) string {
	if branch == "" {
		return siteName + ".zip"
	}
	return fmt.Sprintf("%s_%s.zip", siteName, branch)
}

// VersionMarker is the sentinel file name for a registry version.
func VersionMarker(version string) string {
	return versionMarkerPrefix + version
}

// syncSource makes the local checkout match the registry's recorded version.
// If the version marker is present the existing checkout is reused; otherwise
// the branch archive is downloaded, the stale folder wiped and the archive
// extracted in its place.
func (pl *Pipeline) syncSource(ctx context.Context, st *state) error {
	marker := filepath.Join(st.folder, VersionMarker(st.site.Version))
	if _, err := os.Stat(marker); err == nil {
		slog.Info("checkout up to date", "site", st.site.Name, "version", st.site.Version)
		return nil
	}

	archive, err := os.CreateTemp("", "mason-archive-*.zip")
	if err != nil {
		return fmt.Errorf("sync source: %w", err)
	}
	defer func() {
		_ = archive.Close()
		_ = os.Remove(archive.Name())
	}()

	key := ArchiveKey(st.payload.SiteName, st.payload.Branch)
	err = pl.Store.Get(ctx, pl.Config.SourceBucket, key, archive)
	if err != nil {
		return &StageError{
			Message: fmt.Sprintf("No site archive found for %s. Publish the site before building.", branchLabel(st)),
			Err:     err,
		}
	}

	if err = os.RemoveAll(st.folder); err != nil {
		return fmt.Errorf("sync source: %w", err)
	}
	if err = unzip(archive.Name(), st.folder); err != nil {
		return fmt.Errorf("sync source: %w", err)
	}

	if err = os.WriteFile(marker, nil, 0o666); err != nil {
		return fmt.Errorf("sync source: %w", err)
	}

	slog.Info("extracted site archive", "site", st.site.Name, "version", st.site.Version)
	return nil
}

func unzip(zipFile, destDir string) error {
	r, err := zip.OpenReader(zipFile)
	if err != nil {
		return err
	}
	defer r.Close()

	if err = os.MkdirAll(destDir, 0o777); err != nil {
		return err
	}

	for _, f := range r.File {
		name := filepath.FromSlash(f.Name)
		if !filepath.IsLocal(name) {
			return fmt.Errorf("unsafe archive path %q", f.Name)
		}
		target := filepath.Join(destDir, name)

		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			if err = os.MkdirAll(target, 0o777); err != nil {
				return err
			}
			continue
		}

		if err = os.MkdirAll(filepath.Dir(target), 0o777); err != nil {
			return err
		}
		err = func() error {
			rc, err := f.Open()
			if err != nil {
				return err
			}
			defer rc.Close()

			w, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o600)
			if err != nil {
				return err
			}
			defer w.Close()

			_, err = io.Copy(w, rc)
			return err
		}()
		if err != nil {
			return err
		}
	}

	return nil
}

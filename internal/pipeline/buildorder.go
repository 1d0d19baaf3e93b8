package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	buildOutputDir   = ".build"
	buildOrderDir    = ".build-order"
	dataSnapshotFile = ".build-data.json"
	buildOrderedFile = "ordered"
	buildDefaultFile = "default"
)

// installDependencies runs the package manager in the site folder. A failure
// here is terminal for the job.
func (pl *Pipeline) installDependencies(ctx context.Context, st *state) error {
	if len(pl.Config.InstallCommand) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, pl.Config.InstallCommand[0], pl.Config.InstallCommand[1:]...)
	cmd.Dir = st.folder
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &StageError{
			Message: "Dependency install failed. Check the site's package configuration.",
			Err:     fmt.Errorf("%w: %s", err, lastLine(out)),
		}
	}
	return nil
}

// cleanOutput removes the previous build output.
func (pl *Pipeline) cleanOutput(_ context.Context, st *state) error {
	err := os.RemoveAll(filepath.Join(st.folder, buildOutputDir))
	if err != nil {
		return fmt.Errorf("clean output: %w", err)
	}
	return nil
}

// snapshotData exports the site's external data once. Every per-file build
// invocation reuses the snapshot instead of re-fetching.
func (pl *Pipeline) snapshotData(ctx context.Context, st *state) error {
	st.dataFile = dataSnapshotFile

	cmd := exec.CommandContext(ctx, pl.Config.BuildCommand, "download-data", "--toFile="+st.dataFile)
	cmd.Dir = st.folder
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &StageError{
			Message: "Fetching site data failed. Please try the build again.",
			Err:     fmt.Errorf("%w: %s", err, lastLine(out)),
		}
	}
	return nil
}

// resolveBuildOrder runs the build tool's build-order task and unions the
// prioritized list with the default full list.
func (pl *Pipeline) resolveBuildOrder(ctx context.Context, st *state) error {
	cmd := exec.CommandContext(ctx, pl.Config.BuildCommand, "build-order", "--data="+st.dataFile)
	cmd.Dir = st.folder
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &StageError{
			Message: "Resolving the build order failed. Please try the build again.",
			Err:     fmt.Errorf("%w: %s", err, lastLine(out)),
		}
	}

	ordered, err := readFileList(filepath.Join(st.folder, buildOrderDir, buildOrderedFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("resolve build order: %w", err)
	}
	defaults, err := readFileList(filepath.Join(st.folder, buildOrderDir, buildDefaultFile))
	if err != nil {
		return fmt.Errorf("resolve build order: %w", err)
	}

	st.buildOrder = Union(ordered, defaults)
	return nil
}

// Union merges the prioritized file list with the default full list.
// Prioritized files keep their relative order and come first; every default
// file appears exactly once; duplicates are dropped on first occurrence.
func Union(ordered, defaults []string) []string {
	seen := make(map[string]struct{}, len(ordered)+len(defaults))
	merged := make([]string, 0, len(ordered)+len(defaults))
	for _, lists := range [][]string{ordered, defaults} {
		for _, f := range lists {
			if f == "" {
				continue
			}
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			merged = append(merged, f)
		}
	}
	return merged
}

// readFileList reads a newline-delimited file list.
func readFileList(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var files []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			files = append(files, line)
		}
	}
	return files, scanner.Err()
}

func lastLine(out []byte) string {
	out = bytes.TrimSpace(out)
	if i := bytes.LastIndexByte(out, '\n'); i >= 0 {
		out = out[i+1:]
	}
	return string(out)
}

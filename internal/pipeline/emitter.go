package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/v0gel/mason/internal/registry"
)

// Build subprocess progress protocol, line-oriented on stdout. Only these two
// forms are parsed; everything else is informational.
const (
	docWrittenPrefix = "build:document-written:./" + buildOutputDir + "/"
	endEventMark     = ":end:"
)

// Produced is one file the build fan-out produced for one bucket. Content is
// set for synthetic records (redirect stubs, sitemaps, robots) that have no
// local artifact.
type Produced struct {
	Deploy         registry.Deploy
	Key            string
	LocalPath      string
	Content        []byte
	RedirectTarget string
}

// invocation is one queued build subprocess run.
type invocation struct {
	deploy registry.Deploy
	args   []string
}

// runBuilds fans out one build invocation per file in build order per target
// bucket, plus one static-assets invocation per bucket, bounded by
// Config.MaxParallel. Subprocess document-written events become produced
// records; an end event kills the subprocess instead of waiting for exit.
func (pl *Pipeline) runBuilds(ctx context.Context, st *state) error {
	invocations := make([]invocation, 0, (len(st.buildOrder)+1)*len(st.buckets))
	for _, b := range st.buckets {
		settings, err := bucketSettings(pl.Config.protocol(), &b)
		if err != nil {
			return fmt.Errorf("run builds: %w", err)
		}
		for _, file := range st.buildOrder {
			task := "build-template"
			if strings.HasPrefix(file, "pages/") {
				task = "build-page"
			}
			invocations = append(invocations, invocation{
				deploy: b,
				args: []string{
					task,
					"--inFile=" + file,
					"--data=" + st.dataFile,
					fmt.Sprintf("--production=%t", pl.Config.Production),
					"--settings=" + settings,
				},
			})
		}
		invocations = append(invocations, invocation{
			deploy: b,
			args: []string{
				"build-static",
				"--data=" + st.dataFile,
				fmt.Sprintf("--production=%t", pl.Config.Production),
				"--settings=" + settings,
			},
		})
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pl.Config.maxParallel())
	for _, inv := range invocations {
		g.Go(func() error {
			written, err := pl.runEmitter(gctx, st.folder, inv.args)
			if err != nil {
				return &StageError{
					Message: fmt.Sprintf("Building %s failed. Fix the file and rebuild.", invocationLabel(inv.args)),
					Err:     err,
				}
			}

			records, hasRobots := translateEvents(inv.deploy, st.folder, written)
			mu.Lock()
			st.produced = append(st.produced, records...)
			st.hasRobots = st.hasRobots || hasRobots
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// runEmitter executes one build subprocess and collects document-written
// paths from its stdout. An end event kills the process immediately; the
// resulting wait error is not a failure.
func (pl *Pipeline) runEmitter(ctx context.Context, dir string, args []string) ([]string, error) {
	cmd := exec.CommandContext(ctx, pl.Config.BuildCommand, args...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err = cmd.Start(); err != nil {
		return nil, err
	}

	var written []string
	ended := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if rel, ok := strings.CutPrefix(line, docWrittenPrefix); ok {
			written = append(written, path.Clean(strings.TrimSpace(rel)))
			continue
		}
		if strings.Contains(line, endEventMark) {
			// The build tool is done producing documents; don't wait for its
			// natural exit.
			ended = true
			_ = cmd.Process.Kill()
			break
		}
	}

	waitErr := cmd.Wait()
	if ended {
		return written, nil
	}
	if scanErr := scanner.Err(); scanErr != nil && waitErr == nil {
		return nil, scanErr
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("%w: %s", waitErr, lastLine([]byte(stderr.String())))
		}
		return nil, waitErr
	}
	return written, nil
}

// translateEvents turns document-written paths into produced records.
// Non-index, non-404 HTML pages are rewritten to the pretty-URL form
// <path>/index.html plus a synthetic redirect stub at the bare <path> so
// direct hits on the old extension-ful path still resolve. A robots.txt
// event only raises the hasRobots flag; the file is re-synthesized later
// with the sitemap location.
func translateEvents(deploy registry.Deploy, folder string, written []string) (records []Produced, hasRobots bool) {
	for _, rel := range written {
		if rel == "robots.txt" {
			hasRobots = true
			continue
		}

		local := path.Join(folder, buildOutputDir, rel)
		base := path.Base(rel)
		if strings.HasSuffix(rel, ".html") && base != "index.html" && base != "404.html" {
			pretty := strings.TrimSuffix(rel, ".html")
			records = append(records,
				Produced{Deploy: deploy, Key: pretty + "/index.html", LocalPath: local},
				Produced{Deploy: deploy, Key: pretty, RedirectTarget: "/" + pretty + "/"},
			)
			continue
		}

		records = append(records, Produced{Deploy: deploy, Key: rel, LocalPath: local})
	}
	return records, hasRobots
}

func bucketSettings(protocol string, d *registry.Deploy) (string, error) {
	b, err := json.Marshal(map[string]string{
		"site_url": protocol + "://" + d.Domain(),
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func invocationLabel(args []string) string {
	for _, a := range args {
		if file, ok := strings.CutPrefix(a, "--inFile="); ok {
			return file
		}
	}
	return "static assets"
}

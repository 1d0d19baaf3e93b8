package pipeline

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/v0gel/mason/internal/registry"
)

const sitemapKey = "sitemap.xml"

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc string `xml:"loc"`
}

// synthesizeSitemaps builds one sitemap.xml per bucket from the index pages
// the fan-out produced. URLs are absolute, using the bucket's mask domain
// when present.
func (pl *Pipeline) synthesizeSitemaps(_ context.Context, st *state) error {
	pages := make(map[string][]string)
	deploys := make(map[string]registry.Deploy)
	for _, rec := range st.produced {
		deploys[rec.Deploy.Bucket] = rec.Deploy
		if !strings.HasSuffix(rec.Key, "index.html") {
			continue
		}
		loc := pl.Config.protocol() + "://" + rec.Deploy.Domain() + "/" + strings.TrimSuffix(rec.Key, "index.html")
		pages[rec.Deploy.Bucket] = append(pages[rec.Deploy.Bucket], loc)
	}

	for bucket, locs := range pages {
		sort.Strings(locs)
		urlSet := sitemapURLSet{
			Xmlns: "http://www.sitemaps.org/schemas/sitemap/0.9",
			URLs:  make([]sitemapURL, 0, len(locs)),
		}
		for _, loc := range locs {
			urlSet.URLs = append(urlSet.URLs, sitemapURL{Loc: loc})
		}

		body, err := xml.MarshalIndent(urlSet, "", "  ")
		if err != nil {
			return fmt.Errorf("synthesize sitemaps: %w", err)
		}
		content := append([]byte(xml.Header), body...)
		content = append(content, '\n')

		st.produced = append(st.produced, Produced{
			Deploy:  deploys[bucket],
			Key:     sitemapKey,
			Content: content,
		})
	}
	return nil
}

// synthesizeRobots re-invokes the build tool's robots task with the sitemap
// location, once per bucket, but only if the build emitted a robots.txt.
func (pl *Pipeline) synthesizeRobots(ctx context.Context, st *state) error {
	if !st.hasRobots {
		return nil
	}

	robotsFile := filepath.Join(st.folder, buildOutputDir, "robots.txt")
	for _, b := range st.buckets {
		sitemapLoc := pl.Config.protocol() + "://" + b.Domain() + "/" + sitemapKey

		cmd := exec.CommandContext(ctx, pl.Config.BuildCommand, "build-robots",
			"--sitemap="+sitemapLoc,
			"--data="+st.dataFile,
		)
		cmd.Dir = st.folder
		out, err := cmd.CombinedOutput()
		if err != nil {
			return &StageError{
				Message: "Generating robots.txt failed. Please try the build again.",
				Err:     fmt.Errorf("%w: %s", err, lastLine(out)),
			}
		}

		content, err := os.ReadFile(robotsFile)
		if err != nil {
			return fmt.Errorf("synthesize robots: %w", err)
		}
		st.produced = append(st.produced, Produced{
			Deploy:  b,
			Key:     "robots.txt",
			Content: content,
		})
	}
	return nil
}

package job

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tube is a named logical sub-queue. One worker process watches exactly one tube.
type Tube string

const (
	TubeBuild         Tube = "build"
	TubePreviewBuild  Tube = "preview_build"
	TubeCreate        Tube = "create"
	TubeInvite        Tube = "invite"
	TubeRedirects     Tube = "redirects"
	TubeDomainMap     Tube = "domain_map"
	TubeSearchReindex Tube = "search_reindex"
	TubeVerification  Tube = "verification"
	TubeDNS           Tube = "dns"
)

var tubes = map[Tube]struct{}{
	TubeBuild:         {},
	TubePreviewBuild:  {},
	TubeCreate:        {},
	TubeInvite:        {},
	TubeRedirects:     {},
	TubeDomainMap:     {},
	TubeSearchReindex: {},
	TubeVerification:  {},
	TubeDNS:           {},
}

// TubeFromString converts a string to a Tube and checks if it is a known tube.
func TubeFromString(s string) (tube Tube, known bool) {
	tube = Tube(s)
	_, known = tubes[tube]
	return tube, known
}

// Payload is the queue message body. Identifier must be stable across
// re-deliveries of the same logical job because it doubles as the lock key.
type Payload struct {
	Identifier string `json:"identifier"`
	Data       Data   `json:"payload"`
}

// Data is the worker-specific part of a payload.
type Data struct {
	UserID      uuid.UUID `json:"userid"`
	SiteName    string    `json:"sitename"`
	SiteBucket  string    `json:"siteBucket,omitempty"`
	Branch      string    `json:"branch,omitempty"`
	BuildTime   int64     `json:"build_time,omitempty"` // unix seconds
	NoDelay     bool      `json:"noDelay,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	ItemKey     string    `json:"itemKey,omitempty"`
	Deploys     []string  `json:"deploys,omitempty"`
	Requeues    int       `json:"requeues,omitempty"`
}

// BuildIdentifier names one build job. The branch determines which site
// archive applies, so it is part of the identity.
func BuildIdentifier(siteName, branch string) string {
	return fmt.Sprintf("%s_%s", siteName, branch)
}

// PreviewIdentifier names one preview-build job.
func PreviewIdentifier(siteName, contentType, itemKey string) string {
	return fmt.Sprintf("%s_%s_%s", siteName, contentType, itemKey)
}

func Encode(p *Payload) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("job.Encode: %w", err)
	}
	return b, nil
}

func Decode(body []byte) (*Payload, error) {
	var p Payload
	dec := json.NewDecoder(bytes.NewReader(body))
	err := dec.Decode(&p)
	if err != nil {
		return nil, fmt.Errorf("job.Decode: invalid body: %w", err)
	}
	if dec.More() {
		return nil, errors.New("job.Decode: invalid body: multiple top-level values")
	}
	if p.Identifier == "" {
		return nil, errors.New("job.Decode: missing identifier")
	}
	return &p, nil
}

// BuildAt reports the requested build time, zero if the job is immediate.
func (d *Data) BuildAt() time.Time {
	if d.BuildTime == 0 {
		return time.Time{}
	}
	return time.Unix(d.BuildTime, 0)
}

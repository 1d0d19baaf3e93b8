package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// MessageHistoryLimit is how many status messages a site keeps. Oldest
// messages are evicted first.
const MessageHistoryLimit = 50

// Site is the registry's record of one site.
type Site struct {
	Name      string
	Key       uuid.UUID
	Version   string
	Owners    []uuid.UUID
	Users     []uuid.UUID
	CreatedAt time.Time
}

// CanBuild reports whether the user may trigger builds for the site.
func (s *Site) CanBuild(userID uuid.UUID) bool {
	for _, id := range s.Owners {
		if id == userID {
			return true
		}
	}
	for _, id := range s.Users {
		if id == userID {
			return true
		}
	}
	return false
}

// Deploy maps one deploy branch of a site to a destination bucket. The
// bucket name doubles as the content domain; MaskDomain, when set, is the
// vanity domain the CDN serves the bucket under.
type Deploy struct {
	Branch     string
	Bucket     string
	MaskDomain string
}

// Domain is the domain the deploy is published under.
func (d *Deploy) Domain() string {
	if d.MaskDomain != "" {
		return d.MaskDomain
	}
	return d.Bucket
}

// Message is one entry of a site's status feed.
type Message struct {
	ID        uuid.UUID
	SiteName  string
	Message   string
	Code      int
	Tag       string
	CreatedAt time.Time
}

// Registry is the read-mostly site metadata store. ReportStatus keeps only
// the MessageHistoryLimit most recent messages per site. SignalBuild and
// SignalPreview write commands into the delegator inbox, which is the durable
// retry point for lost jobs.
type Registry interface {
	GetSite(ctx context.Context, name string) (*Site, error)
	GetDeploys(ctx context.Context, name string) ([]Deploy, error)
	ReportStatus(ctx context.Context, name, message string, code int, tag string) error
	GetMessages(ctx context.Context, name string) ([]Message, error)
	// SignalBuild requests a build; a non-zero buildAt schedules it.
	SignalBuild(ctx context.Context, name string, userID uuid.UUID, branch string, buildAt time.Time) error
	SignalPreview(ctx context.Context, name string, userID uuid.UUID, contentType, itemKey string) error
}

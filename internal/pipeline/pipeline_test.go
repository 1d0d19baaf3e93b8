package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/v0gel/mason/internal/job"
	"github.com/v0gel/mason/internal/registry"
)

func TestRequeueDelayed(t *testing.T) {
	t.Run("re-enqueues a scheduled build at its build time", func(t *testing.T) {
		q := &StubQueue{}
		pl := &Pipeline{Queue: q, Config: &Config{}, Now: func() time.Time { return fixedTime }}

		buildAt := fixedTime.Add(2 * time.Hour)
		st := &state{
			identifier: "mysite_master",
			payload: &job.Data{
				SiteName:  "mysite",
				Branch:    "master",
				BuildTime: buildAt.Unix(),
			},
		}

		if err := pl.requeueDelayed(context.Background(), st); err != nil {
			t.Fatalf("didn't want %v", err)
		}

		if want := 1; len(q.PutCalls) != want {
			t.Fatalf("got %d puts, want %d", len(q.PutCalls), want)
		}
		put := q.PutCalls[0]
		if got, want := put.Tube, job.TubeBuild; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := put.Params.Delay, 2*time.Hour; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		delayed, err := job.Decode(put.Params.Body)
		if err != nil {
			t.Fatalf("didn't want %v", err)
		}
		if got, want := delayed.Identifier, "mysite_master"; got != want {
			t.Errorf("got %q, want %q", got, want)
		}
		if !delayed.Data.NoDelay {
			t.Error("want noDelay on the delayed copy")
		}
	})

	t.Run("requeues onto the pipeline's own tube", func(t *testing.T) {
		q := &StubQueue{}
		pl := &Pipeline{Queue: q, Tube: job.TubePreviewBuild, Config: &Config{}, Now: func() time.Time { return fixedTime }}

		st := &state{
			identifier: "mysite_articles_hello",
			payload: &job.Data{
				SiteName:    "mysite",
				ContentType: "articles",
				ItemKey:     "hello",
				BuildTime:   fixedTime.Add(time.Hour).Unix(),
			},
		}

		if err := pl.requeueDelayed(context.Background(), st); err != nil {
			t.Fatalf("didn't want %v", err)
		}
		if want := 1; len(q.PutCalls) != want {
			t.Fatalf("got %d puts, want %d", len(q.PutCalls), want)
		}
		if got, want := q.PutCalls[0].Tube, job.TubePreviewBuild; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("doesn't requeue a copy that already carries noDelay", func(t *testing.T) {
		q := &StubQueue{}
		pl := &Pipeline{Queue: q, Config: &Config{}, Now: func() time.Time { return fixedTime }}

		st := &state{
			identifier: "mysite_master",
			payload: &job.Data{
				SiteName:  "mysite",
				Branch:    "master",
				BuildTime: fixedTime.Add(2 * time.Hour).Unix(),
				NoDelay:   true,
			},
		}

		if err := pl.requeueDelayed(context.Background(), st); err != nil {
			t.Fatalf("didn't want %v", err)
		}
		if len(q.PutCalls) != 0 {
			t.Errorf("got %d puts, want 0", len(q.PutCalls))
		}
	})

	t.Run("doesn't requeue a past build time", func(t *testing.T) {
		q := &StubQueue{}
		pl := &Pipeline{Queue: q, Config: &Config{}, Now: func() time.Time { return fixedTime }}

		st := &state{
			identifier: "mysite_master",
			payload: &job.Data{
				SiteName:  "mysite",
				Branch:    "master",
				BuildTime: fixedTime.Add(-time.Minute).Unix(),
			},
		}

		if err := pl.requeueDelayed(context.Background(), st); err != nil {
			t.Fatalf("didn't want %v", err)
		}
		if len(q.PutCalls) != 0 {
			t.Errorf("got %d puts, want 0", len(q.PutCalls))
		}
	})
}

func TestTargetBuckets(t *testing.T) {
	deploys := []registry.Deploy{
		{Branch: "master", Bucket: "www.example.com"},
		{Branch: "staging", Bucket: "staging.example.com"},
	}

	tests := []struct {
		name    string
		payload job.Data
		want    []registry.Deploy
	}{
		{
			name:    "branch selects its deploy",
			payload: job.Data{SiteName: "mysite", Branch: "master"},
			want:    []registry.Deploy{{Branch: "master", Bucket: "www.example.com"}},
		},
		{
			name:    "no branch selects every deploy",
			payload: job.Data{SiteName: "mysite"},
			want:    deploys,
		},
		{
			name:    "explicit registered bucket",
			payload: job.Data{SiteName: "mysite", SiteBucket: "staging.example.com"},
			want:    []registry.Deploy{{Branch: "staging", Bucket: "staging.example.com"}},
		},
		{
			name:    "explicit unregistered bucket is an ad hoc target",
			payload: job.Data{SiteName: "mysite", Branch: "master", SiteBucket: "adhoc.example.com"},
			want:    []registry.Deploy{{Branch: "master", Bucket: "adhoc.example.com"}},
		},
		{
			name:    "unknown branch selects nothing",
			payload: job.Data{SiteName: "mysite", Branch: "gone"},
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pl := &Pipeline{Registry: &StubRegistry{DeploysResult: deploys}, Config: &Config{}}
			st := &state{payload: &tt.payload}

			got, err := pl.targetBuckets(context.Background(), st)
			if err != nil {
				t.Fatalf("didn't want %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestHandle(t *testing.T) {
	t.Run("drops a job from a non-member without reporting", func(t *testing.T) {
		reg := &StubRegistry{
			SiteResult: &registry.Site{
				Name:   "mysite",
				Owners: []uuid.UUID{uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000")},
			},
		}
		pl := &Pipeline{
			Queue:    &StubQueue{},
			Registry: reg,
			Store:    &SpyStore{},
			Purger:   &SpyPurger{},
			Config:   &Config{},
		}

		err := pl.Handle(context.Background(), &job.Payload{
			Identifier: "mysite_master",
			Data: job.Data{
				UserID:   uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000000"),
				SiteName: "mysite",
				Branch:   "master",
			},
		})
		if err != nil {
			t.Fatalf("didn't want %v", err)
		}
		if len(reg.Reports) != 0 {
			t.Errorf("got %v, want no reports", reg.Reports)
		}
	})

	t.Run("fails on an unknown site", func(t *testing.T) {
		pl := &Pipeline{
			Queue:    &StubQueue{},
			Registry: &StubRegistry{},
			Store:    &SpyStore{},
			Purger:   &SpyPurger{},
			Config:   &Config{},
		}

		err := pl.Handle(context.Background(), &job.Payload{
			Identifier: "mysite_master",
			Data:       job.Data{SiteName: "mysite", Branch: "master"},
		})
		if !errors.Is(err, registry.ErrNotFound) {
			t.Errorf("got %v, want %v", err, registry.ErrNotFound)
		}
	})

	t.Run("does nothing for a branch without deploys", func(t *testing.T) {
		userID := uuid.MustParse("cccccccc-0000-0000-0000-000000000000")
		reg := &StubRegistry{
			SiteResult: &registry.Site{Name: "mysite", Owners: []uuid.UUID{userID}},
		}
		pl := &Pipeline{
			Queue:    &StubQueue{},
			Registry: reg,
			Store:    &SpyStore{},
			Purger:   &SpyPurger{},
			Config:   &Config{},
		}

		err := pl.Handle(context.Background(), &job.Payload{
			Identifier: "mysite_master",
			Data:       job.Data{UserID: userID, SiteName: "mysite", Branch: "master"},
		})
		if err != nil {
			t.Fatalf("didn't want %v", err)
		}
		if len(reg.Reports) != 0 {
			t.Errorf("got %v, want no reports", reg.Reports)
		}
	})
}

func TestReportDeployed(t *testing.T) {
	reg := &StubRegistry{}
	pl := &Pipeline{Registry: reg, Config: &Config{}}

	st := &state{
		payload: &job.Data{SiteName: "mysite", Branch: "master"},
		buckets: []registry.Deploy{
			{Branch: "master", Bucket: "www.example.com"},
			{Branch: "master", Bucket: "mysite-mirror", MaskDomain: "mirror.example.com"},
		},
	}
	if err := pl.reportDeployed(context.Background(), st); err != nil {
		t.Fatalf("didn't want %v", err)
	}

	want := []StubRegistryReport{
		{Message: "Deployed master to www.example.com", Code: 0, Tag: "deploy"},
		{Message: "Deployed master to mirror.example.com", Code: 0, Tag: "deploy"},
	}
	if !reflect.DeepEqual(reg.Reports, want) {
		t.Errorf("got %v, want %v", reg.Reports, want)
	}
}

func TestBuildFailureMessage(t *testing.T) {
	t.Run("stage errors surface their message", func(t *testing.T) {
		err := &StageError{Message: "No site archive found.", Err: errors.New("cause")}
		if got, want := buildFailureMessage(err), "No site archive found."; got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("wrapped stage errors surface their message", func(t *testing.T) {
		err := errors.Join(errors.New("outer"), &StageError{Message: "No site archive found.", Err: errors.New("cause")})
		if got, want := buildFailureMessage(err), "No site archive found."; got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("other errors get the generic message", func(t *testing.T) {
		got := buildFailureMessage(errors.New("dial tcp: connection refused"))
		if want := "Build failed. Please check your site configuration and try again."; got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})
}

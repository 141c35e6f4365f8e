package task

import (
	"context"
	"errors"
	"testing"

	"github.com/roach88/stablekit/internal/codec"
	"github.com/roach88/stablekit/internal/store"
	"github.com/roach88/stablekit/internal/testutil"
)

// job is the task payload used throughout the tests.
type job struct {
	Name  string `json:"name"`
	Fail  bool   `json:"fail,omitempty"`
	Panic bool   `json:"panic,omitempty"`
	Spawn string `json:"spawn,omitempty"`
}

var errJobFailed = errors.New("job failed")

func (j job) Execute(ctx context.Context, s Scheduler[job]) error {
	if j.Panic {
		panic("boom")
	}
	if j.Spawn != "" {
		if _, err := s.Enqueue(ctx, NewScheduled(job{Name: j.Spawn})); err != nil {
			return err
		}
	}
	if j.Fail {
		return errJobFailed
	}
	return nil
}

const startTime = 1_000

type fixture struct {
	clock  *testutil.Clock
	region *store.Region
	store  *Store[job]
}

func newFixture(t *testing.T, opts ...StoreOption) *fixture {
	t.Helper()
	clock := testutil.NewClock(startTime)
	region := testutil.NewRegistry(t).Region(7)
	opts = append([]StoreOption{
		WithClock(clock),
		WithIDGenerator(testutil.NewSequentialIDGenerator("")),
	}, opts...)
	return &fixture{
		clock:  clock,
		region: region,
		store:  NewStore(region, codec.JSON[job](), opts...),
	}
}

package attendance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoattend/internal/civilday"
	"geoattend/internal/geo"
)

var (
	ist    = civilday.IST()
	campus = geo.Point{Latitude: 11.018324792742353, Longitude: 76.97797179224519}
	// 2026-10-14 10:00 IST
	fixedNow = time.Date(2026, 10, 14, 10, 0, 0, 0, ist)

	student = Identity{ID: "stu-1", Role: RoleStudent}
	teacher = Identity{ID: "tch-1", Role: RoleTeacher}
)

func testSettings() Settings {
	return Settings{
		Fence:       geo.Fence{Center: campus, RadiusMeters: 100},
		Location:    ist,
		PageSize:    10,
		MaxPageSize: 50,
		StaffNames:  []string{"Aneesh", "Bhavan Sarathy", "Santhiya", "Nanthakumar"},
	}
}

func northOf(p geo.Point, meters float64) *geo.Point {
	return &geo.Point{Latitude: p.Latitude + (meters/geo.EarthRadiusMeters)*180/math.Pi, Longitude: p.Longitude}
}

func at(p geo.Point) *geo.Point { return &p }

// countingRepo counts successful writes.
type countingRepo struct {
	Repository
	writes atomic.Int32
}

func (c *countingRepo) CreateOrFetch(ctx context.Context, rec Record) (Record, bool, error) {
	stored, created, err := c.Repository.CreateOrFetch(ctx, rec)
	if created {
		c.writes.Add(1)
	}
	return stored, created, err
}

func (c *countingRepo) Complete(ctx context.Context, id string, out time.Time, topic, staff string) (bool, error) {
	ok, err := c.Repository.Complete(ctx, id, out, topic, staff)
	if ok {
		c.writes.Add(1)
	}
	return ok, err
}

func setup(t *testing.T, opts ...Option) (*Service, *countingRepo, *MemoryRepository) {
	t.Helper()
	mem := NewMemoryRepository(ist)
	repo := &countingRepo{Repository: mem}
	svc, err := NewService(repo, testSettings(), append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
	require.NoError(t, err)
	return svc, repo, mem
}

func checkInPayload() Payload {
	return Payload{InTime: "2026-10-14T09:00", Location: at(campus)}
}

func checkOutPayload() Payload {
	return Payload{OutTime: "2026-10-14T17:00", Topic: "X", StaffName: "Aneesh", Location: at(campus)}
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	require.Error(t, err)
	var e *Error
	require.True(t, errors.As(err, &e), "want *Error, got %T", err)
	return e.Kind
}

func TestSubmit_TwoPhaseRoundTrip(t *testing.T) {
	svc, repo, mem := setup(t)
	ctx := context.Background()

	out, err := svc.Submit(ctx, student, checkInPayload())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out.Code)
	assert.True(t, out.Record.InTime.Equal(time.Date(2026, 10, 14, 9, 0, 0, 0, ist)))
	assert.Nil(t, out.Record.OutTime)

	done, err := svc.HasCompletedToday(ctx, student.ID)
	require.NoError(t, err)
	assert.False(t, done)

	out, err = svc.Submit(ctx, student, checkOutPayload())
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, out.Code)
	require.NotNil(t, out.Record.OutTime)
	assert.Equal(t, "X", *out.Record.Topic)
	assert.Equal(t, "Aneesh", *out.Record.StaffName)

	done, err = svc.HasCompletedToday(ctx, student.ID)
	require.NoError(t, err)
	assert.True(t, done)

	_, err = svc.Submit(ctx, student, checkOutPayload())
	assert.Equal(t, KindAlreadyCompleted, kindOf(t, err))
	_, err = svc.Submit(ctx, student, checkInPayload())
	assert.Equal(t, KindAlreadyCompleted, kindOf(t, err))

	n, err := mem.Count(ctx, RecordFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 2, repo.writes.Load())

	rec, err := mem.FindInWindow(ctx, student.ID, svc.Today().Start, svc.Today().End)
	require.NoError(t, err)
	assert.Equal(t, Completed, rec.State())
	assert.Equal(t, "2026-10-14", rec.Day(ist))
}

func TestSubmit_OutOfRangeLeavesRecordUntouched(t *testing.T) {
	svc, repo, mem := setup(t)
	ctx := context.Background()

	out, err := svc.Submit(ctx, student, checkInPayload())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out.Code)

	p := checkOutPayload()
	p.Location = northOf(campus, 150)
	_, err = svc.Submit(ctx, student, p)
	assert.Equal(t, KindOutOfRange, kindOf(t, err))
	assert.Contains(t, err.Error(), "150m")

	rec, err := mem.FindInWindow(ctx, student.ID, svc.Today().Start, svc.Today().End)
	require.NoError(t, err)
	assert.Nil(t, rec.OutTime)
	assert.EqualValues(t, 1, repo.writes.Load())
}

func TestSubmit_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		who     Identity
		prepare bool // check in first
		payload Payload
		want    Kind
	}{
		{"teacher cannot submit", teacher, false, checkInPayload(), KindNotAuthorized},
		{"missing location", student, false, Payload{InTime: "2026-10-14T09:00"}, KindInvalidLocation},
		{"NaN latitude", student, false, Payload{InTime: "2026-10-14T09:00", Location: &geo.Point{Latitude: math.NaN()}}, KindInvalidLocation},
		{"latitude out of range", student, false, Payload{InTime: "2026-10-14T09:00", Location: &geo.Point{Latitude: 95}}, KindInvalidLocation},
		{"far away", student, false, Payload{InTime: "2026-10-14T09:00", Location: northOf(campus, 101)}, KindOutOfRange},
		{"missing intime", student, false, Payload{Location: at(campus)}, KindMissingField},
		{"garbage intime", student, false, Payload{InTime: "nine o'clock", Location: at(campus)}, KindInvalidTimestamp},
		{"intime yesterday", student, false, Payload{InTime: "2026-10-13T09:00", Location: at(campus)}, KindInvalidTimestamp},
		{"redundant check-in", student, true, checkInPayload(), KindAlreadyCheckedIn},
		{"check-out without fields", student, true, Payload{Location: at(campus)}, KindMissingField},
		{"check-out without topic", student, true, Payload{OutTime: "2026-10-14T17:00", StaffName: "Aneesh", Location: at(campus)}, KindMissingField},
		{"check-out without staff", student, true, Payload{OutTime: "2026-10-14T17:00", Topic: "X", Location: at(campus)}, KindMissingField},
		{"check-out without outtime", student, true, Payload{Topic: "X", StaffName: "Aneesh", Location: at(campus)}, KindMissingField},
		{"unknown staff", student, true, Payload{OutTime: "2026-10-14T17:00", Topic: "X", StaffName: "aneesh", Location: at(campus)}, KindInvalidStaff},
		{"garbage outtime", student, true, Payload{OutTime: "later", Topic: "X", StaffName: "Aneesh", Location: at(campus)}, KindInvalidTimestamp},
		{"outtime before intime", student, true, Payload{OutTime: "2026-10-14T08:00", Topic: "X", StaffName: "Aneesh", Location: at(campus)}, KindInvalidTimestamp},
		{"outtime equal to intime", student, true, Payload{OutTime: "2026-10-14T09:00", Topic: "X", StaffName: "Aneesh", Location: at(campus)}, KindInvalidTimestamp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, _ := setup(t)
			ctx := context.Background()
			if tt.prepare {
				_, err := svc.Submit(ctx, student, checkInPayload())
				require.NoError(t, err)
			}
			before := repo.writes.Load()

			_, err := svc.Submit(ctx, tt.who, tt.payload)
			assert.Equal(t, tt.want, kindOf(t, err))
			assert.Equal(t, before, repo.writes.Load(), "no writes on rejection")
		})
	}
}

// failingRepo fails every call.
type failingRepo struct{}

var errDown = errors.New("connection refused")

func (failingRepo) FindInWindow(context.Context, string, time.Time, time.Time) (*Record, error) {
	return nil, errDown
}
func (failingRepo) CreateOrFetch(context.Context, Record) (Record, bool, error) {
	return Record{}, false, errDown
}
func (failingRepo) Complete(context.Context, string, time.Time, string, string) (bool, error) {
	return false, errDown
}
func (failingRepo) Count(context.Context, RecordFilter) (int, error) { return 0, errDown }
func (failingRepo) List(context.Context, RecordFilter, int, int) ([]RecordView, error) {
	return nil, errDown
}

func TestStorageFailures(t *testing.T) {
	svc, err := NewService(failingRepo{}, testSettings(), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.Submit(ctx, student, checkInPayload())
	assert.Equal(t, KindStorageUnavailable, kindOf(t, err))
	assert.ErrorIs(t, err, errDown)

	_, err = svc.HasCompletedToday(ctx, student.ID)
	assert.Equal(t, KindStorageUnavailable, kindOf(t, err))

	_, err = svc.Records(ctx, teacher, Query{})
	assert.Equal(t, KindStorageUnavailable, kindOf(t, err))

	_, err = svc.ExportRecords(ctx, teacher, Query{})
	assert.Equal(t, KindStorageUnavailable, kindOf(t, err))
}

// staleRepo hides existing rows from FindInWindow, like a reader racing a writer.
type staleRepo struct{ Repository }

func (staleRepo) FindInWindow(context.Context, string, time.Time, time.Time) (*Record, error) {
	return nil, nil
}

func TestSubmit_RaceLoserIsJudgedAgainstWinner(t *testing.T) {
	mem := NewMemoryRepository(ist)
	svc, err := NewService(staleRepo{mem}, testSettings(), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	ctx := context.Background()

	out, err := svc.Submit(ctx, student, checkInPayload())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out.Code)

	_, err = svc.Submit(ctx, student, checkInPayload())
	assert.Equal(t, KindAlreadyCheckedIn, kindOf(t, err))

	p := checkOutPayload()
	p.InTime = "2026-10-14T09:30"
	out, err = svc.Submit(ctx, student, p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, out.Code)

	_, err = svc.Submit(ctx, student, p)
	assert.Equal(t, KindAlreadyCompleted, kindOf(t, err))

	n, err := mem.Count(ctx, RecordFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSubmit_ConcurrentCheckIns(t *testing.T) {
	svc, repo, mem := setup(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	var created atomic.Int32
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.Submit(ctx, student, checkInPayload())
			if err != nil {
				errs <- err
				return
			}
			if out.Code == OutcomeCreated {
				created.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)

	assert.EqualValues(t, 1, created.Load())
	for err := range errs {
		assert.Equal(t, KindAlreadyCheckedIn, KindOf(err))
	}
	n, err := mem.Count(ctx, RecordFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 1, repo.writes.Load())
}

func TestSubmit_DayRollsOver(t *testing.T) {
	now := fixedNow
	mem := NewMemoryRepository(ist)
	svc, err := NewService(mem, testSettings(), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.Submit(ctx, student, checkInPayload())
	require.NoError(t, err)
	_, err = svc.Submit(ctx, student, checkOutPayload())
	require.NoError(t, err)

	now = fixedNow.AddDate(0, 0, 1)
	done, err := svc.HasCompletedToday(ctx, student.ID)
	require.NoError(t, err)
	assert.False(t, done)

	out, err := svc.Submit(ctx, student, Payload{InTime: "2026-10-15T09:00", Location: at(campus)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out.Code)
}

type fakeCache struct {
	mu    sync.Mutex
	done  map[string]time.Duration
	reads int
	err   error
}

func (f *fakeCache) IsCompleted(_ context.Context, studentID, day string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.done[studentID+"|"+day]
	return ok, nil
}

func (f *fakeCache) MarkCompleted(_ context.Context, studentID, day string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done == nil {
		f.done = map[string]time.Duration{}
	}
	f.done[studentID+"|"+day] = ttl
	return nil
}

func TestHasCompletedToday_Cache(t *testing.T) {
	cache := &fakeCache{}
	svc, _, _ := setup(t, WithCache(cache))
	ctx := context.Background()

	done, err := svc.HasCompletedToday(ctx, student.ID)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, cache.done, "negative answers are not cached")

	_, err = svc.Submit(ctx, student, checkInPayload())
	require.NoError(t, err)
	_, err = svc.Submit(ctx, student, checkOutPayload())
	require.NoError(t, err)

	done, err = svc.HasCompletedToday(ctx, student.ID)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 14*time.Hour, cache.done[student.ID+"|2026-10-14"], "ttl runs to end of day")

	// served from the cache even when storage is gone
	cached, err := NewService(failingRepo{}, testSettings(), WithCache(cache), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	done, err = cached.HasCompletedToday(ctx, student.ID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestHasCompletedToday_CacheErrorFallsBack(t *testing.T) {
	cache := &fakeCache{err: fmt.Errorf("redis down")}
	svc, _, _ := setup(t, WithCache(cache))
	ctx := context.Background()

	_, err := svc.Submit(ctx, student, checkInPayload())
	require.NoError(t, err)

	done, err := svc.HasCompletedToday(ctx, student.ID)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 1, cache.reads)
}

func TestNewService_ValidatesSettings(t *testing.T) {
	mem := NewMemoryRepository(ist)

	_, err := NewService(nil, testSettings())
	assert.Error(t, err)

	mutate := []func(*Settings){
		func(s *Settings) { s.Location = nil },
		func(s *Settings) { s.Fence.RadiusMeters = 0 },
		func(s *Settings) { s.Fence.Center.Latitude = 120 },
		func(s *Settings) { s.PageSize = 0 },
		func(s *Settings) { s.StaffNames = nil },
	}
	for i, m := range mutate {
		st := testSettings()
		m(&st)
		_, err := NewService(mem, st)
		assert.Error(t, err, "case %d", i)
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindStorageUnavailable, KindOf(errors.New("boom")))
	wrapped := fmt.Errorf("handler: %w", newError(KindOutOfRange, "far"))
	assert.Equal(t, KindOutOfRange, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindOutOfRange))
	assert.False(t, IsKind(nil, KindOutOfRange))
}

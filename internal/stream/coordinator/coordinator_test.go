// SPDX-License-Identifier: MIT

package coordinator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"github.com/ManuGH/vodhls/internal/domain/stream"
	"github.com/ManuGH/vodhls/internal/stream/cache"
	"github.com/ManuGH/vodhls/internal/stream/plan"
	"github.com/ManuGH/vodhls/internal/stream/profile"
	"github.com/ManuGH/vodhls/internal/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeEncoder writes a payload to OutPathTmp. Behavior is scriptable per test.
type fakeEncoder struct {
	calls   atomic.Int32
	inUse   atomic.Int32
	maxSeen atomic.Int32
	delay   time.Duration
	fail    func(req stream.EncodeRequest) error

	started   chan struct{} // closed when the first encode begins
	startOnce sync.Once
}

func (e *fakeEncoder) EncodeSegment(ctx context.Context, req stream.EncodeRequest) error {
	e.calls.Add(1)
	if e.started != nil {
		e.startOnce.Do(func() { close(e.started) })
	}
	cur := e.inUse.Add(1)
	defer e.inUse.Add(-1)
	for {
		seen := e.maxSeen.Load()
		if cur <= seen || e.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if e.fail != nil {
		if err := e.fail(req); err != nil {
			return err
		}
	}
	return os.WriteFile(req.OutPathTmp, []byte("ts-bytes"), 0o644) // #nosec G306
}

func testAnalysis(t *testing.T) *stream.Analysis {
	t.Helper()
	keyframes := []stream.Keyframe{
		{Index: 0, PTS: 0}, {Index: 1, PTS: 6}, {Index: 2, PTS: 12}, {Index: 3, PTS: 18},
	}
	segs, err := plan.Build(keyframes, 6, 20)
	require.NoError(t, err)
	return &stream.Analysis{
		MediaID:    "m1",
		SourcePath: "/media/movie.mkv",
		Format: stream.FormatInfo{
			Duration: 20, Width: 1920, Height: 1080, FPS: 24,
			VideoCodec: "h264", AudioCodec: "aac",
		},
		Keyframes: keyframes,
		Profiles:  profile.Select(1920, 1080),
		Plan:      segs,
	}
}

func newTestCoordinator(t *testing.T, enc stream.EncoderTool, maxEncodes int) (*Coordinator, *cache.Store) {
	t.Helper()
	store, err := cache.New(t.TempDir(), 3)
	require.NoError(t, err)
	return New(store, enc, maxEncodes, 6), store
}

func TestEnsureSegmentEncodesOnce(t *testing.T) {
	enc := &fakeEncoder{}
	c, store := newTestCoordinator(t, enc, 2)
	a := testAnalysis(t)
	p := a.Profiles[0]

	path, err := c.EnsureSegment(context.Background(), a, p, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), enc.calls.Load())

	data, err := os.ReadFile(path) // #nosec G304
	require.NoError(t, err)
	assert.Equal(t, "ts-bytes", string(data))

	// Cache hit: no second encode, same path.
	path2, err := c.EnsureSegment(context.Background(), a, p, 1)
	require.NoError(t, err)
	assert.Equal(t, path, path2)
	assert.Equal(t, int32(1), enc.calls.Load())

	// No temp residue.
	tmp, err := store.TmpPathForSegment(a.MediaID, p.Label, 1)
	require.NoError(t, err)
	_, statErr := os.Stat(tmp)
	assert.True(t, os.IsNotExist(statErr))
}

func TestEnsureSegmentEncodeRequest(t *testing.T) {
	var got stream.EncodeRequest
	enc := &fakeEncoder{fail: func(req stream.EncodeRequest) error {
		got = req
		return nil
	}}
	c, _ := newTestCoordinator(t, enc, 1)
	a := testAnalysis(t)
	p, _ := a.ProfileByLabel("720p")

	_, err := c.EnsureSegment(context.Background(), a, p, 2)
	require.NoError(t, err)

	assert.Equal(t, a.SourcePath, got.SourcePath)
	assert.Equal(t, 12.0, got.SeekPTS)
	assert.Equal(t, 6.0, got.Duration)
	assert.Equal(t, "720p", got.Profile.Label)
	assert.True(t, got.HasAudio)
	assert.Equal(t, 6.0, got.TargetSegmentDuration)
}

func TestConcurrentRequestsCoalesce(t *testing.T) {
	enc := &fakeEncoder{delay: 50 * time.Millisecond}
	c, _ := newTestCoordinator(t, enc, 4)
	a := testAnalysis(t)
	p := a.Profiles[0]

	const n = 10
	paths := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = c.EnsureSegment(context.Background(), a, p, 0)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), enc.calls.Load(), "ten requests for one segment must encode once")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, paths[0], paths[i])
	}
}

func TestEncodeConcurrencyBound(t *testing.T) {
	enc := &fakeEncoder{delay: 30 * time.Millisecond}
	c, _ := newTestCoordinator(t, enc, 2)
	a := testAnalysis(t)

	var wg sync.WaitGroup
	for _, p := range a.Profiles {
		for idx := range a.Plan {
			wg.Add(1)
			go func(p stream.QualityProfile, idx int) {
				defer wg.Done()
				_, err := c.EnsureSegment(context.Background(), a, p, idx)
				assert.NoError(t, err)
			}(p, idx)
		}
	}
	wg.Wait()

	assert.LessOrEqual(t, enc.maxSeen.Load(), int32(2), "encode semaphore must cap parallelism")
	assert.Equal(t, int32(len(a.Profiles)*len(a.Plan)), enc.calls.Load())
}

func TestEncoderFailureLeavesNoArtifact(t *testing.T) {
	bang := &stream.EncoderError{Code: 1, StderrTail: []string{"x264 failed"}}
	enc := &fakeEncoder{fail: func(stream.EncodeRequest) error { return bang }}
	c, store := newTestCoordinator(t, enc, 1)
	a := testAnalysis(t)
	p := a.Profiles[0]

	_, err := c.EnsureSegment(context.Background(), a, p, 0)
	var encErr *stream.EncoderError
	require.ErrorAs(t, err, &encErr)

	final, _ := store.PathForSegment(a.MediaID, p.Label, 0)
	assert.False(t, store.Exists(final), "failed encode must not publish a segment")
}

func TestFailureDoesNotPoisonTicket(t *testing.T) {
	var failures atomic.Int32
	enc := &fakeEncoder{fail: func(stream.EncodeRequest) error {
		if failures.Add(1) == 1 {
			return errors.New("transient encoder crash")
		}
		return nil
	}}
	c, _ := newTestCoordinator(t, enc, 1)
	a := testAnalysis(t)
	p := a.Profiles[0]

	_, err := c.EnsureSegment(context.Background(), a, p, 0)
	require.Error(t, err)

	// The next request gets a fresh build, not the cached failure.
	path, err := c.EnsureSegment(context.Background(), a, p, 0)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestWaitersSeeHolderError(t *testing.T) {
	bang := errors.New("boom")
	enc := &fakeEncoder{delay: 50 * time.Millisecond, fail: func(stream.EncodeRequest) error { return bang }}
	c, _ := newTestCoordinator(t, enc, 1)
	a := testAnalysis(t)
	p := a.Profiles[0]

	const n = 4
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.EnsureSegment(context.Background(), a, p, 0)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), enc.calls.Load())
	for i := 0; i < n; i++ {
		assert.ErrorIs(t, errs[i], bang)
	}
}

func TestHolderDisconnectDoesNotKillBuild(t *testing.T) {
	enc := &fakeEncoder{delay: 300 * time.Millisecond, started: make(chan struct{})}
	c, _ := newTestCoordinator(t, enc, 1)
	a := testAnalysis(t)
	p := a.Profiles[0]

	holderCtx, cancelHolder := context.WithCancel(context.Background())
	holderDone := make(chan error, 1)
	go func() {
		_, err := c.EnsureSegment(holderCtx, a, p, 0)
		holderDone <- err
	}()
	<-enc.started

	// Second requester joins the in-flight build.
	waiterDone := make(chan error, 1)
	var waiterPath string
	go func() {
		path, err := c.EnsureSegment(context.Background(), a, p, 0)
		waiterPath = path
		waiterDone <- err
	}()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(ticketWaiters) >= 1
	}, 2*time.Second, time.Millisecond)

	// First requester hangs up; the build must survive for the waiter.
	cancelHolder()

	require.NoError(t, <-waiterDone)
	assert.FileExists(t, waiterPath)
	assert.Equal(t, int32(1), enc.calls.Load())
	<-holderDone
}

func TestBuildStopsWhenAllWaitersLeave(t *testing.T) {
	enc := &fakeEncoder{delay: 10 * time.Second, started: make(chan struct{})}
	c, store := newTestCoordinator(t, enc, 1)
	a := testAnalysis(t)
	p := a.Profiles[0]

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.EnsureSegment(ctx, a, p, 0)
		done <- err
	}()
	<-enc.started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("build kept running with no waiters left")
	}

	final, err := store.PathForSegment(a.MediaID, p.Label, 0)
	require.NoError(t, err)
	assert.False(t, store.Exists(final))
}

func TestEnsureSegmentEmitsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	enc := &fakeEncoder{}
	c, _ := newTestCoordinator(t, enc, 1)
	a := testAnalysis(t)
	p := a.Profiles[0]

	_, err := c.EnsureSegment(context.Background(), a, p, 1)
	require.NoError(t, err)

	var span sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == "segment.encode" {
			span = s
		}
	}
	require.NotNil(t, span, "segment build must be traced")
	attrs := span.Attributes()
	assert.Contains(t, attrs, attribute.String(telemetry.MediaIDKey, "m1"))
	assert.Contains(t, attrs, attribute.String(telemetry.QualityKey, p.Label))
	assert.Contains(t, attrs, attribute.Int(telemetry.SegmentIndexKey, 1))
	assert.Contains(t, attrs, attribute.Float64(telemetry.EncodeSeekKey, 6.0))
}

func TestEnsureSegmentIndexOutOfRange(t *testing.T) {
	enc := &fakeEncoder{}
	c, _ := newTestCoordinator(t, enc, 1)
	a := testAnalysis(t)

	_, err := c.EnsureSegment(context.Background(), a, a.Profiles[0], len(a.Plan))
	assert.ErrorIs(t, err, stream.ErrInvalidSegmentName)
	assert.Equal(t, int32(0), enc.calls.Load())
}

func TestEnsurePlaylists(t *testing.T) {
	enc := &fakeEncoder{}
	c, store := newTestCoordinator(t, enc, 1)
	a := testAnalysis(t)

	require.NoError(t, c.EnsurePlaylists(context.Background(), a))

	master, err := store.PathForMaster(a.MediaID)
	require.NoError(t, err)
	assert.True(t, store.Exists(master))

	for _, p := range a.Profiles {
		variant, err := store.PathForPlaylist(a.MediaID, p.Label)
		require.NoError(t, err)
		assert.True(t, store.Exists(variant))
	}

	// Idempotent; content is never rewritten.
	before, err := os.ReadFile(master) // #nosec G304
	require.NoError(t, err)
	require.NoError(t, c.EnsurePlaylists(context.Background(), a))
	after, err := os.ReadFile(master) // #nosec G304
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEnsurePlaylistsConcurrent(t *testing.T) {
	enc := &fakeEncoder{}
	c, store := newTestCoordinator(t, enc, 1)
	a := testAnalysis(t)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.EnsurePlaylists(context.Background(), a))
		}()
	}
	wg.Wait()

	master, _ := store.PathForMaster(a.MediaID)
	assert.True(t, store.Exists(master))
}

func TestSegmentDirsCreatedUnderCacheRoot(t *testing.T) {
	enc := &fakeEncoder{}
	c, store := newTestCoordinator(t, enc, 1)
	a := testAnalysis(t)
	p := a.Profiles[0]

	path, err := c.EnsureSegment(context.Background(), a, p, 3)
	require.NoError(t, err)
	rel, err := filepath.Rel(store.Root(), path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("m1", p.Label, "segment_003.ts"), rel)
}

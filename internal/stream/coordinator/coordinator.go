// SPDX-License-Identifier: MIT

// Package coordinator serializes just-in-time builds of cached artifacts.
// Many requests may want the same segment at once; exactly one encodes it,
// the rest wait for that result.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/ManuGH/vodhls/internal/domain/stream"
	"github.com/ManuGH/vodhls/internal/log"
	"github.com/ManuGH/vodhls/internal/platform/fs"
	"github.com/ManuGH/vodhls/internal/stream/cache"
	"github.com/ManuGH/vodhls/internal/stream/playlist"
	"github.com/ManuGH/vodhls/internal/telemetry"
)

var (
	segmentBuildTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodhls_segment_build_total",
		Help: "Segment build outcomes at the coordinator.",
	}, []string{"outcome"}) // hit, encoded, coalesced, error
	ticketWaiters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vodhls_segment_ticket_waiters",
		Help: "Goroutines currently waiting on a segment ticket.",
	})
)

// ticket is the per-key build latch. The holder encodes; waiters block on
// done and read err afterwards. The build runs on buildCtx, which outlives
// the holder's request and is cancelled only when the last waiter leaves.
type ticket struct {
	done chan struct{}
	err  error

	buildCtx context.Context
	cancel   context.CancelFunc
	waiters  int
}

// Coordinator owns the keyed ticket table and the global encode semaphore.
type Coordinator struct {
	store   *cache.Store
	encoder stream.EncoderTool
	target  float64 // target segment duration in seconds
	tracer  trace.Tracer

	mu      sync.Mutex
	tickets map[string]*ticket

	encodeSlots *semaphore.Weighted
}

// New creates a coordinator bounding concurrent encodes to maxEncodes
// (minimum one).
func New(store *cache.Store, encoder stream.EncoderTool, maxEncodes int, targetSegmentDuration float64) *Coordinator {
	if maxEncodes < 1 {
		maxEncodes = 1
	}
	if targetSegmentDuration <= 0 {
		targetSegmentDuration = 6
	}
	return &Coordinator{
		store:       store,
		encoder:     encoder,
		target:      targetSegmentDuration,
		tracer:      telemetry.Tracer("vodhls/coordinator"),
		tickets:     make(map[string]*ticket),
		encodeSlots: semaphore.NewWeighted(int64(maxEncodes)),
	}
}

func segmentKey(mediaID, quality string, index int) string {
	return fmt.Sprintf("seg/%s/%s/%d", mediaID, quality, index)
}

func playlistKey(mediaID string) string {
	return "pl/" + mediaID
}

// acquire returns the ticket for key and whether this caller is the holder.
// The build context is detached from the holder's request so a disconnecting
// requester cannot kill a build other waiters still want.
func (c *Coordinator) acquire(ctx context.Context, key string) (*ticket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tickets[key]; ok {
		t.waiters++
		return t, false
	}
	buildCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &ticket{
		done:     make(chan struct{}),
		buildCtx: buildCtx,
		cancel:   cancel,
		waiters:  1,
	}
	c.tickets[key] = t
	return t, true
}

// abandon drops one waiter from the ticket. The build is cancelled only when
// nobody is left to consume its result.
func (c *Coordinator) abandon(t *ticket) {
	c.mu.Lock()
	t.waiters--
	stop := t.waiters <= 0
	c.mu.Unlock()
	if stop {
		t.cancel()
	}
}

// release publishes the result and removes the ticket so later requests
// re-check the cache instead of inheriting a stale error.
func (c *Coordinator) release(key string, t *ticket, err error) {
	t.err = err
	c.mu.Lock()
	delete(c.tickets, key)
	c.mu.Unlock()
	close(t.done)
	t.cancel()
}

// EnsureSegment guarantees the segment file exists in the cache, encoding it
// if needed, and returns its absolute path. All concurrent callers for the
// same segment receive the same outcome.
func (c *Coordinator) EnsureSegment(ctx context.Context, a *stream.Analysis, profile stream.QualityProfile, index int) (string, error) {
	final, err := c.store.PathForSegment(a.MediaID, profile.Label, index)
	if err != nil {
		return "", err
	}
	if c.store.Exists(final) {
		segmentBuildTotal.WithLabelValues("hit").Inc()
		return final, nil
	}

	key := segmentKey(a.MediaID, profile.Label, index)
	t, holder := c.acquire(ctx, key)
	if !holder {
		ticketWaiters.Inc()
		defer ticketWaiters.Dec()
		select {
		case <-t.done:
			if t.err != nil {
				segmentBuildTotal.WithLabelValues("error").Inc()
				return "", t.err
			}
			segmentBuildTotal.WithLabelValues("coalesced").Inc()
			return final, nil
		case <-ctx.Done():
			c.abandon(t)
			return "", ctx.Err()
		}
	}

	// The holder counts as a waiter too: its disconnect only stops the build
	// once no one else is subscribed.
	stopWatch := context.AfterFunc(ctx, func() { c.abandon(t) })
	err = c.buildSegment(t.buildCtx, a, profile, index, final)
	stopWatch()
	c.release(key, t, err)
	if err != nil {
		segmentBuildTotal.WithLabelValues("error").Inc()
		return "", err
	}
	segmentBuildTotal.WithLabelValues("encoded").Inc()
	return final, nil
}

func (c *Coordinator) buildSegment(ctx context.Context, a *stream.Analysis, profile stream.QualityProfile, index int, final string) error {
	// Double check under the ticket: another holder may have finished between
	// the Exists probe and acquire.
	if c.store.Exists(final) {
		return nil
	}

	seg, ok := a.SegmentByIndex(index)
	if !ok {
		return fmt.Errorf("%w: index %d out of plan range", stream.ErrInvalidSegmentName, index)
	}

	ctx, span := c.tracer.Start(ctx, "segment.encode", trace.WithAttributes(
		telemetry.SegmentAttributes(a.MediaID, profile.Label, index, profile.MaxBitrate, seg.StartPTS)...))
	defer span.End()

	err := c.encodeToCache(ctx, a, profile, index, seg, final)
	if err != nil {
		span.SetAttributes(telemetry.ErrorAttributes(errorLabel(err))...)
	}
	return err
}

func (c *Coordinator) encodeToCache(ctx context.Context, a *stream.Analysis, profile stream.QualityProfile, index int, seg stream.SegmentSpec, final string) error {
	if err := c.encodeSlots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.encodeSlots.Release(1)

	if err := c.store.EnsureSegmentDir(a.MediaID, profile.Label); err != nil {
		return err
	}
	tmp, err := c.store.TmpPathForSegment(a.MediaID, profile.Label, index)
	if err != nil {
		return err
	}

	req := stream.EncodeRequest{
		SourcePath:            a.SourcePath,
		SeekPTS:               seg.StartPTS,
		Duration:              seg.Duration(),
		Profile:               profile,
		SourceFPS:             a.Format.FPS,
		SourceWidth:           a.Format.Width,
		SourceHeight:          a.Format.Height,
		HasAudio:              a.Format.HasAudio(),
		TargetSegmentDuration: c.target,
		OutPathTmp:            tmp,
	}
	if err := c.encoder.EncodeSegment(ctx, req); err != nil {
		return err
	}
	if err := fs.PromoteTmp(tmp, final); err != nil {
		return fmt.Errorf("promote segment: %w", err)
	}

	logger := log.WithStreaming("coordinator")
	logger.Debug().
		Str(log.FieldMediaID, a.MediaID).
		Str(log.FieldQuality, profile.Label).
		Int(log.FieldSegment, index).
		Msg("segment materialized")
	return nil
}

// errorLabel classifies a build failure into a stable span attribute value.
func errorLabel(err error) string {
	switch {
	case errors.Is(err, stream.ErrEncoderTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "encode_failed"
	}
}

// EnsurePlaylists materializes master.m3u8 and every variant playlist for the
// media. Concurrent callers coalesce onto one writer. Existing playlists are
// never rewritten; the plan is deterministic for an unchanged source.
func (c *Coordinator) EnsurePlaylists(ctx context.Context, a *stream.Analysis) error {
	master, err := c.store.PathForMaster(a.MediaID)
	if err != nil {
		return err
	}
	if c.store.Exists(master) {
		return nil
	}

	key := playlistKey(a.MediaID)
	t, holder := c.acquire(ctx, key)
	if !holder {
		select {
		case <-t.done:
			return t.err
		case <-ctx.Done():
			c.abandon(t)
			return ctx.Err()
		}
	}

	_, span := c.tracer.Start(t.buildCtx, "playlist.materialize", trace.WithAttributes(
		telemetry.MediaAttributes(a.MediaID, "")...))
	err = c.writePlaylists(a, master)
	if err != nil {
		span.SetAttributes(telemetry.ErrorAttributes("playlist_write")...)
	}
	span.End()
	c.release(key, t, err)
	return err
}

func (c *Coordinator) writePlaylists(a *stream.Analysis, master string) error {
	if c.store.Exists(master) {
		return nil
	}

	// Variants first; the master is the publication marker.
	for _, p := range a.Profiles {
		path, err := c.store.PathForPlaylist(a.MediaID, p.Label)
		if err != nil {
			return err
		}
		err = c.store.WriteAtomic(path, func(w io.Writer) error {
			return playlist.WriteVariant(w, a.Plan, c.store.SegmentFilename)
		})
		if err != nil {
			return fmt.Errorf("write variant playlist %s: %w", p.Label, err)
		}
	}

	err := c.store.WriteAtomic(master, func(w io.Writer) error {
		return playlist.WriteMaster(w, a.Profiles)
	})
	if err != nil {
		return fmt.Errorf("write master playlist: %w", err)
	}

	logger := log.WithStreaming("coordinator")
	logger.Info().
		Str(log.FieldMediaID, a.MediaID).
		Int("variants", len(a.Profiles)).
		Msg("playlists materialized")
	return nil
}

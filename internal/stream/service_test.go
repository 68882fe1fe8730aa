// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/ManuGH/vodhls/internal/domain/stream"
	"github.com/ManuGH/vodhls/internal/stream/analysis"
	"github.com/ManuGH/vodhls/internal/stream/cache"
	"github.com/ManuGH/vodhls/internal/stream/coordinator"
)

type stubRepo struct {
	items map[string]domain.MediaItem
}

func (r *stubRepo) FindByID(_ context.Context, id string) (domain.MediaItem, error) {
	item, ok := r.items[id]
	if !ok {
		return domain.MediaItem{}, domain.ErrMediaNotFound
	}
	return item, nil
}

type stubProbe struct {
	format    domain.FormatInfo
	keyframes []domain.Keyframe
}

func (p *stubProbe) ProbeFormat(context.Context, string) (domain.FormatInfo, error) {
	return p.format, nil
}

func (p *stubProbe) ProbeKeyframes(context.Context, string) ([]domain.Keyframe, error) {
	return p.keyframes, nil
}

type stubEncoder struct{}

func (stubEncoder) EncodeSegment(_ context.Context, req domain.EncodeRequest) error {
	return os.WriteFile(req.OutPathTmp, []byte("ts:"+req.Profile.Label), 0o644) // #nosec G306
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	src := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(src, []byte("source"), 0o644)) // #nosec G306

	repo := &stubRepo{items: map[string]domain.MediaItem{
		"m1": {ID: "m1", SourcePath: src, Title: "Movie"},
	}}
	probe := &stubProbe{
		format: domain.FormatInfo{
			Duration: 20, Width: 1280, Height: 720, FPS: 24,
			VideoCodec: "h264", AudioCodec: "aac",
		},
		keyframes: []domain.Keyframe{
			{Index: 0, PTS: 0}, {Index: 1, PTS: 6}, {Index: 2, PTS: 12}, {Index: 3, PTS: 18},
		},
	}

	store, err := cache.New(t.TempDir(), 3)
	require.NoError(t, err)
	builder := analysis.NewBuilder(repo, probe, analysis.NewStore(), nil, 6)
	coord := coordinator.New(store, stubEncoder{}, 2, 6)
	return NewService(builder, coord, store)
}

func readAll(t *testing.T, rc io.ReadCloser, err error) string {
	t.Helper()
	require.NoError(t, err)
	defer func() { require.NoError(t, rc.Close()) }()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestGetMasterPlaylist(t *testing.T) {
	svc := newTestService(t)

	rc, err := svc.GetMasterPlaylist(context.Background(), "m1")
	content := readAll(t, rc, err)
	assert.True(t, strings.HasPrefix(content, "#EXTM3U\n"))
	assert.Contains(t, content, "RESOLUTION=1280x720")
	assert.Contains(t, content, "720p/playlist.m3u8")
	assert.NotContains(t, content, "1080p", "720p source must not advertise 1080p")
}

func TestGetVariantPlaylist(t *testing.T) {
	svc := newTestService(t)

	rc, err := svc.GetVariantPlaylist(context.Background(), "m1", "480p")
	content := readAll(t, rc, err)
	assert.Contains(t, content, "#EXT-X-PLAYLIST-TYPE:VOD")
	assert.Contains(t, content, "segment_000.ts")
	assert.True(t, strings.HasSuffix(content, "#EXT-X-ENDLIST\n"))
}

func TestGetVariantPlaylistUnknownQuality(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetVariantPlaylist(context.Background(), "m1", "1080p")
	assert.ErrorIs(t, err, domain.ErrUnknownQuality)

	_, err = svc.GetVariantPlaylist(context.Background(), "m1", "weird")
	assert.ErrorIs(t, err, domain.ErrUnknownQuality)
}

func TestGetSegment(t *testing.T) {
	svc := newTestService(t)

	rc, err := svc.GetSegment(context.Background(), "m1", "720p", "segment_002.ts")
	content := readAll(t, rc, err)
	assert.Equal(t, "ts:720p", content)
}

func TestGetSegmentValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetSegment(ctx, "m1", "720p", "segment_9.ts")
	assert.ErrorIs(t, err, domain.ErrInvalidSegmentName)

	_, err = svc.GetSegment(ctx, "m1", "720p", "../../etc/passwd")
	assert.ErrorIs(t, err, domain.ErrInvalidSegmentName)

	_, err = svc.GetSegment(ctx, "m1", "720p", "segment_099.ts")
	assert.ErrorIs(t, err, domain.ErrInvalidSegmentName)

	_, err = svc.GetSegment(ctx, "m1", "4320p", "segment_000.ts")
	assert.ErrorIs(t, err, domain.ErrUnknownQuality)

	_, err = svc.GetSegment(ctx, "ghost", "720p", "segment_000.ts")
	assert.ErrorIs(t, err, domain.ErrMediaNotFound)
}

func TestQualities(t *testing.T) {
	svc := newTestService(t)

	labels, err := svc.Qualities(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"720p", "480p", "360p"}, labels)
}

func TestPurgeMedia(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	rc, err := svc.GetSegment(ctx, "m1", "720p", "segment_000.ts")
	_ = readAll(t, rc, err)
	require.NoError(t, svc.PurgeMedia("m1"))

	// Rebuilds cleanly after the purge.
	rc, err = svc.GetSegment(ctx, "m1", "720p", "segment_000.ts")
	content := readAll(t, rc, err)
	assert.Equal(t, "ts:720p", content)
}

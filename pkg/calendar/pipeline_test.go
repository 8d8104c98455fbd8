package calendar

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/hallboard/pkg/config"
)

// fakeFetcher serves canned payloads or failures per URL.
type fakeFetcher struct {
	bodies map[string][]byte
	errs   map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, src Source) ([]byte, error) {
	if err, ok := f.errs[src.URL]; ok {
		return nil, err
	}
	body, ok := f.bodies[src.URL]
	if !ok {
		return nil, fmt.Errorf("no payload for %s", src.URL)
	}
	return body, nil
}

func TestPipeline_Run(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	feedA := icsPayload(
		"UID:a1\r\nSUMMARY:Dentist\r\nDTSTART:20240605T100000Z\r\nDTEND:20240605T110000Z\r\n",
		"UID:a2\r\nSUMMARY:Dinner\r\nDTSTART:20240603T180000Z\r\nDTEND:20240603T200000Z\r\n")
	feedB := icsPayload(
		"UID:b1\r\nSUMMARY:Football\r\nDTSTART:20240604T150000Z\r\nDTEND:20240604T170000Z\r\n")

	sources := []Source{
		{Index: 0, URL: "https://a.example/cal.ics", Name: "a"},
		{Index: 1, URL: "https://b.example/cal.ics", Name: "b"},
	}

	t.Run("merges all sources sorted by start", func(t *testing.T) {
		p := NewPipeline(&fakeFetcher{bodies: map[string][]byte{
			sources[0].URL: feedA,
			sources[1].URL: feedB,
		}}, time.UTC)

		res := p.Run(context.Background(), sources, now, 30)
		require.False(t, res.Failed())
		assert.Empty(t, res.Warning)
		require.Len(t, res.Events, 3)

		assert.Equal(t, "Dinner", res.Events[0].Title)
		assert.Equal(t, "Football", res.Events[1].Title)
		assert.Equal(t, "Dentist", res.Events[2].Title)

		// provenance tagging
		assert.Equal(t, 0, res.Events[0].SourceIndex)
		assert.Equal(t, 1, res.Events[1].SourceIndex)
		assert.Equal(t, 0, res.Events[2].SourceIndex)

		for i := 1; i < len(res.Events); i++ {
			assert.False(t, res.Events[i].Start.Before(res.Events[i-1].Start), "sorted non-decreasing by start")
		}
	})

	t.Run("partial failure returns warning and surviving events", func(t *testing.T) {
		p := NewPipeline(&fakeFetcher{
			bodies: map[string][]byte{sources[1].URL: feedB},
			errs:   map[string]error{sources[0].URL: fmt.Errorf("connection refused")},
		}, time.UTC)

		res := p.Run(context.Background(), sources, now, 30)
		require.False(t, res.Failed(), "partial failure is a success outcome")
		assert.Contains(t, res.Warning, "1 of 2 feeds failed")
		assert.Contains(t, res.Warning, "connection refused")

		require.Len(t, res.Events, 1)
		assert.Equal(t, "Football", res.Events[0].Title)
		assert.Equal(t, 1, res.Events[0].SourceIndex)
	})

	t.Run("total failure returns error and empty events", func(t *testing.T) {
		p := NewPipeline(&fakeFetcher{errs: map[string]error{
			sources[0].URL: fmt.Errorf("timeout"),
			sources[1].URL: fmt.Errorf("status 500"),
		}}, time.UTC)

		res := p.Run(context.Background(), sources, now, 30)
		require.True(t, res.Failed())
		assert.Contains(t, res.Err, "all calendar feeds failed")
		assert.NotNil(t, res.Events)
		assert.Empty(t, res.Events)
		assert.Empty(t, res.Warning)
	})

	t.Run("unparsable payload equals fetch failure", func(t *testing.T) {
		p := NewPipeline(&fakeFetcher{bodies: map[string][]byte{
			sources[0].URL: []byte("garbage"),
			sources[1].URL: feedB,
		}}, time.UTC)

		res := p.Run(context.Background(), sources, now, 30)
		require.False(t, res.Failed())
		assert.Contains(t, res.Warning, "feed 0")
		require.Len(t, res.Events, 1)
	})

	t.Run("no sources is empty success", func(t *testing.T) {
		p := NewPipeline(&fakeFetcher{}, time.UTC)
		res := p.Run(context.Background(), nil, now, 30)
		assert.False(t, res.Failed())
		assert.NotNil(t, res.Events)
		assert.Empty(t, res.Events)
	})

	t.Run("idempotent for identical inputs", func(t *testing.T) {
		p := NewPipeline(&fakeFetcher{bodies: map[string][]byte{
			sources[0].URL: feedA,
			sources[1].URL: feedB,
		}}, time.UTC)

		first := p.Run(context.Background(), sources, now, 30)
		second := p.Run(context.Background(), sources, now, 30)
		assert.Equal(t, first, second)
	})

	t.Run("equal starts tie-break by source order", func(t *testing.T) {
		sameStartA := icsPayload("UID:a\r\nSUMMARY:From A\r\nDTSTART:20240605T100000Z\r\nDTEND:20240605T110000Z\r\n")
		sameStartB := icsPayload("UID:b\r\nSUMMARY:From B\r\nDTSTART:20240605T100000Z\r\nDTEND:20240605T110000Z\r\n")

		p := NewPipeline(&fakeFetcher{bodies: map[string][]byte{
			sources[0].URL: sameStartA,
			sources[1].URL: sameStartB,
		}}, time.UTC)

		res := p.Run(context.Background(), sources, now, 30)
		require.Len(t, res.Events, 2)
		assert.Equal(t, "From A", res.Events[0].Title)
		assert.Equal(t, "From B", res.Events[1].Title)
	})

	t.Run("horizon bounds respected", func(t *testing.T) {
		farFuture := icsPayload("UID:f\r\nSUMMARY:Too far\r\nDTSTART:20250101T100000Z\r\nDTEND:20250101T110000Z\r\n")
		p := NewPipeline(&fakeFetcher{bodies: map[string][]byte{sources[0].URL: farFuture}}, time.UTC)

		res := p.Run(context.Background(), sources[:1], now, 14)
		assert.Empty(t, res.Events)
		assert.False(t, res.Failed())
	})
}

func TestSourcesFromConfig(t *testing.T) {
	feeds := []config.Feed{
		{URL: "https://a.example/cal.ics", Name: "Family"},
		{URL: "https://b.example/cal.ics", Name: "Work"},
	}
	sources := SourcesFromConfig(feeds)
	require.Len(t, sources, 2)
	assert.Equal(t, Source{Index: 0, URL: "https://a.example/cal.ics", Name: "Family"}, sources[0])
	assert.Equal(t, Source{Index: 1, URL: "https://b.example/cal.ics", Name: "Work"}, sources[1])
}

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarker_ActorRoundTrip(t *testing.T) {
	m, err := NewMarker("abc123")
	require.NoError(t, err)
	assert.Equal(t, "__batch_abc123__", m.Actor())
	assert.True(t, IsMarkerActor(m.Actor()))

	parsed, err := ParseMarker("__batch_abc123__")
	require.NoError(t, err)
	assert.Equal(t, m, parsed)

	bare, err := ParseMarker("abc123")
	require.NoError(t, err)
	assert.Equal(t, m, bare)
}

func TestMarker_Rejects(t *testing.T) {
	_, err := NewMarker("")
	assert.ErrorIs(t, err, ErrInvalidMarker)

	_, err = ParseMarker("__batch_")
	assert.ErrorIs(t, err, ErrInvalidMarker)

	_, err = NewMarker("a_b")
	assert.ErrorIs(t, err, ErrInvalidMarker)

	assert.False(t, IsMarkerActor("USA"))
	assert.False(t, IsMarkerActor("__batch____"))
}

func TestIsMarkerActor(t *testing.T) {
	for _, tc := range []struct {
		actor string
		want  bool
	}{
		{"__batch_abc123__", true},
		{"__batch_0f-9e__", true},
		{"__batch_x", false},
		{"__batch___", false},
		{"__batch_a_b__", false},
		{"__batch_abc__x", false},
		{"x__batch_abc__", false},
		{"", false},
	} {
		assert.Equal(t, tc.want, IsMarkerActor(tc.actor), tc.actor)
	}
}

func TestMarkerActorPatternMatchesNewMarker(t *testing.T) {
	for _, id := range []string{"a", "abc123", "0f1e2d3c4b5a", "run-1"} {
		m, err := NewMarker(id)
		require.NoError(t, err)
		assert.Regexp(t, MarkerActorPattern, m.Actor())
		parsed, err := ParseMarker(m.Actor())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
}

func TestMarker_RecordIsZeroWeight(t *testing.T) {
	m, err := NewMarker("run1")
	require.NoError(t, err)

	rec := m.Record(20240601, "CHN", "043")
	require.NoError(t, rec.Validate())
	assert.Equal(t, int32(0), rec.CountMetric)
	assert.Equal(t, int32(0), rec.ArticleMetric)
	assert.Equal(t, 0.0, rec.SentimentScore)
	assert.Equal(t, "__batch_run1__", *rec.SourceActor)
	assert.Equal(t, PartitionDate(20240601), rec.EventDate)
}

func TestSourceRecord_Validate(t *testing.T) {
	rec := SourceRecord{EventDate: 20240601, QuadClass: MaterialConflict, SentimentScore: -10, CountMetric: 1}
	assert.NoError(t, rec.Validate())

	rec.SentimentScore = 10.5
	assert.ErrorIs(t, rec.Validate(), ErrSentimentOutOfRange)

	rec.SentimentScore = 0
	rec.QuadClass = 5
	assert.ErrorIs(t, rec.Validate(), ErrInvalidQuadClass)

	rec.QuadClass = VerbalConflict
	rec.EventDate = 20240631
	assert.ErrorIs(t, rec.Validate(), ErrInvalidPartitionDate)
}

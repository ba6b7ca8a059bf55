package discovery_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aretw0/conductor/pkg/discovery"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var agents = []domain.AgentInfo{
	{Name: "sheets", Description: "reads and writes spreadsheet rows"},
	{Name: "mail", Description: "drafts and sends email messages"},
	{Name: "docs", Description: "creates text documents"},
}

func names(as []domain.AgentInfo) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.Name
	}
	return out
}

func TestKeyword_RanksByOverlap(t *testing.T) {
	s := discovery.NewKeyword(discovery.Static(agents...))

	got, err := s.Search(context.Background(), "send an email with the report", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"mail", "sheets"}, names(got))

	got, err = s.Search(context.Background(), "send an email", 0)
	require.NoError(t, err)
	assert.Len(t, got, 3, "topK <= 0 returns every capability")
}

func TestKeyword_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := discovery.NewKeyword(discovery.Static(agents...)).Search(ctx, "mail", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

// axisEmbedder maps texts onto three axes by keyword.
type axisEmbedder struct {
	calls atomic.Int32
	fail  bool
}

func (e *axisEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.fail {
		return nil, errors.New("quota")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := []float32{0.01, 0.01, 0.01}
		switch {
		case strings.Contains(t, "spreadsheet"):
			v[0] = 1
		case strings.Contains(t, "email"):
			v[1] = 1
		case strings.Contains(t, "document"):
			v[2] = 1
		}
		out[i] = v
	}
	return out, nil
}

func TestEmbedding_RanksAndCaches(t *testing.T) {
	e := &axisEmbedder{}
	s := discovery.NewEmbedding(e, discovery.Static(agents...), discovery.WithBatchSize(2), discovery.WithParallelism(2))

	got, err := s.Search(context.Background(), "write an email to Ana", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"mail"}, names(got))
	// two capability batches plus the query
	assert.Equal(t, int32(3), e.calls.Load())

	got, err = s.Search(context.Background(), "update the spreadsheet", 3)
	require.NoError(t, err)
	assert.Equal(t, "sheets", got[0].Name)
	assert.Equal(t, int32(4), e.calls.Load(), "capability vectors are cached")
}

func TestEmbedding_PropagatesErrors(t *testing.T) {
	s := discovery.NewEmbedding(&axisEmbedder{fail: true}, discovery.Static(agents...))
	_, err := s.Search(context.Background(), "email", 1)
	assert.ErrorContains(t, err, "quota")
}

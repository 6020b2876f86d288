package protocol

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/hegelpm/internal/model"
)

func TestNormalizeSharesKeys(t *testing.T) {
	a, err := Normalize(AllProjects{})
	require.NoError(t, err)
	b, err := Normalize(AllProjects{SortBy: " Last-Activity "})
	require.NoError(t, err)
	assert.Equal(t, KeyFor(a), KeyFor(b))
	assert.Equal(t, CacheKey("all/last-activity/asc/nobench"), KeyFor(a))

	c, err := Normalize(&ShowProject{Name: "  alpha "})
	require.NoError(t, err)
	assert.Equal(t, ShowKey("alpha"), KeyFor(c))

	d, err := Normalize(AllProjects{SortBy: model.SortLoadTime, Benchmark: true, Descending: true})
	require.NoError(t, err)
	assert.Equal(t, CacheKey("all/load-time/desc/bench"), KeyFor(d))
}

func TestNormalizeRejects(t *testing.T) {
	tests := []Query{
		nil,
		ShowProject{Name: " "},
		AllProjects{SortBy: model.SortLoadTime},
		AllProjects{SortBy: "colour"},
	}
	for _, q := range tests {
		_, err := Normalize(q)
		require.Error(t, err, "query %#v", q)
		assert.Equal(t, KindInvalid, KindOf(err))
	}
}

func TestNewRequestBuffered(t *testing.T) {
	req, replies := NewRequest(ListProjects{}, true)
	assert.True(t, req.BypassCache)

	req.Reply <- Reply{Payload: []byte("{}")}
	got := <-replies
	assert.Equal(t, "{}", string(got.Payload))
}

func TestFromError(t *testing.T) {
	nf := NotFound("alpha")
	assert.Same(t, nf, FromError(fmt.Errorf("wrapped: %w", nf)))

	assert.Equal(t, KindTimeout, FromError(context.DeadlineExceeded).Kind)
	assert.Equal(t, KindInternal, FromError(errors.New("boom")).Kind)
	assert.Nil(t, FromError(nil))
}

func TestDataErrorUnwrap(t *testing.T) {
	err := IO("/tmp/x", os.ErrPermission)
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.Contains(t, err.Error(), "/tmp/x")

	assert.Equal(t, `project "beta" not found`, NotFound("beta").Error())
}

package embed_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"choiros.io/kernel/mem/embed"
)

func TestDeterministic_SameTextSameVector(t *testing.T) {
	t.Parallel()

	p := embed.NewDeterministic(16)
	ctx := context.Background()

	v1, err := p.Embed(ctx, "hello world")
	require.NoError(t, err)
	v2, err := p.Embed(ctx, "hello world")
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Len(t, v1, 16)

	v3, err := p.Embed(ctx, "goodbye world")
	require.NoError(t, err)
	require.NotEqual(t, v1, v3)
}

func TestDeterministic_RejectsEmptyText(t *testing.T) {
	t.Parallel()

	p := embed.NewDeterministic(8)
	_, err := p.Embed(context.Background(), "")
	require.ErrorIs(t, err, embed.ErrEmptyText)
}

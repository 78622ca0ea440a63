package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmbedEmptyInputSkipsProvider(t *testing.T) {
	// No server behind this key; an empty input must return before any
	// network call is attempted.
	e := NewOpenAI("test-key")

	assert.Empty(t, e.Embed(context.Background(), ""))
	assert.Empty(t, e.Embed(context.Background(), "   \n\t  "))
}

func TestNoneAlwaysEmpty(t *testing.T) {
	var e Embedder = None{}
	assert.Empty(t, e.Embed(context.Background(), "anything at all"))
}

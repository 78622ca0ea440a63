package search

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/nimbusmail/mailsync/internal/embeddings"
)

// BlobStore persists the serialized index alongside the account row, so
// the index lifecycle shares the account's own transaction boundary.
type BlobStore interface {
	GetSearchIndex(ctx context.Context, accountID string) ([]byte, error)
	SaveSearchIndex(ctx context.Context, accountID string, blob []byte) error
}

// Client is a per-account handle on the hybrid search index. Lifecycle
// is explicit: construct, Initialize, use, discard. It is never shared
// across requests as a long-lived singleton.
type Client struct {
	store     BlobStore
	embedder  embeddings.Embedder
	accountID string

	mu    sync.Mutex
	index *Index
}

// NewClient creates an uninitialized index client for one account.
func NewClient(store BlobStore, embedder embeddings.Embedder, accountID string) *Client {
	if embedder == nil {
		embedder = embeddings.None{}
	}
	return &Client{store: store, embedder: embedder, accountID: accountID}
}

// Initialize loads the account's stored index blob. When no blob exists
// yet an empty index is created and persisted immediately, so later
// loads never race on whether a blob exists.
func (c *Client) Initialize(ctx context.Context) error {
	blob, err := c.store.GetSearchIndex(ctx, c.accountID)
	if err != nil {
		return fmt.Errorf("loading index for account %s: %w", c.accountID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(blob) == 0 {
		c.index = NewIndex()
		return c.persistLocked(ctx)
	}

	c.index, err = Restore(blob)
	if err != nil {
		return fmt.Errorf("restoring index for account %s: %w", c.accountID, err)
	}
	return nil
}

// Insert adds one document and re-persists the whole index. When the
// document carries no embedding one is computed from its subject and
// body; an empty result still indexes the document for lexical search.
func (c *Client) Insert(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if len(doc.Embeddings) == 0 {
		doc.Embeddings = c.embedder.Embed(ctx, doc.Subject+" "+doc.Body)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.index.Insert(doc)
	return c.persistLocked(ctx)
}

// VectorSearch embeds the prompt and runs a hybrid query: lexical term
// match blended with cosine similarity at a 0.8 floor, ranked by the
// blended score descending.
func (c *Client) VectorSearch(ctx context.Context, prompt string, numResults int) []Hit {
	if numResults <= 0 {
		numResults = 10
	}
	vector := c.embedder.Embed(ctx, prompt)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Hybrid(prompt, vector, 0.8, numResults)
}

// Search runs a pure lexical query with fuzzy tolerance 1.
func (c *Client) Search(term string) []Hit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Search(term, 1)
}

// RemoveThread deletes every document belonging to a thread (exact
// match, zero tolerance) and re-persists.
func (c *Client) RemoveThread(ctx context.Context, threadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, hit := range c.index.Search(threadID, 0, "threadId") {
		c.index.Remove(hit.Document.ID)
	}
	return c.persistLocked(ctx)
}

func (c *Client) persistLocked(ctx context.Context) error {
	blob, err := c.index.Persist()
	if err != nil {
		return err
	}
	if err := c.store.SaveSearchIndex(ctx, c.accountID, blob); err != nil {
		// Index persistence is best-effort secondary state; surface the
		// failure without undoing relational writes that already landed.
		log.Printf("search: failed to persist index for account %s: %v", c.accountID, err)
		return err
	}
	return nil
}

package sync

import (
	"context"
	"fmt"
	"log"

	"github.com/nimbusmail/mailsync/internal/embeddings"
	"github.com/nimbusmail/mailsync/internal/provider"
	"github.com/nimbusmail/mailsync/internal/search"
	"github.com/nimbusmail/mailsync/internal/store"
)

// DeltaSource is the slice of the remote sync client the runner drives.
type DeltaSource interface {
	PollUntilReady(ctx context.Context, accessToken string) (*provider.SyncResponse, error)
	FetchAllDelta(ctx context.Context, accessToken, deltaToken string) ([]provider.EmailMessage, string, error)
}

// Runner orchestrates one account's sync: initial or delta fetch,
// reconciliation, indexing, then cursor persistence. The cursor is only
// advanced after the whole batch landed, so a failed attempt retries
// from the same point and idempotent upserts make the replay safe.
type Runner struct {
	Store      *store.Store
	Source     DeltaSource
	Reconciler *Reconciler
	Embedder   embeddings.Embedder
}

// SyncAccount performs one sync pass for the account and returns how
// many records the provider delivered.
func (r *Runner) SyncAccount(ctx context.Context, accountID string) (int, error) {
	account, err := r.Store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("loading account: %w", err)
	}

	var (
		records    []provider.EmailMessage
		deltaToken string
	)

	if account.NextDeltaToken == nil || *account.NextDeltaToken == "" {
		log.Printf("sync: initial sync for account %s", accountID)
		ready, err := r.Source.PollUntilReady(ctx, account.AccessToken)
		if err != nil {
			return 0, fmt.Errorf("waiting for sync readiness: %w", err)
		}
		records, deltaToken, err = r.Source.FetchAllDelta(ctx, account.AccessToken, ready.SyncUpdatedToken)
		if err != nil {
			return 0, fmt.Errorf("initial sync fetch: %w", err)
		}
	} else {
		log.Printf("sync: delta sync for account %s", accountID)
		records, deltaToken, err = r.Source.FetchAllDelta(ctx, account.AccessToken, *account.NextDeltaToken)
		if err != nil {
			return 0, fmt.Errorf("delta sync fetch: %w", err)
		}
	}

	if len(records) > 0 {
		idx := search.NewClient(r.Store, r.Embedder, accountID)
		if err := idx.Initialize(ctx); err != nil {
			// Index is best-effort secondary state; reconcile without it.
			log.Printf("sync: index unavailable for account %s: %v", accountID, err)
			idx = nil
		}

		var indexer Indexer
		if idx != nil {
			indexer = idx
		}
		if err := r.Reconciler.SyncToStore(ctx, accountID, records, indexer); err != nil {
			return 0, fmt.Errorf("reconciling batch: %w", err)
		}
	}

	if deltaToken != "" {
		if err := r.Store.UpdateDeltaToken(ctx, accountID, deltaToken); err != nil {
			return 0, fmt.Errorf("persisting delta token: %w", err)
		}
	}

	log.Printf("sync: account %s synced %d emails", accountID, len(records))
	return len(records), nil
}

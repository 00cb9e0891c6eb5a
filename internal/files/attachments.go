package files

import (
	"context"
	"fmt"
	"time"
)

// Attachments turns file ids into time-bounded URLs the provider can fetch.
type Attachments struct {
	store   *Store
	storage ObjectStorage
	ttl     time.Duration
}

func NewAttachments(store *Store, storage ObjectStorage, ttl time.Duration) *Attachments {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Attachments{store: store, storage: storage, ttl: ttl}
}

// URLs returns one signed URL per known file id, in order.
func (a *Attachments) URLs(ctx context.Context, fileIDs []string) ([]string, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	list, err := a.store.GetByIDs(ctx, fileIDs)
	if err != nil {
		return nil, err
	}
	if len(list) != len(fileIDs) {
		return nil, fmt.Errorf("files: %d of %d attachments not found", len(fileIDs)-len(list), len(fileIDs))
	}
	urls := make([]string, 0, len(list))
	for _, f := range list {
		u, err := a.storage.SignedURL(ctx, f.StoragePath, a.ttl)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, nil
}

// Associate links the files to the send log they went out with.
func (a *Attachments) Associate(ctx context.Context, fileIDs []string, sendLogID string) error {
	return a.store.AssociateSendLog(ctx, fileIDs, sendLogID)
}

// ForSendLog returns the ids of the files sent with a send log.
func (a *Attachments) ForSendLog(ctx context.Context, sendLogID string) ([]string, error) {
	list, err := a.store.ListBySendLog(ctx, sendLogID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list))
	for _, f := range list {
		ids = append(ids, f.ID)
	}
	return ids, nil
}

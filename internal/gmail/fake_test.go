package gmail

import (
	"context"
	"errors"
)

type fakeClient struct {
	pages     []ListPage
	failAt    int // 1-based page that fails, 0 = never
	calls     int
	tokens    []string
	queries   []string
	pageSizes []int
}

var errBoom = errors.New("boom")

func (f *fakeClient) List(ctx context.Context, q Query, pageToken string, pageSize int) (ListPage, error) {
	_ = ctx
	f.calls++
	f.tokens = append(f.tokens, pageToken)
	f.queries = append(f.queries, q.Raw)
	f.pageSizes = append(f.pageSizes, pageSize)
	if f.failAt == f.calls {
		return ListPage{}, errBoom
	}
	if len(f.pages) == 0 {
		return ListPage{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeClient) GetMessage(ctx context.Context, id MessageID) (MessageDetail, error) {
	_ = ctx
	return MessageDetail{ID: id}, nil
}

func (f *fakeClient) GetAttachment(ctx context.Context, id MessageID, attachmentID string) (AttachmentPayload, error) {
	_ = ctx
	_ = id
	_ = attachmentID
	return AttachmentPayload{}, nil
}

func refs(ids ...string) []MessageRef {
	out := make([]MessageRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, MessageRef{ID: MessageID(id)})
	}
	return out
}

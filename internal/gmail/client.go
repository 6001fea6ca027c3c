// Gmail API surface used by the collection pipeline
package gmail

import "context"

// Client is the narrow Gmail surface the pipeline needs.
type Client interface {
	List(ctx context.Context, q Query, pageToken string, pageSize int) (ListPage, error)
	GetMessage(ctx context.Context, id MessageID) (MessageDetail, error)
	GetAttachment(ctx context.Context, id MessageID, attachmentID string) (AttachmentPayload, error)
}

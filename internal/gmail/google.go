// Adapter from *gmail.Service to the pipeline's Client interface
package gmail

import (
	"context"
	"fmt"
	"net/http"

	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/FarhadManiCodes/inbox-attachments/internal/rate"
)

const me = "me"

type googleClient struct {
	svc     *gmailapi.Service
	limiter rate.Limiter
}

// NewService builds a Gmail service on top of an authorised HTTP client.
func NewService(ctx context.Context, hc *http.Client, opts ...option.ClientOption) (*gmailapi.Service, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(hc)}, opts...)
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, nil
}

// NewGoogleClient wraps svc; every call waits on limiter first.
func NewGoogleClient(svc *gmailapi.Service, limiter rate.Limiter) Client {
	if limiter == nil {
		limiter = rate.Unlimited{}
	}
	return &googleClient{svc: svc, limiter: limiter}
}

// Probe issues the cheapest authenticated call available: list a single message id.
func Probe(ctx context.Context, svc *gmailapi.Service) error {
	_, err := svc.Users.Messages.List(me).MaxResults(1).Fields("messages/id").Context(ctx).Do()
	return err
}

func (g *googleClient) List(ctx context.Context, q Query, pageToken string, pageSize int) (ListPage, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return ListPage{}, err
	}
	call := g.svc.Users.Messages.List(me).Q(q.Raw).MaxResults(int64(pageSize))
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return ListPage{}, err
	}
	page := ListPage{NextPageToken: res.NextPageToken}
	for _, m := range res.Messages {
		page.Refs = append(page.Refs, MessageRef{ID: MessageID(m.Id)})
	}
	return page, nil
}

func (g *googleClient) GetMessage(ctx context.Context, id MessageID) (MessageDetail, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return MessageDetail{}, err
	}
	msg, err := g.svc.Users.Messages.Get(me, string(id)).Format("full").Context(ctx).Do()
	if err != nil {
		return MessageDetail{}, err
	}
	return toDetail(msg), nil
}

func (g *googleClient) GetAttachment(ctx context.Context, id MessageID, attachmentID string) (AttachmentPayload, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return AttachmentPayload{}, err
	}
	body, err := g.svc.Users.Messages.Attachments.Get(me, string(id), attachmentID).Context(ctx).Do()
	if err != nil {
		return AttachmentPayload{}, err
	}
	return AttachmentPayload{Data: body.Data, Size: body.Size}, nil
}

func toDetail(msg *gmailapi.Message) MessageDetail {
	d := MessageDetail{
		ID:       MessageID(msg.Id),
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
	}
	if msg.Payload == nil {
		return d
	}
	for _, h := range msg.Payload.Headers {
		d.Headers = append(d.Headers, Header{Name: h.Name, Value: h.Value})
	}
	d.Parts = flattenParts(msg.Payload, nil)
	return d
}

// flattenParts walks the MIME tree depth-first and keeps leaves plus any named part.
// multipart/* containers are skipped but their children are kept, so nested attachments are still found.
func flattenParts(p *gmailapi.MessagePart, out []Part) []Part {
	if p == nil {
		return out
	}
	if len(p.Parts) == 0 || p.Filename != "" || (p.Body != nil && p.Body.AttachmentId != "") {
		part := Part{PartID: p.PartId, Filename: p.Filename, MimeType: p.MimeType}
		if p.Body != nil {
			part.AttachmentID = p.Body.AttachmentId
			part.Size = p.Body.Size
		}
		out = append(out, part)
	}
	for _, child := range p.Parts {
		out = flattenParts(child, out)
	}
	return out
}

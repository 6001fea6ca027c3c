package downloader

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/FarhadManiCodes/inbox-attachments/internal/auth"
	"github.com/FarhadManiCodes/inbox-attachments/internal/gmail"
	"github.com/FarhadManiCodes/inbox-attachments/internal/progress"
)

type fakeClient struct {
	pages       []gmail.ListPage
	listErr     error
	listErrAt   int
	listCalls   int
	messages    map[gmail.MessageID]gmail.MessageDetail
	getErr      map[gmail.MessageID]error
	payloads    map[string][]byte
	attachErr   map[string]error
	getCalls    map[gmail.MessageID]int
	attachCalls int
	onAttach    func()
}

func newFakeClient(details ...gmail.MessageDetail) *fakeClient {
	f := &fakeClient{
		messages:  map[gmail.MessageID]gmail.MessageDetail{},
		getErr:    map[gmail.MessageID]error{},
		payloads:  map[string][]byte{},
		attachErr: map[string]error{},
		getCalls:  map[gmail.MessageID]int{},
	}
	var refs []gmail.MessageRef
	for _, d := range details {
		f.messages[d.ID] = d
		refs = append(refs, gmail.MessageRef{ID: d.ID})
	}
	f.pages = []gmail.ListPage{{Refs: refs}}
	return f
}

func (f *fakeClient) withPayload(attachmentID, content string) *fakeClient {
	f.payloads[attachmentID] = []byte(content)
	return f
}

func (f *fakeClient) List(ctx context.Context, q gmail.Query, pageToken string, pageSize int) (gmail.ListPage, error) {
	_ = ctx
	_ = q
	_ = pageToken
	_ = pageSize
	f.listCalls++
	if f.listErr != nil && (f.listErrAt == 0 || f.listCalls == f.listErrAt) {
		return gmail.ListPage{}, f.listErr
	}
	if len(f.pages) == 0 {
		return gmail.ListPage{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeClient) GetMessage(ctx context.Context, id gmail.MessageID) (gmail.MessageDetail, error) {
	_ = ctx
	f.getCalls[id]++
	if err := f.getErr[id]; err != nil {
		return gmail.MessageDetail{}, err
	}
	d, ok := f.messages[id]
	if !ok {
		return gmail.MessageDetail{}, fmt.Errorf("message %s not found", id)
	}
	return d, nil
}

func (f *fakeClient) GetAttachment(ctx context.Context, id gmail.MessageID, attachmentID string) (gmail.AttachmentPayload, error) {
	_ = ctx
	_ = id
	f.attachCalls++
	if f.onAttach != nil {
		f.onAttach()
	}
	if err := f.attachErr[attachmentID]; err != nil {
		return gmail.AttachmentPayload{}, err
	}
	data, ok := f.payloads[attachmentID]
	if !ok {
		data = []byte("payload of " + attachmentID)
	}
	return gmail.AttachmentPayload{Data: base64.URLEncoding.EncodeToString(data), Size: int64(len(data))}, nil
}

type fakeAuthorizer struct {
	calls int
	err   error
}

func (a *fakeAuthorizer) EnsureAuthorized(ctx context.Context) (*auth.Session, error) {
	_ = ctx
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return &auth.Session{}, nil
}

func factoryFor(c gmail.Client) ClientFactory {
	return func(context.Context, *auth.Session) (gmail.Client, error) { return c, nil }
}

// recorder keeps every snapshot it is handed.
type recorder struct {
	total     int
	snapshots []progress.Counters
	done      bool
}

func (r *recorder) Start(total int)            { r.total = total }
func (r *recorder) Update(c progress.Counters) { r.snapshots = append(r.snapshots, c) }
func (r *recorder) Done(c progress.Counters) {
	r.snapshots = append(r.snapshots, c)
	r.done = true
}

var errUnavailable = errors.New("503 backend unavailable")

func message(id string, parts ...gmail.Part) gmail.MessageDetail {
	return gmail.MessageDetail{
		ID:      gmail.MessageID(id),
		Headers: []gmail.Header{{Name: "From", Value: "Reports <reports@example.com>"}, {Name: "Subject", Value: "export " + id}},
		Parts:   parts,
	}
}

func attachment(attachmentID, filename string) gmail.Part {
	return gmail.Part{Filename: filename, AttachmentID: attachmentID, MimeType: "application/octet-stream", Size: 12}
}

func body() gmail.Part {
	return gmail.Part{MimeType: "text/plain"}
}

// Drive peer: folder lookup, uploads and listings for finished downloads
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	driveapi "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/FarhadManiCodes/inbox-attachments/internal/rate"
)

// FolderMimeType marks a Drive file as a folder.
const FolderMimeType = "application/vnd.google-apps.folder"

const fileFields = "id,name,mimeType,webViewLink"

// ErrUploadFailed wraps every per-file failure of UploadDirectory.
var ErrUploadFailed = errors.New("upload failed")

// File is the part of a Drive file this tool reports back.
type File struct {
	ID          string
	Name        string
	MimeType    string
	WebViewLink string
}

func (f File) IsFolder() bool { return f.MimeType == FolderMimeType }

// Client talks to Drive on behalf of the authorised user.
type Client struct {
	svc     *driveapi.Service
	limiter rate.Limiter
	log     *zap.SugaredLogger
}

// NewService builds a Drive service on top of an authorised HTTP client.
func NewService(ctx context.Context, hc *http.Client, opts ...option.ClientOption) (*driveapi.Service, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(hc)}, opts...)
	svc, err := driveapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return svc, nil
}

func NewClient(svc *driveapi.Service, limiter rate.Limiter, log *zap.SugaredLogger) *Client {
	if limiter == nil {
		limiter = rate.Unlimited{}
	}
	return &Client{svc: svc, limiter: limiter, log: log}
}

// FindFolder returns the first non-trashed folder called name.
func (c *Client) FindFolder(ctx context.Context, name string) (File, bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return File{}, false, err
	}
	q := fmt.Sprintf("mimeType = '%s' and name = '%s' and trashed = false", FolderMimeType, escapeQuery(name))
	res, err := c.svc.Files.List().Q(q).PageSize(1).Fields("files(" + fileFields + ")").Context(ctx).Do()
	if err != nil {
		return File{}, false, fmt.Errorf("find folder %q: %w", name, err)
	}
	if len(res.Files) == 0 {
		return File{}, false, nil
	}
	return toFile(res.Files[0]), true, nil
}

// EnsureFolder finds the folder called name or creates it at the Drive root.
func (c *Client) EnsureFolder(ctx context.Context, name string) (File, error) {
	if f, ok, err := c.FindFolder(ctx, name); err != nil || ok {
		return f, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return File{}, err
	}
	created, err := c.svc.Files.Create(&driveapi.File{Name: name, MimeType: FolderMimeType}).
		Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return File{}, fmt.Errorf("create folder %q: %w", name, err)
	}
	c.log.Infow("📁 created drive folder", "name", name, "id", created.Id)
	return toFile(created), nil
}

// Upload stores the content of r as a new file called name inside parentID.
func (c *Client) Upload(ctx context.Context, name, parentID string, r io.Reader) (File, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return File{}, err
	}
	meta := &driveapi.File{Name: name}
	if parentID != "" {
		meta.Parents = []string{parentID}
	}
	created, err := c.svc.Files.Create(meta).Media(r).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return File{}, fmt.Errorf("upload %q: %w", name, err)
	}
	return toFile(created), nil
}

// List returns every non-trashed file directly inside parentID, following pagination.
func (c *Client) List(ctx context.Context, parentID string) ([]File, error) {
	q := fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(parentID))
	var (
		files     []File
		pageToken string
	)
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return files, err
		}
		call := c.svc.Files.List().Q(q).OrderBy("name").Fields("nextPageToken", "files("+fileFields+")")
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := call.Context(ctx).Do()
		if err != nil {
			return files, fmt.Errorf("list folder %s: %w", parentID, err)
		}
		for _, f := range res.Files {
			files = append(files, toFile(f))
		}
		if res.NextPageToken == "" {
			return files, nil
		}
		pageToken = res.NextPageToken
	}
}

// UploadDirectory uploads every regular file below dir into parentID. Files in subfolders are
// named after their relative path with separators replaced by underscores. A failed file is
// logged and skipped; the joined failures are returned alongside what succeeded.
func (c *Client) UploadDirectory(ctx context.Context, fs afero.Fs, dir, parentID string) ([]File, error) {
	var (
		uploaded []File
		failures []error
	)
	err := afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() || !info.Mode().IsRegular() || strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := strings.ReplaceAll(filepath.ToSlash(rel), "/", "_")

		f, err := c.uploadFile(ctx, fs, path, name, parentID)
		if err != nil {
			c.log.Warnw("❌ upload skipped", "file", path, "error", err)
			failures = append(failures, fmt.Errorf("%w: %s: %w", ErrUploadFailed, path, err))
			return nil
		}
		c.log.Debugw("☁️  uploaded", "file", path, "id", f.ID)
		uploaded = append(uploaded, f)
		return nil
	})
	if err != nil {
		return uploaded, err
	}
	return uploaded, errors.Join(failures...)
}

func (c *Client) uploadFile(ctx context.Context, fs afero.Fs, path, name, parentID string) (File, error) {
	fh, err := fs.Open(path)
	if err != nil {
		return File{}, err
	}
	defer fh.Close()
	return c.Upload(ctx, name, parentID, fh)
}

func toFile(f *driveapi.File) File {
	return File{ID: f.Id, Name: f.Name, MimeType: f.MimeType, WebViewLink: f.WebViewLink}
}

// escapeQuery quotes a value for use inside single quotes in a Drive search query.
func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

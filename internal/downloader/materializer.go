package downloader

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/FarhadManiCodes/inbox-attachments/internal/filter"
	"github.com/FarhadManiCodes/inbox-attachments/internal/gmail"
	"github.com/FarhadManiCodes/inbox-attachments/internal/progress"
	"github.com/FarhadManiCodes/inbox-attachments/internal/utils"
)

var (
	ErrAttachmentFetchFailed = errors.New("attachment fetch failed")
	ErrAttachmentWriteFailed = errors.New("attachment write failed")
)

// Outcome of materializing one message.
type Outcome struct {
	Downloaded int
	Failures   []error
}

// Materializer writes the qualifying attachments of a message to disk.
type Materializer struct {
	client gmail.Client
	fs     afero.Fs
	kinds  []filter.Kind
	report func(progress.Counters)
	log    *zap.SugaredLogger
}

// NewMaterializer builds a materializer. With no kinds every attachment qualifies.
func NewMaterializer(client gmail.Client, fs afero.Fs, kinds []filter.Kind, report func(progress.Counters), log *zap.SugaredLogger) *Materializer {
	if report == nil {
		report = func(progress.Counters) {}
	}
	return &Materializer{client: client, fs: fs, kinds: kinds, report: report, log: log}
}

// Materialize fetches and writes each qualifying attachment of d. Failures are logged per
// attachment and never stop the siblings. counters.DownloadedAttachments is bumped only after
// a file is fully in place.
func (m *Materializer) Materialize(ctx context.Context, d gmail.MessageDetail, policy Policy, counters *progress.Counters) Outcome {
	var out Outcome
	parts := filter.QualifyingParts(d, m.kinds...)
	if len(parts) == 0 {
		return out
	}

	created := map[string]bool{}
	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			out.Failures = append(out.Failures, err)
			break
		}
		target := policy.Resolve(d, part)
		path, err := m.downloadAttachment(ctx, d.ID, part, target, created)
		if err != nil {
			m.log.Warnw("❌ attachment skipped", "message", d.ID, "file", part.Filename, "error", err)
			out.Failures = append(out.Failures, err)
			continue
		}

		out.Downloaded++
		counters.DownloadedAttachments++
		m.report(*counters)
		m.log.Debugw("💾 saved", "message", d.ID, "path", path, "size", utils.FormatFileSize(part.Size))
	}

	if policy.OwnsDirectory() && out.Downloaded == 0 {
		for dir := range created {
			if err := m.fs.Remove(dir); err != nil {
				m.log.Warnw("could not remove empty message folder", "dir", dir, "error", err)
			}
		}
	}
	return out
}

func (m *Materializer) downloadAttachment(ctx context.Context, id gmail.MessageID, part gmail.Part, target Target, created map[string]bool) (string, error) {
	payload, err := m.client.GetAttachment(ctx, id, part.AttachmentID)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrAttachmentFetchFailed, part.Filename, err)
	}
	data, err := decodePayload(payload.Data)
	if err != nil {
		return "", fmt.Errorf("%w: %s: decode: %w", ErrAttachmentFetchFailed, part.Filename, err)
	}

	if err := m.ensureDir(target.Dir, created); err != nil {
		return "", fmt.Errorf("%w: %w", ErrAttachmentWriteFailed, err)
	}
	name := utils.CreateUniqueFilename(m.fs, target.Dir, target.Filename)
	path := Target{Dir: target.Dir, Filename: name}.Path()
	if err := writeFileAtomic(m.fs, target.Dir, path, data); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrAttachmentWriteFailed, path, err)
	}
	return path, nil
}

func (m *Materializer) ensureDir(dir string, created map[string]bool) error {
	if _, err := m.fs.Stat(dir); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := utils.EnsureDirectory(m.fs, dir); err != nil {
		return err
	}
	created[dir] = true
	return nil
}

// decodePayload accepts the base64url text Gmail returns, padded or not.
func decodePayload(data string) ([]byte, error) {
	trimmed := strings.TrimRight(data, "=")
	b, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err == nil {
		return b, nil
	}
	if b, stdErr := base64.RawStdEncoding.DecodeString(trimmed); stdErr == nil {
		return b, nil
	}
	return nil, err
}

// writeFileAtomic writes through a temp file in dir so a crash never leaves a partial attachment behind.
func writeFileAtomic(fs afero.Fs, dir, path string, data []byte) error {
	tmp, err := afero.TempFile(fs, dir, ".part-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpName)
		return err
	}
	if err := fs.Chmod(tmpName, 0o644); err != nil {
		_ = fs.Remove(tmpName)
		return err
	}
	if err := fs.Rename(tmpName, path); err != nil {
		_ = fs.Remove(tmpName)
		return err
	}
	return nil
}

// Download service: collect, pre-scan, then materialize with progress
package downloader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/FarhadManiCodes/inbox-attachments/internal/auth"
	"github.com/FarhadManiCodes/inbox-attachments/internal/filter"
	"github.com/FarhadManiCodes/inbox-attachments/internal/gmail"
	"github.com/FarhadManiCodes/inbox-attachments/internal/progress"
	"github.com/FarhadManiCodes/inbox-attachments/internal/utils"
)

// Authorizer yields a session the provider currently accepts.
type Authorizer interface {
	EnsureAuthorized(ctx context.Context) (*auth.Session, error)
}

// ClientFactory builds the Gmail client for an authorised session.
type ClientFactory func(ctx context.Context, s *auth.Session) (gmail.Client, error)

// Request describes one run.
type Request struct {
	Window  gmail.Window
	Kinds   []filter.Kind
	Senders []string
	BaseDir string
	Layout  Layout
	DryRun  bool
}

// PlannedFile is a dry-run entry.
type PlannedFile struct {
	MessageID gmail.MessageID
	Path      string
	Size      int64
}

// Summary is filled in as far as the run got, including on error.
type Summary struct {
	progress.Counters
	Directory         string
	Authorized        bool
	MessagesListed    int
	PartialListing    bool
	FailedMessages    int
	FailedAttachments int
	Planned           []PlannedFile
}

// Service orchestrates a download run.
type Service struct {
	auth      Authorizer
	newClient ClientFactory
	fs        afero.Fs
	pageSize  int
	reporter  progress.Reporter
	log       *zap.SugaredLogger
}

// NewService creates the orchestrator with dependencies injected
func NewService(authz Authorizer, newClient ClientFactory, fs afero.Fs, pageSize int, reporter progress.Reporter, log *zap.SugaredLogger) *Service {
	if reporter == nil {
		reporter = progress.Silent{}
	}
	return &Service{
		auth:      authz,
		newClient: newClient,
		fs:        fs,
		pageSize:  pageSize,
		reporter:  reporter,
		log:       log,
	}
}

// Run authorizes once, lists the window, pre-scans every message to fix the progress total,
// then downloads. Message details from the pre-scan are reused by the download pass.
func (s *Service) Run(ctx context.Context, req Request) (Summary, error) {
	var sum Summary
	if err := req.Window.Validate(); err != nil {
		return sum, err
	}
	sum.Directory = filepath.Join(req.BaseDir, req.Window.Label())
	policy := Policy{BaseDir: sum.Directory, Layout: req.Layout}

	session, err := s.auth.EnsureAuthorized(ctx)
	if err != nil {
		return sum, fmt.Errorf("authorize: %w", err)
	}
	sum.Authorized = true
	client, err := s.newClient(ctx, session)
	if err != nil {
		return sum, fmt.Errorf("gmail client: %w", err)
	}

	filters := gmail.SearchFilters{Extensions: extensions(req.Kinds), Senders: req.Senders}
	refs, err := gmail.NewCollector(client, s.pageSize, s.log).Collect(ctx, req.Window, filters)
	sum.MessagesListed = len(refs)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return sum, ctxErr
		}
		sum.PartialListing = true
		s.log.Warnw("⚠️  listing incomplete, continuing with what was collected", "messages", len(refs), "error", err)
	}
	s.log.Infow("🔍 messages listed", "window", req.Window.Label(), "count", len(refs))

	details, err := s.prescan(ctx, client, refs, req.Kinds, &sum)
	if err != nil {
		return sum, err
	}

	if req.DryRun {
		sum.Planned = plan(details, req.Kinds, policy)
		return sum, nil
	}

	if err := utils.EnsureDirectory(s.fs, sum.Directory); err != nil {
		return sum, fmt.Errorf("failed to create download directory: %w", err)
	}
	s.reporter.Start(sum.TotalExpectedAttachments)
	err = s.ProcessMessages(ctx, client, details, req.Kinds, policy, &sum)
	s.reporter.Done(sum.Counters)
	return sum, err
}

// prescan fetches every listed message once and sums its qualifying attachments.
func (s *Service) prescan(ctx context.Context, client gmail.Client, refs []gmail.MessageRef, kinds []filter.Kind, sum *Summary) ([]gmail.MessageDetail, error) {
	details := make([]gmail.MessageDetail, 0, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return details, err
		}
		d, err := client.GetMessage(ctx, ref.ID)
		if err != nil {
			sum.FailedMessages++
			s.log.Warnw("❌ message skipped", "message", ref.ID, "error", err)
			continue
		}
		sum.TotalExpectedAttachments += len(filter.QualifyingParts(d, kinds...))
		details = append(details, d)
	}
	return details, nil
}

// ProcessMessages downloads the qualifying attachments of every message
func (s *Service) ProcessMessages(ctx context.Context, client gmail.Client, details []gmail.MessageDetail, kinds []filter.Kind, policy Policy, sum *Summary) error {
	m := NewMaterializer(client, s.fs, kinds, s.reporter.Update, s.log)
	for _, d := range details {
		if err := ctx.Err(); err != nil {
			return err
		}
		sum.ProcessedMessages++
		if matches(d, kinds) {
			sum.MatchedMessages++
			s.processMessage(ctx, m, d, policy, sum)
		}
		s.reporter.Update(sum.Counters)
	}
	return nil
}

func (s *Service) processMessage(ctx context.Context, m *Materializer, d gmail.MessageDetail, policy Policy, sum *Summary) {
	s.log.Debugw("📧 processing", "message", d.ID, "from", utils.ExtractEmail(d.Header("From")), "subject", utils.TruncateString(d.Header("Subject"), 80, "..."))
	out := m.Materialize(ctx, d, policy, &sum.Counters)
	for _, err := range out.Failures {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		sum.FailedAttachments++
	}
}

func matches(d gmail.MessageDetail, kinds []filter.Kind) bool {
	if len(kinds) == 0 {
		return filter.HasAttachments(d)
	}
	return filter.HasAnyOf(d, kinds...)
}

func plan(details []gmail.MessageDetail, kinds []filter.Kind, policy Policy) []PlannedFile {
	var out []PlannedFile
	for _, d := range details {
		for _, p := range filter.QualifyingParts(d, kinds...) {
			out = append(out, PlannedFile{MessageID: d.ID, Path: policy.Resolve(d, p).Path(), Size: p.Size})
		}
	}
	return out
}

func extensions(kinds []filter.Kind) []string {
	var out []string
	for _, k := range kinds {
		out = append(out, k...)
	}
	return out
}

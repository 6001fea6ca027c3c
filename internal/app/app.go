// Application layer - builds components from configuration and exposes them as commands
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/FarhadManiCodes/inbox-attachments/internal/auth"
	"github.com/FarhadManiCodes/inbox-attachments/internal/config"
	"github.com/FarhadManiCodes/inbox-attachments/internal/downloader"
	"github.com/FarhadManiCodes/inbox-attachments/internal/drive"
	"github.com/FarhadManiCodes/inbox-attachments/internal/filter"
	"github.com/FarhadManiCodes/inbox-attachments/internal/gmail"
	"github.com/FarhadManiCodes/inbox-attachments/internal/logging"
	"github.com/FarhadManiCodes/inbox-attachments/internal/progress"
	"github.com/FarhadManiCodes/inbox-attachments/internal/rate"
	"github.com/FarhadManiCodes/inbox-attachments/internal/utils"
)

// App coordinates all components with clean dependency injection
type App struct {
	fs          afero.Fs
	config      *config.Manager
	openBrowser func(string) error
	gmailOpts   []option.ClientOption
	driveOpts   []option.ClientOption
	now         func() time.Time

	configPath string
	verbose    bool
}

// Option customises an App, mostly for tests.
type Option func(*App)

// WithFs routes every file access (config, credential, downloads) through fs.
func WithFs(fs afero.Fs) Option {
	return func(a *App) { a.fs = fs }
}

// WithAPIOptions are appended to every Gmail and Drive service the app builds.
func WithAPIOptions(gmailOpts, driveOpts []option.ClientOption) Option {
	return func(a *App) {
		a.gmailOpts = gmailOpts
		a.driveOpts = driveOpts
	}
}

func WithBrowser(open func(string) error) Option {
	return func(a *App) { a.openBrowser = open }
}

func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New creates application with all dependencies wired up
func New(opts ...Option) *App {
	a := &App{
		fs:          afero.NewOsFs(),
		openBrowser: browser.OpenURL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.config = config.NewManagerWithFs(a.fs)
	return a
}

// Command returns the root command with every subcommand attached.
func (a *App) Command() *cobra.Command {
	root := &cobra.Command{
		Use:   "inbox-attachments",
		Short: "Download Gmail attachments for a date window",
		Long: `Download attachments from Gmail for a month or date range:
  • One-time browser consent, credential kept for later runs
  • Filter by file extension and sender
  • Flat, per-message, per-sender or per-type folders
  • Optional upload of the results to Google Drive`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default: ./config.yaml or ./config/config.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Debug logging")

	root.AddCommand(a.DownloadCommand())
	root.AddCommand(a.AuthCommand())
	root.AddCommand(a.UploadCommand())
	root.AddCommand(a.ConfigCommand())
	return root
}

// runtime is what every authorised command needs.
type runtime struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	flow    *auth.Flow
	limiter *rate.TokenBucket
}

func (r *runtime) close() {
	r.limiter.Stop()
	_ = r.log.Sync()
}

// setup loads and validates configuration, then builds the authorization flow.
func (a *App) setup(cmd *cobra.Command) (*runtime, error) {
	cfg, err := a.config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := logging.New(a.verbose)
	if err != nil {
		return nil, err
	}

	store, err := a.openStore(cfg, log)
	if err != nil {
		return nil, err
	}
	flow, err := auth.NewFlow(auth.Options{
		OAuth:           cfg.OAuth2(),
		Store:           store,
		Probe:           a.probe,
		OpenBrowser:     a.openBrowser,
		CallbackTimeout: cfg.OAuth.CallbackTimeout,
		Out:             cmd.OutOrStdout(),
		Log:             log,
	})
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, log: log, flow: flow, limiter: rate.PerMinute(cfg.Gmail.RequestsPerMinute)}, nil
}

func (a *App) openStore(cfg *config.Config, log *zap.SugaredLogger) (auth.Store, error) {
	if cfg.Gmail.TokenStore == config.TokenStoreKeyring {
		dir := filepath.Dir(cfg.Gmail.TokenFile)
		if cfg.Gmail.TokenFile == "" {
			dir = "config"
		}
		store, err := auth.OpenKeyringStore(dir, log)
		if err != nil {
			return nil, fmt.Errorf("open keyring: %w", err)
		}
		return store, nil
	}
	return auth.NewFileStore(a.fs, cfg.Gmail.TokenFile, log), nil
}

func (a *App) probe(ctx context.Context, hc *http.Client) error {
	svc, err := gmail.NewService(ctx, hc, a.gmailOpts...)
	if err != nil {
		return err
	}
	return gmail.Probe(ctx, svc)
}

func (a *App) gmailClients(limiter rate.Limiter) downloader.ClientFactory {
	return func(ctx context.Context, s *auth.Session) (gmail.Client, error) {
		svc, err := gmail.NewService(ctx, s.Client, a.gmailOpts...)
		if err != nil {
			return nil, err
		}
		return gmail.NewGoogleClient(svc, limiter), nil
	}
}

// Command builders - clean separation of CLI and business logic
func (a *App) DownloadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download attachments matching filters",
		Args:  cobra.NoArgs,
		RunE:  a.runDownload,
	}

	// CLI flags override the config file
	cmd.Flags().String("month", "", "Calendar month to scan (YYYY-MM, default: current month)")
	cmd.Flags().String("from", "", "First day to scan (YYYY-MM-DD), with --to")
	cmd.Flags().String("to", "", "Last day to scan, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringSlice("ext", nil, "File extensions (.json,.csv); empty config and flag take every attachment")
	cmd.Flags().StringSlice("sender", nil, "Only messages from these addresses")
	cmd.Flags().String("output", "", "Base directory")
	cmd.Flags().String("organize-by", "", "flat|message|sender|type")
	cmd.Flags().Bool("dry-run", false, "List what would be downloaded without writing")

	return cmd
}

func (a *App) AuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize access and store the credential",
		Args:  cobra.NoArgs,
		RunE:  a.runAuth,
	}
	cmd.Flags().Bool("reset", false, "Forget the stored credential and ask for consent again")
	return cmd
}

func (a *App) UploadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload [dir]",
		Short: "Upload a download directory to Google Drive",
		Args:  cobra.MaximumNArgs(1),
		RunE:  a.runUpload,
	}
	cmd.Flags().String("folder", "", "Drive folder name (default from config)")
	cmd.Flags().Bool("list", false, "List the Drive folder instead of uploading")
	return cmd
}

func (a *App) ConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  a.runConfigShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  a.runConfigInit,
	})
	return cmd
}

// Business logic handlers
func (a *App) runDownload(cmd *cobra.Command, args []string) error {
	rt, err := a.setup(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	req, err := a.downloadRequest(cmd, rt.cfg)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "🔍 Searching Gmail for attachments (%s)...\n", req.Window.Label())

	var reporter progress.Reporter = progress.Silent{}
	if !req.DryRun {
		reporter = progress.NewBar(cmd.ErrOrStderr())
	}
	svc := downloader.NewService(rt.flow, a.gmailClients(rt.limiter), a.fs, rt.cfg.Gmail.PageSize, reporter, rt.log)

	sum, err := svc.Run(cmd.Context(), req)
	if err != nil {
		if sum.Authorized {
			printSummary(out, sum, err)
		}
		return err
	}
	if req.DryRun {
		printPlan(out, sum)
		return nil
	}
	printSummary(out, sum, nil)
	return nil
}

func (a *App) downloadRequest(cmd *cobra.Command, cfg *config.Config) (downloader.Request, error) {
	flags := cmd.Flags()
	month, _ := flags.GetString("month")
	from, _ := flags.GetString("from")
	to, _ := flags.GetString("to")
	window, err := resolveWindow(month, from, to, a.now())
	if err != nil {
		return downloader.Request{}, err
	}

	exts := cfg.Filters.Extensions
	if flags.Changed("ext") {
		exts, _ = flags.GetStringSlice("ext")
	}
	senders := cfg.Filters.Senders
	if flags.Changed("sender") {
		senders, _ = flags.GetStringSlice("sender")
		for _, s := range senders {
			if !utils.IsValidEmail(s) {
				return downloader.Request{}, fmt.Errorf("--sender: %q is not an email address", s)
			}
		}
	}
	baseDir := cfg.Download.BaseDir
	if v, _ := flags.GetString("output"); v != "" {
		baseDir = v
	}
	organizeBy := cfg.Download.OrganizeBy
	if v, _ := flags.GetString("organize-by"); v != "" {
		organizeBy = v
	}
	layout, err := downloader.ParseLayout(organizeBy)
	if err != nil {
		return downloader.Request{}, err
	}
	dryRun, _ := flags.GetBool("dry-run")

	var kinds []filter.Kind
	if k := filter.NewKind(exts...); len(k) > 0 {
		kinds = []filter.Kind{k}
	}
	return downloader.Request{
		Window:  window,
		Kinds:   kinds,
		Senders: senders,
		BaseDir: baseDir,
		Layout:  layout,
		DryRun:  dryRun,
	}, nil
}

// resolveWindow prefers --month, then --from/--to, then the month containing now.
func resolveWindow(month, from, to string, now time.Time) (gmail.Window, error) {
	switch {
	case month != "" && (from != "" || to != ""):
		return gmail.Window{}, errors.New("--month cannot be combined with --from/--to")
	case month != "":
		return gmail.ParseMonth(month, now.Location())
	case from != "" || to != "":
		if from == "" || to == "" {
			return gmail.Window{}, errors.New("--from and --to must be given together")
		}
		return gmail.ParseRange(from, to, now.Location())
	default:
		return gmail.MonthWindow(now.Year(), now.Month(), now.Location()), nil
	}
}

func (a *App) runAuth(cmd *cobra.Command, args []string) error {
	rt, err := a.setup(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	if reset, _ := cmd.Flags().GetBool("reset"); reset {
		if err := rt.flow.Reset(); err != nil {
			return fmt.Errorf("clear stored credential: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "🗑️  Stored credential removed")
	}

	session, err := rt.flow.EnsureAuthorized(cmd.Context())
	if err != nil {
		return err
	}
	tok, err := session.Token()
	if err != nil {
		return err
	}
	if tok.Expiry.IsZero() {
		fmt.Fprintln(cmd.OutOrStdout(), "✅ Authorized")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Authorized (access token valid until %s)\n", tok.Expiry.Local().Format(time.DateTime))
	return nil
}

func (a *App) runUpload(cmd *cobra.Command, args []string) error {
	rt, err := a.setup(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	folderName := rt.cfg.Drive.FolderName
	if v, _ := cmd.Flags().GetString("folder"); v != "" {
		folderName = v
	}
	list, _ := cmd.Flags().GetBool("list")
	if !list && len(args) == 0 {
		return errors.New("upload needs a directory, e.g. downloads/2025-04")
	}

	ctx := cmd.Context()
	session, err := rt.flow.EnsureAuthorized(ctx)
	if err != nil {
		return err
	}
	svc, err := drive.NewService(ctx, session.Client, a.driveOpts...)
	if err != nil {
		return err
	}
	client := drive.NewClient(svc, rt.limiter, rt.log)
	folder, err := client.EnsureFolder(ctx, folderName)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if list {
		files, err := client.List(ctx, folder.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "📁 %s (%d files)\n", folderName, len(files))
		for _, f := range files {
			fmt.Fprintf(out, "  %s  %s\n", f.Name, f.WebViewLink)
		}
		return nil
	}

	files, err := client.UploadDirectory(ctx, a.fs, args[0], folder.ID)
	for _, f := range files {
		fmt.Fprintf(out, "☁️  %s → %s\n", f.Name, f.WebViewLink)
	}
	fmt.Fprintf(out, "✅ Uploaded %d files to %q\n", len(files), folderName)
	return err
}

func (a *App) runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := a.config.Load(a.configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if used := a.config.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "# %s\n", used)
	} else {
		fmt.Fprintln(out, "# defaults (no config file found)")
	}
	data, err := cfg.YAML()
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

func (a *App) runConfigInit(cmd *cobra.Command, args []string) error {
	path := "config.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	if err := a.config.WriteDefault(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "📝 Wrote %s\n", path)
	return nil
}

// printSummary reports the counts reached so far; runErr switches the header for a stopped run.
func printSummary(out io.Writer, sum downloader.Summary, runErr error) {
	if runErr != nil {
		fmt.Fprintf(out, "⚠️  Download stopped: %v\n", runErr)
	} else {
		fmt.Fprintln(out, "✅ Download complete")
	}
	fmt.Fprintf(out, "📁 Directory: %s\n", sum.Directory)
	fmt.Fprintf(out, "📧 Messages: %d listed, %d processed, %d with matching attachments\n",
		sum.MessagesListed, sum.ProcessedMessages, sum.MatchedMessages)
	fmt.Fprintf(out, "📎 Attachments: %d/%d downloaded\n", sum.DownloadedAttachments, sum.TotalExpectedAttachments)
	if sum.PartialListing {
		fmt.Fprintln(out, "⚠️  Listing stopped early; some messages in the window were not seen")
	}
	if sum.FailedMessages > 0 {
		fmt.Fprintf(out, "⚠️  %d messages could not be read\n", sum.FailedMessages)
	}
	if sum.FailedAttachments > 0 {
		fmt.Fprintf(out, "⚠️  %d attachments failed\n", sum.FailedAttachments)
	}
}

func printPlan(out io.Writer, sum downloader.Summary) {
	var total int64
	for _, p := range sum.Planned {
		fmt.Fprintf(out, "  %s (%s)\n", p.Path, utils.FormatFileSize(p.Size))
		total += p.Size
	}
	fmt.Fprintf(out, "📝 Dry run: %d attachments from %d messages, %s\n",
		len(sum.Planned), sum.MessagesListed, utils.FormatFileSize(total))
}

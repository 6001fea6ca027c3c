// Configuration management with layered loading and validation
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	driveapi "google.golang.org/api/drive/v3"
	gmailapi "google.golang.org/api/gmail/v1"
	"gopkg.in/yaml.v3"

	"github.com/FarhadManiCodes/inbox-attachments/internal/utils"
)

// Scopes requested at consent: read mail, and write only the Drive files we create.
var Scopes = []string{gmailapi.GmailReadonlyScope, driveapi.DriveFileScope}

const (
	TokenStoreFile    = "file"
	TokenStoreKeyring = "keyring"
)

// Config represents complete application configuration
type Config struct {
	OAuth    OAuthConfig    `mapstructure:"oauth" yaml:"oauth"`
	Gmail    GmailConfig    `mapstructure:"gmail" yaml:"gmail"`
	Filters  FilterConfig   `mapstructure:"filters" yaml:"filters"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Drive    DriveConfig    `mapstructure:"drive" yaml:"drive"`
}

// OAuthConfig holds the client registration. Client id, secret and redirect URI are required,
// either directly or through a downloaded credentials.json.
type OAuthConfig struct {
	ClientID        string        `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret    string        `mapstructure:"client_secret" yaml:"client_secret"`
	RedirectURI     string        `mapstructure:"redirect_uri" yaml:"redirect_uri"`
	CredentialsFile string        `mapstructure:"credentials_file" yaml:"credentials_file"`
	CallbackTimeout time.Duration `mapstructure:"callback_timeout" yaml:"callback_timeout"`
}

type GmailConfig struct {
	TokenFile         string `mapstructure:"token_file" yaml:"token_file"`
	TokenStore        string `mapstructure:"token_store" yaml:"token_store"` // file|keyring
	RequestsPerMinute int    `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	PageSize          int    `mapstructure:"page_size" yaml:"page_size"`
}

type FilterConfig struct {
	Extensions []string `mapstructure:"extensions" yaml:"extensions"`
	Senders    []string `mapstructure:"senders" yaml:"senders"`
}

type DownloadConfig struct {
	BaseDir    string `mapstructure:"base_dir" yaml:"base_dir"`
	OrganizeBy string `mapstructure:"organize_by" yaml:"organize_by"` // flat|message|sender|type
}

type DriveConfig struct {
	FolderName string `mapstructure:"folder_name" yaml:"folder_name"`
}

// MissingConfigurationError lists every required key that has no value.
type MissingConfigurationError struct {
	Keys []string
}

func (e *MissingConfigurationError) Error() string {
	return "missing configuration: " + strings.Join(e.Keys, ", ")
}

// Default returns production-ready defaults
func Default() *Config {
	return &Config{
		OAuth: OAuthConfig{
			CredentialsFile: "config/credentials.json",
			CallbackTimeout: 5 * time.Minute,
		},
		Gmail: GmailConfig{
			TokenFile:         "config/token.json",
			TokenStore:        TokenStoreFile,
			RequestsPerMinute: 250, // Under Gmail API limits
			PageSize:          100,
		},
		Filters: FilterConfig{
			Extensions: []string{".json"},
		},
		Download: DownloadConfig{
			BaseDir:    "./downloads",
			OrganizeBy: "flat",
		},
		Drive: DriveConfig{
			FolderName: "Inbox Attachments",
		},
	}
}

// envAliases are honoured in addition to the INBOX_ prefixed form of every key.
var envAliases = map[string]string{
	"oauth.client_id":     "GOOGLE_CLIENT_ID",
	"oauth.client_secret": "GOOGLE_CLIENT_SECRET",
	"oauth.redirect_uri":  "GOOGLE_REDIRECT_URI",
}

// Manager handles config loading with environment overrides
type Manager struct {
	fs         afero.Fs
	envFile    string
	used       string
	installDir func() (string, error)
}

func NewManager() *Manager {
	return NewManagerWithFs(afero.NewOsFs())
}

// NewManagerWithFs reads config, .env and credentials files through fs.
func NewManagerWithFs(fs afero.Fs) *Manager {
	return &Manager{fs: fs, envFile: ".env", installDir: executableDir}
}

func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// ConfigFileUsed is the YAML file the last Load read, empty when defaults were used.
func (m *Manager) ConfigFileUsed() string { return m.used }

// Load configuration with fallback chain: defaults -> YAML file -> .env -> environment.
// An explicit path must exist; otherwise config.yaml is searched in . and config/.
func (m *Manager) Load(path string) (*Config, error) {
	if err := m.loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetFs(m.fs)
	setDefaults(v, Default())

	v.SetEnvPrefix("INBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		if err := v.BindEnv(key, "INBOX_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), alias); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
	}
	m.used = ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", v.ConfigFileUsed(), err)
		}
	} else {
		m.used = v.ConfigFileUsed()
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := m.applyCredentialsFile(cfg); err != nil {
		return nil, err
	}
	m.anchorTokenFile(cfg)
	return cfg, nil
}

// anchorTokenFile makes a relative token_file relative to the installed binary, so the stored
// credential is found whatever directory the command runs from. It stays relative to the working
// directory when the executable cannot be located.
func (m *Manager) anchorTokenFile(cfg *Config) {
	if cfg.Gmail.TokenFile == "" || filepath.IsAbs(cfg.Gmail.TokenFile) {
		return
	}
	dir, err := m.installDir()
	if err != nil {
		return
	}
	cfg.Gmail.TokenFile = filepath.Join(dir, cfg.Gmail.TokenFile)
}

// loadDotEnv copies .env entries into the environment without overriding values already set.
func (m *Manager) loadDotEnv() error {
	data, err := afero.ReadFile(m.fs, m.envFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", m.envFile, err)
	}
	entries, err := godotenv.Unmarshal(string(data))
	if err != nil {
		return fmt.Errorf("parsing %s: %w", m.envFile, err)
	}
	for k, val := range entries {
		if os.Getenv(k) == "" {
			if err := os.Setenv(k, val); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyCredentialsFile fills client settings left empty from a Google credentials.json, when present.
func (m *Manager) applyCredentialsFile(cfg *Config) error {
	if cfg.OAuth.CredentialsFile == "" {
		return nil
	}
	data, err := afero.ReadFile(m.fs, cfg.OAuth.CredentialsFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading credentials file: %w", err)
	}
	oc, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return fmt.Errorf("parsing credentials file %s: %w", cfg.OAuth.CredentialsFile, err)
	}
	if cfg.OAuth.ClientID == "" {
		cfg.OAuth.ClientID = oc.ClientID
	}
	if cfg.OAuth.ClientSecret == "" {
		cfg.OAuth.ClientSecret = oc.ClientSecret
	}
	if cfg.OAuth.RedirectURI == "" {
		cfg.OAuth.RedirectURI = oc.RedirectURL
	}
	return nil
}

// Validate reports every missing required key at once, then the first malformed value.
func (c *Config) Validate() error {
	var missing []string
	if c.OAuth.ClientID == "" {
		missing = append(missing, "oauth.client_id")
	}
	if c.OAuth.ClientSecret == "" {
		missing = append(missing, "oauth.client_secret")
	}
	if c.OAuth.RedirectURI == "" {
		missing = append(missing, "oauth.redirect_uri")
	}
	if len(missing) > 0 {
		return &MissingConfigurationError{Keys: missing}
	}

	if c.OAuth.CallbackTimeout < 0 {
		return fmt.Errorf("oauth.callback_timeout must not be negative")
	}
	if !slices.Contains([]string{TokenStoreFile, TokenStoreKeyring}, c.Gmail.TokenStore) {
		return fmt.Errorf("gmail.token_store must be %q or %q, got %q", TokenStoreFile, TokenStoreKeyring, c.Gmail.TokenStore)
	}
	if c.Gmail.TokenStore == TokenStoreFile && c.Gmail.TokenFile == "" {
		return fmt.Errorf("gmail.token_file is required when gmail.token_store is %q", TokenStoreFile)
	}
	if c.Gmail.RequestsPerMinute <= 0 {
		return fmt.Errorf("gmail.requests_per_minute must be positive")
	}
	for _, s := range c.Filters.Senders {
		if !utils.IsValidEmail(s) {
			return fmt.Errorf("filters.senders: %q is not an email address", s)
		}
	}
	if c.Download.BaseDir == "" {
		return fmt.Errorf("download.base_dir is required")
	}
	return nil
}

// OAuth2 builds the client configuration used by the authorization flow.
func (c *Config) OAuth2() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.OAuth.ClientID,
		ClientSecret: c.OAuth.ClientSecret,
		RedirectURL:  c.OAuth.RedirectURI,
		Scopes:       Scopes,
		Endpoint:     google.Endpoint,
	}
}

// YAML renders the effective configuration with the client secret masked.
func (c *Config) YAML() ([]byte, error) {
	shown := *c
	if shown.OAuth.ClientSecret != "" {
		shown.OAuth.ClientSecret = "********"
	}
	return yaml.Marshal(&shown)
}

// WriteDefault writes the default configuration to path, refusing to overwrite.
func (m *Manager) WriteDefault(path string) error {
	if exists, err := afero.Exists(m.fs, path); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%s already exists", path)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	if err := utils.EnsureDirectory(m.fs, filepath.Dir(path)); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return afero.WriteFile(m.fs, path, data, 0o600)
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("oauth.client_id", d.OAuth.ClientID)
	v.SetDefault("oauth.client_secret", d.OAuth.ClientSecret)
	v.SetDefault("oauth.redirect_uri", d.OAuth.RedirectURI)
	v.SetDefault("oauth.credentials_file", d.OAuth.CredentialsFile)
	v.SetDefault("oauth.callback_timeout", d.OAuth.CallbackTimeout)
	v.SetDefault("gmail.token_file", d.Gmail.TokenFile)
	v.SetDefault("gmail.token_store", d.Gmail.TokenStore)
	v.SetDefault("gmail.requests_per_minute", d.Gmail.RequestsPerMinute)
	v.SetDefault("gmail.page_size", d.Gmail.PageSize)
	v.SetDefault("filters.extensions", d.Filters.Extensions)
	v.SetDefault("filters.senders", d.Filters.Senders)
	v.SetDefault("download.base_dir", d.Download.BaseDir)
	v.SetDefault("download.organize_by", d.Download.OrganizeBy)
	v.SetDefault("drive.folder_name", d.Drive.FolderName)
}

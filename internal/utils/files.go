// File utilities with cross-platform safety and edge case handling
package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/spf13/afero"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxFilenameLength keeps generated names well under common filesystem limits
const MaxFilenameLength = 200

const unnamedFile = "unnamed_file"

var (
	dangerousChars = regexp.MustCompile(`[<>:"|?*\\/]`)
	underscoreRuns = regexp.MustCompile(`_{2,}`)
	reservedNames  = map[string]bool{
		"CON": true, "PRN": true, "AUX": true, "NUL": true,
		"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
		"COM6": true, "COM7": true, "COM8": true, "COM9": true,
		"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
		"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
	}
)

// SanitizeFilename creates safe filename for all platforms
func SanitizeFilename(filename string) string {
	if filename == "" {
		return unnamedFile
	}

	// Strip accents so résumé.pdf becomes resume.pdf
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, filename); err == nil {
		filename = folded
	}

	safe := dangerousChars.ReplaceAllString(filename, "_")
	safe = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return '_'
		}
		return r
	}, safe)
	safe = underscoreRuns.ReplaceAllString(safe, "_")

	safe = strings.Trim(safe, " .")
	if safe == "" {
		return unnamedFile
	}

	ext := filepath.Ext(safe)
	base := strings.TrimSuffix(safe, ext)
	if reservedNames[strings.ToUpper(base)] {
		safe = "_" + safe
		base = "_" + base
	}

	if len(safe) > MaxFilenameLength {
		keep := MaxFilenameLength - len(ext)
		if keep < 1 {
			return cutAtRune(safe, MaxFilenameLength)
		}
		safe = cutAtRune(base, keep) + ext
	}

	return safe
}

// EnsureDirectory creates directory path with proper permissions
func EnsureDirectory(fs afero.Fs, path string) error {
	if path == "" {
		return errors.New("empty path")
	}

	return fs.MkdirAll(filepath.Clean(path), 0o755)
}

// CreateUniqueFilename returns filename, or filename with a _N suffix when it is already taken in dir
func CreateUniqueFilename(fs afero.Fs, dir, filename string) string {
	if dir == "" || filename == "" {
		return ""
	}

	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	candidate := filename
	for i := 1; ; i++ {
		if _, err := fs.Stat(filepath.Join(dir, candidate)); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d%s", base, i, ext)
	}
}

// FormatFileSize returns human-readable size with appropriate units
func FormatFileSize(bytes int64) string {
	const unit = 1024
	if bytes < 0 {
		return "Invalid size"
	}
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(bytes)
	i := 0

	for size >= unit && i < len(units)-1 {
		size /= unit
		i++
	}

	switch {
	case size >= 100:
		return fmt.Sprintf("%.0f %s", size, units[i])
	case size >= 10:
		return fmt.Sprintf("%.1f %s", size, units[i])
	default:
		return fmt.Sprintf("%.2f %s", size, units[i])
	}
}

// TruncateString shortens text to maxLength, preferring to cut at a word boundary
func TruncateString(text string, maxLength int, suffix string) string {
	if maxLength <= 0 || text == "" {
		return ""
	}
	if len(text) <= maxLength {
		return text
	}
	if len(suffix) >= maxLength {
		return cutAtRune(suffix, maxLength)
	}

	cut := cutAtRune(text, maxLength-len(suffix))
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + suffix
}

// cutAtRune returns at most n bytes of s without splitting a UTF-8 sequence.
func cutAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Package assets downloads and caches the font and background template the
// image compositor draws with. Files are fetched once and reused; a missing or
// corrupt cache entry triggers a re-download on the next Ensure.
package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// maxFileSize caps asset downloads at 10 MiB.
const maxFileSize = 10 << 20

// ErrNotReady signals that required assets could not be fetched or validated.
var ErrNotReady = errors.New("assets: resources not ready")

// Store manages the on-disk asset cache for one guild's font + template pair.
type Store struct {
	Dir         string
	FontURL     string
	TemplateURL string
	HTTPClient  *http.Client
}

func (s *Store) http() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}

// FontPath is the cached font location.
func (s *Store) FontPath() string { return filepath.Join(s.Dir, "font.ttf") }

// TemplatePath is the cached template location.
func (s *Store) TemplatePath() string { return filepath.Join(s.Dir, "template.png") }

// Ensure makes both assets available locally, downloading whichever is absent
// or fails validation. Returns ErrNotReady (wrapped) when either cannot be
// obtained.
func (s *Store) Ensure(ctx context.Context) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	if !validFile(s.FontPath(), looksLikeFont) {
		if err := s.download(ctx, s.FontURL, s.FontPath(), looksLikeFont); err != nil {
			return fmt.Errorf("%w: font: %v", ErrNotReady, err)
		}
	}
	if !validFile(s.TemplatePath(), looksLikePNG) {
		if err := s.download(ctx, s.TemplateURL, s.TemplatePath(), looksLikePNG); err != nil {
			return fmt.Errorf("%w: template: %v", ErrNotReady, err)
		}
	}
	return nil
}

// Font returns the cached font bytes.
func (s *Store) Font() ([]byte, error) {
	b, err := os.ReadFile(s.FontPath())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return b, nil
}

// Template returns the cached template PNG bytes.
func (s *Store) Template() ([]byte, error) {
	b, err := os.ReadFile(s.TemplatePath())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return b, nil
}

// Invalidate removes cached files so the next Ensure re-downloads, used when a
// guild changes its custom asset URLs.
func (s *Store) Invalidate() {
	for _, p := range []string{s.FontPath(), s.TemplatePath()} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove cached asset", slog.String("path", p), slog.Any("err", err))
		}
	}
}

func (s *Store) download(ctx context.Context, url, dest string, valid func([]byte) bool) error {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("invalid asset url %q", url)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("asset download failed: %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFileSize+1))
	if err != nil {
		return err
	}
	if len(data) > maxFileSize {
		return fmt.Errorf("asset exceeds %d byte limit", maxFileSize)
	}
	if !valid(data) {
		return fmt.Errorf("asset from %s failed validation", url)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		// Drop any partial write so the next Ensure retries cleanly.
		_ = os.Remove(dest)
		return err
	}
	return nil
}

func validFile(path string, valid func([]byte) bool) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return valid(b)
}

var fontMagics = [][]byte{
	{0x00, 0x01, 0x00, 0x00}, // TrueType
	[]byte("OTTO"),           // OpenType/CFF
	[]byte("true"),
	[]byte("typ1"),
}

func looksLikeFont(b []byte) bool {
	for _, m := range fontMagics {
		if bytes.HasPrefix(b, m) {
			return true
		}
	}
	return false
}

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func looksLikePNG(b []byte) bool { return bytes.HasPrefix(b, pngMagic) }

// Package credentials persists the vendor API key and the OAuth token pair in
// a small newline separated text file:
//
//	line 1: API key
//	line 2: access token expiration (RFC 3339, UTC)
//	line 3: access token
//	line 4: refresh token
//
// Lines 2-4 only exist after the first successful authorization. A Store owns
// the in-memory copy; only explicit writes replace it.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joshp123/thermoctl/internal/logger"
)

// ExpirationLayout is the fixed timestamp format of line 2.
const ExpirationLayout = time.RFC3339

const tokenLines = 4

var (
	ErrMissingCredentialsFile = errors.New("credentials file not found")
	ErrMissingAPIKey          = errors.New("credentials file has no api key")
)

// Credential is the API key plus the current token pair.
type Credential struct {
	APIKey          string
	TokenExpiration time.Time
	AccessToken     string
	RefreshToken    string
}

// Store reads and rewrites the credentials file.
type Store struct {
	path   string
	mirror Mirror
	log    *logger.Logger

	cached *Credential
}

// Option configures a Store.
type Option func(*Store)

// WithMirror copies every rewrite of the file to m.
func WithMirror(m Mirror) Option {
	return func(s *Store) { s.mirror = m }
}

// WithLogger sets the logger used for mirror failures.
func WithLogger(log *logger.Logger) Option {
	return func(s *Store) { s.log = log }
}

func NewStore(path string, opts ...Option) *Store {
	s := &Store{path: path, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// ReadAPIKey returns the first line of the file, trimmed.
func (s *Store) ReadAPIKey() (string, error) {
	lines, err := s.readLines()
	if err != nil {
		return "", err
	}
	if len(lines) == 0 || lines[0] == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingAPIKey, s.path)
	}
	return lines[0], nil
}

// HasToken reports whether the file exists and carries token lines.
func (s *Store) HasToken() bool {
	lines, err := s.readLines()
	if err != nil {
		return false
	}
	return len(lines) >= tokenLines
}

// ReadToken returns the cached credential, loading it from disk on first use.
// ok is false when the file holds no token yet.
func (s *Store) ReadToken() (cred Credential, ok bool, err error) {
	if s.cached != nil {
		return *s.cached, true, nil
	}
	lines, err := s.readLines()
	if err != nil {
		return Credential{}, false, err
	}
	if len(lines) < tokenLines {
		return Credential{}, false, nil
	}
	expiration, err := time.Parse(ExpirationLayout, lines[1])
	if err != nil {
		return Credential{}, false, fmt.Errorf("parse token expiration: %w", err)
	}
	cred = Credential{
		APIKey:          lines[0],
		TokenExpiration: expiration,
		AccessToken:     lines[2],
		RefreshToken:    lines[3],
	}
	s.cached = &cred
	return cred, true, nil
}

// WriteToken replaces the cache and rewrites the whole file.
func (s *Store) WriteToken(ctx context.Context, cred Credential) error {
	if strings.TrimSpace(cred.APIKey) == "" {
		return ErrMissingAPIKey
	}
	stored := cred
	s.cached = &stored

	content := strings.Join([]string{
		cred.APIKey,
		cred.TokenExpiration.UTC().Format(ExpirationLayout),
		cred.AccessToken,
		cred.RefreshToken,
	}, "\n") + "\n"
	return s.rewrite(ctx, []byte(content))
}

// TrimToAPIKeyOnly drops the token lines so the next run re-authorizes.
func (s *Store) TrimToAPIKeyOnly(ctx context.Context) error {
	apiKey, err := s.ReadAPIKey()
	if err != nil {
		return err
	}
	s.cached = nil
	return s.rewrite(ctx, []byte(apiKey+"\n"))
}

// Restore copies the mirrored file to disk when the local file is missing.
// It reports whether a copy was restored.
func (s *Store) Restore(ctx context.Context) (bool, error) {
	if s.mirror == nil {
		return false, nil
	}
	if _, err := os.Stat(s.path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat credentials: %w", err)
	}

	data, err := s.mirror.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrMirrorNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load mirrored credentials: %w", err)
	}
	if err := writeFile(s.path, data); err != nil {
		return false, err
	}
	s.cached = nil
	return true, nil
}

func (s *Store) rewrite(ctx context.Context, data []byte) error {
	if err := writeFile(s.path, data); err != nil {
		return err
	}
	if s.mirror == nil {
		return nil
	}
	if err := s.mirror.Save(ctx, data); err != nil {
		s.log.Warnw("credentials mirror update failed", "err", err)
	}
	return nil
}

func (s *Store) readLines() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingCredentialsFile, s.path)
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	raw := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		lines = append(lines, strings.TrimSpace(line))
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir credentials dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

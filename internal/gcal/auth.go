package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	appLog "maginkcal/internal/log"
)

// ErrTokenMissing is returned when no OAuth token has been stored yet.
var ErrTokenMissing = errors.New("gcal: no OAuth token stored; run with -authorize first")

// Credentials locates the OAuth client secret and the persisted user token.
type Credentials struct {
	// CredentialsPath is the client secret JSON downloaded from the Google
	// Cloud console.
	CredentialsPath string
	// TokenPath is where the user's access/refresh token is kept.
	TokenPath string
}

func (c Credentials) oauthConfig() (*oauth2.Config, error) {
	if c.CredentialsPath == "" {
		return nil, errors.New("gcal: credentials path is empty")
	}
	b, err := os.ReadFile(c.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("gcal: read credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("gcal: parse credentials: %w", err)
	}
	return cfg, nil
}

// NewService builds a Calendar API client from the stored token. Refreshed
// tokens are written back to TokenPath.
func NewService(ctx context.Context, creds Credentials, opts ...option.ClientOption) (*calendar.Service, error) {
	cfg, err := creds.oauthConfig()
	if err != nil {
		return nil, err
	}
	tok, err := loadToken(creds.TokenPath)
	if err != nil {
		return nil, err
	}

	ts := &savingTokenSource{
		base: cfg.TokenSource(ctx, tok),
		path: creds.TokenPath,
		last: tok.AccessToken,
	}
	client := oauth2.NewClient(ctx, ts)

	all := append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	svc, err := calendar.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("gcal: create service: %w", err)
	}
	return svc, nil
}

// Authorize runs the console authorization-code flow: it prints the consent
// URL to out, reads the code from in and stores the resulting token.
func Authorize(ctx context.Context, creds Credentials, in io.Reader, out io.Writer) error {
	cfg, err := creds.oauthConfig()
	if err != nil {
		return err
	}

	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Open the following link in your browser, then paste the authorization code:\n%s\n", authURL)

	var code string
	if _, err := fmt.Fscan(in, &code); err != nil {
		return fmt.Errorf("gcal: read authorization code: %w", err)
	}
	code = strings.TrimSpace(code)

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("gcal: exchange authorization code: %w", err)
	}
	if err := saveToken(creds.TokenPath, tok); err != nil {
		return err
	}
	appLog.Info("oauth token stored", "path", creds.TokenPath)
	return nil
}

func loadToken(path string) (*oauth2.Token, error) {
	if path == "" {
		return nil, errors.New("gcal: token path is empty")
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrTokenMissing
		}
		return nil, fmt.Errorf("gcal: open token: %w", err)
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("gcal: decode token: %w", err)
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if path == "" {
		return errors.New("gcal: token path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("gcal: write token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}

// savingTokenSource persists the token whenever the underlying source hands
// out a new access token.
type savingTokenSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := saveToken(s.path, tok); err != nil {
			appLog.Warn("failed to persist refreshed token", err, "path", s.path)
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}

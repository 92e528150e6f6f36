// Package report submits bad-subtitle reports to the NapiProjekt-style
// report service: one credential check, then one blocking bounded HTTP
// submission per movie. The GUI dialog that collects the form lives in the
// owning application; this package is the worker behind it.
package report

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Status of one submission attempt.
type Status uint8

const (
	// StatusNotReported means the service refused or failed the report.
	StatusNotReported Status = iota

	// StatusReported means the service accepted the report.
	StatusReported

	// StatusNoSubtitles means the service has no subtitles on file for
	// the movie, so there is nothing to report against.
	StatusNoSubtitles
)

func (s Status) String() string {
	switch s {
	case StatusReported:
		return "reported"
	case StatusNoSubtitles:
		return "no_subtitles"
	default:
		return "not_reported"
	}
}

// Result of a submission. ServerText is only set for StatusReported; a
// text with the "NPc0" prefix is the service's canonical acknowledgement.
type Result struct {
	Status     Status
	ServerText string
}

var (
	ErrInvalidCredentials = errors.New("report: rejected username or password")
	ErrMissingMovie       = errors.New("report: movie file is not readable")
)

const (
	// ReportedPrefix marks a server text acknowledging the report.
	ReportedPrefix = "NPc0"

	// noSubtitlesPrefix marks a "nothing on file for this movie" reply.
	noSubtitlesPrefix = "NPc404"

	checkUserPath = "/api/check-user"
	reportPath    = "/api/report"

	// digestWindow is how much of the movie file identifies it to the
	// service.
	digestWindow = 10 << 20

	defaultBaseURL = "https://napiprojekt.pl"
	defaultTimeout = 30 * time.Second
)

// Config for a report `Client`.
type Config struct {
	// BaseURL of the report service.
	BaseURL string

	// Username and Password are the stored service credentials.
	Username string
	Password string

	// HTTPClient defaults to one with a bounded overall timeout.
	HTTPClient *http.Client

	// Logger defaults to `slog.Default()`.
	Logger *slog.Logger
}

// Request describes one report: the movie file, the subtitle language the
// complaint is about, and the user's free-text comment.
type Request struct {
	FilePath string
	Language string
	Comment  string
}

// Client performs the service calls. It is safe for concurrent use.
type Client struct {
	base   string
	user   string
	pass   string
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("report: invalid base url %q: %w", base, err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		base:   strings.TrimRight(base, "/"),
		user:   cfg.Username,
		pass:   cfg.Password,
		http:   hc,
		logger: logger,
	}, nil
}

// CheckUser validates the stored credentials before any submission, so an
// authentication failure can be signalled separately from report failures.
func (c *Client) CheckUser(ctx context.Context) error {
	body, err := c.postForm(ctx, checkUserPath, url.Values{
		"username": {c.user},
		"password": {c.pass},
	})
	if err != nil {
		return err
	}
	if strings.TrimSpace(body) != "OK" {
		return ErrInvalidCredentials
	}
	return nil
}

// Submit performs the one blocking network call of a report. The movie is
// identified to the service by `Digest` of the file, not by upload.
func (c *Client) Submit(ctx context.Context, req Request) (Result, error) {
	digest, err := Digest(req.FilePath)
	if err != nil {
		return Result{}, err
	}

	body, err := c.postForm(ctx, reportPath, url.Values{
		"username": {c.user},
		"password": {c.pass},
		"hash":     {digest},
		"filename": {filepath.Base(req.FilePath)},
		"language": {req.Language},
		"comment":  {req.Comment},
	})
	if err != nil {
		return Result{}, err
	}

	body = strings.TrimSpace(body)
	switch {
	case strings.HasPrefix(body, ReportedPrefix):
		return Result{Status: StatusReported, ServerText: body}, nil
	case strings.HasPrefix(body, noSubtitlesPrefix):
		return Result{Status: StatusNoSubtitles}, nil
	default:
		c.logger.Warn("report refused by the service", "reply", body)
		return Result{Status: StatusNotReported}, nil
	}
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("report: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("report: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("report: %s: unexpected status %s", path, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("report: %s: read reply: %w", path, err)
	}
	return string(body), nil
}

// Digest is the movie identity used by the service: the MD5 of the file's
// first 10 MiB.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMissingMovie, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, io.LimitReader(f, digestWindow)); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMissingMovie, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

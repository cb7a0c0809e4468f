// Package avsignup mints new Alpha Vantage API keys through the public
// signup form.
package avsignup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aristath/harvester/internal/domain"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

var (
	// ErrDisabled is returned by the no-op minter
	ErrDisabled = errors.New("credential minting is disabled")
	// ErrNoKeyInResponse is returned when the signup response carries no key
	ErrNoKeyInResponse = errors.New("signup response contained no API key")
	// ErrOriginExhausted is returned when every tried email hit "Redundant origin"
	ErrOriginExhausted = errors.New("signup rejected every email as redundant origin")
)

const redundantOrigin = "Redundant origin"

var keyPattern = regexp.MustCompile(`(?:API )?key\s*(?:is:?|:)\s*([A-Z0-9]+)`)

// Config describes the signup form submission
type Config struct {
	URL           string
	Referer       string
	EmailTemplate string // {n} is replaced with the email index
	FirstName     string
	LastName      string
	Occupation    string
	Organization  string
	CSRFToken     string
	KeyLogFile    string
	BaseIndex     int
	MaxAttempts   int
}

// Minter implements domain.Minter against the signup endpoint
type Minter struct {
	cfg        Config
	httpClient *http.Client
	indexRe    *regexp.Regexp
	log        zerolog.Logger
	mu         sync.Mutex
}

// NewMinter creates a Minter. The email template must contain {n}.
func NewMinter(cfg Config, log zerolog.Logger) (*Minter, error) {
	prefix, suffix, ok := strings.Cut(cfg.EmailTemplate, "{n}")
	if !ok {
		return nil, fmt.Errorf("email template %q must contain {n}", cfg.EmailTemplate)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.Referer == "" {
		cfg.Referer = "https://www.alphavantage.co/support/"
	}

	return &Minter{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		indexRe: regexp.MustCompile(regexp.QuoteMeta(prefix) + `(\d+)` + regexp.QuoteMeta(suffix)),
		log:     log.With().Str("component", "avsignup").Logger(),
	}, nil
}

// SetHTTPClient overrides the HTTP client (tests)
func (m *Minter) SetHTTPClient(c *http.Client) {
	m.httpClient = c
}

// Mint submits the signup form with the next unused email index.
// "Redundant origin" responses advance the index, at most MaxAttempts times.
func (m *Minter) Mint(ctx context.Context) (domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	last, err := m.lastIndex()
	if err != nil {
		return "", err
	}

	index := last + 1
	for attempt := 0; attempt < m.cfg.MaxAttempts; attempt++ {
		email := m.email(index)

		text, err := m.submit(ctx, email)
		if err != nil {
			return "", err
		}

		if strings.Contains(text, redundantOrigin) {
			m.log.Warn().Str("email", email).Msg("Redundant origin, trying next email index")
			index++
			continue
		}

		match := keyPattern.FindStringSubmatch(text)
		if match == nil {
			m.log.Warn().Str("email", email).Str("response", text).Msg("No API key in signup response")
			return "", ErrNoKeyInResponse
		}

		cred := domain.Credential(match[1])
		if err := m.appendLog(email, cred); err != nil {
			// The key is still usable; the next mint may reuse this index
			m.log.Error().Err(err).Msg("Failed to append to key log")
		}
		m.log.Info().Str("email", email).Str("credential", cred.Mask()).Msg("Minted new API key")
		return cred, nil
	}

	return "", fmt.Errorf("%w after %d attempts", ErrOriginExhausted, m.cfg.MaxAttempts)
}

func (m *Minter) email(index int) string {
	return strings.ReplaceAll(m.cfg.EmailTemplate, "{n}", strconv.Itoa(index))
}

func (m *Minter) submit(ctx context.Context, email string) (string, error) {
	form := url.Values{}
	form.Set("first_text", m.cfg.FirstName)
	form.Set("last_text", m.cfg.LastName)
	form.Set("occupation_text", m.cfg.Occupation)
	form.Set("organization_text", m.cfg.Organization)
	form.Set("email_text", email)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build signup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Referer", m.cfg.Referer)
	if m.cfg.CSRFToken != "" {
		req.Header.Set("X-CSRFToken", m.cfg.CSRFToken)
		req.AddCookie(&http.Cookie{Name: "csrftoken", Value: m.cfg.CSRFToken})
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("signup request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read signup response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("signup returned HTTP %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("signup returned malformed JSON")
	}

	return gjson.GetBytes(body, "text").String(), nil
}

// lastIndex returns the highest email index recorded in the key log, or BaseIndex
func (m *Minter) lastIndex() (int, error) {
	last := m.cfg.BaseIndex

	f, err := os.Open(m.cfg.KeyLogFile)
	if errors.Is(err, os.ErrNotExist) {
		return last, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open key log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		match := m.indexRe.FindStringSubmatch(scanner.Text())
		if match == nil {
			continue
		}
		if n, err := strconv.Atoi(match[1]); err == nil && n > last {
			last = n
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to read key log: %w", err)
	}
	return last, nil
}

func (m *Minter) appendLog(email string, cred domain.Credential) error {
	if err := os.MkdirAll(filepath.Dir(m.cfg.KeyLogFile), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(m.cfg.KeyLogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "Email: %s, API Key: %s\n", email, cred)
	return err
}

// Noop is the minter used when signup is not configured
type Noop struct{}

// Mint always fails with ErrDisabled
func (Noop) Mint(context.Context) (domain.Credential, error) {
	return "", ErrDisabled
}

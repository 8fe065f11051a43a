// Package api talks to the game's HTTP endpoints on behalf of one identity.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"worldroll.ai/internal/protocol"
)

// ErrSessionInvalid is returned once the session has failed validation
// MaxAuthAttempts times in a row.
var ErrSessionInvalid = protocol.ErrSessionInvalid

type Options struct {
	Host          string
	SessionCookie string
	Session       string
	UserAgent     string

	Timeout         time.Duration
	MaxTries        uint
	MaxAuthAttempts int
	RetryInterval   time.Duration
	// RollInterval is the minimum spacing between two roll requests,
	// including retries of the same roll.
	RollInterval time.Duration

	Logger *log.Logger
}

// Self is the identity a session belongs to, as reported by getthis.
type Self struct {
	ID     string
	Name   string
	ClanID string
}

type Client struct {
	opts   Options
	base   *url.URL
	http   *http.Client
	logger *log.Logger

	mu           sync.Mutex
	self         Self
	authFailures int
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(opts.Host)
	if err != nil {
		return nil, fmt.Errorf("parse host: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if opts.SessionCookie == "" {
		opts.SessionCookie = "session"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 5
	}
	if opts.MaxAuthAttempts <= 0 {
		opts.MaxAuthAttempts = 10
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	if opts.RollInterval <= 0 {
		opts.RollInterval = 1100 * time.Millisecond
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	jar.SetCookies(base, []*http.Cookie{{Name: opts.SessionCookie, Value: opts.Session, Path: "/"}})

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		opts:   opts,
		base:   base,
		http:   &http.Client{Timeout: opts.Timeout, Jar: jar},
		logger: logger,
	}, nil
}

// Self returns the identity recorded by the last successful Validate.
func (c *Client) Self() Self {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Cookies returns the session cookies currently held for the host.
func (c *Client) Cookies() []*http.Cookie { return c.http.Jar.Cookies(c.base) }

// Validate asks the server who the session belongs to.
func (c *Client) Validate(ctx context.Context) (Self, error) {
	self, err := c.whoami(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.authFailures++
		if c.authFailures >= c.opts.MaxAuthAttempts {
			return Self{}, fmt.Errorf("validate session (%d attempts): %w: %v", c.authFailures, ErrSessionInvalid, err)
		}
		return Self{}, fmt.Errorf("validate session: %w", err)
	}
	c.authFailures = 0
	c.self = self
	return self, nil
}

func (c *Client) whoami(ctx context.Context) (Self, error) {
	body, err := c.once(ctx, http.MethodPost, "getthis", struct{}{})
	if err != nil {
		return Self{}, err
	}
	var resp protocol.PlayersResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return Self{}, fmt.Errorf("decode getthis: %w", err)
	}
	for id, p := range resp.Players {
		self := Self{ID: id, Name: p.Name}
		if !p.FID.IsZero() {
			self.ClanID = string(p.FID)
		}
		return self, nil
	}
	return Self{}, errors.New("session rejected")
}

func (c *Client) SubmitRoll(ctx context.Context, code string) (string, error) {
	return c.do(ctx, http.MethodPost, "roll", protocol.RollRequest{Target: code}, c.opts.RollInterval)
}

func (c *Client) Transfer(ctx context.Context, code, toOwner string) (string, error) {
	return c.do(ctx, http.MethodPost, "give", protocol.GiveRequest{Target: code, TargetPlayerID: protocol.ID(toOwner)}, 0)
}

// do runs one request with bounded retries. Between tries the session is
// re-validated; a session that can no longer be validated stops the retries.
// A non-zero minGap makes every wait between tries at least minGap long.
func (c *Client) do(ctx context.Context, method, uri string, payload any, minGap time.Duration) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryInterval
	b.MaxInterval = 8 * c.opts.RetryInterval
	if minGap > 0 {
		b.RandomizationFactor = 0
		b.InitialInterval = max(b.InitialInterval, minGap)
		b.MaxInterval = max(b.MaxInterval, b.InitialInterval)
	}
	b.Reset()

	op := func() (string, error) {
		body, err := c.once(ctx, method, uri, payload)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		c.logger.Printf("request=%s failed: %v", uri, err)
		if _, verr := c.Validate(ctx); errors.Is(verr, ErrSessionInvalid) {
			return "", backoff.Permanent(verr)
		}
		return "", err
	}
	body, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.opts.MaxTries),
	)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", method, uri, err)
	}
	return body, nil
}

func (c *Client) once(ctx context.Context, method, uri string, payload any) (string, error) {
	ref, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return "", err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.ResolveReference(ref).String(), body)
	if err != nil {
		return "", err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return string(raw), nil
}

// Package rules manages the PowerTrack rule set that filters a stream.
package rules

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/anggasct/powertrack/config"
	"github.com/anggasct/powertrack/errors"
	"github.com/anggasct/powertrack/internal/client"
	"github.com/anggasct/powertrack/middleware"
	"github.com/anggasct/powertrack/middleware/auth"
)

const (
	streamHost = "stream.gnip.com"
	apiHost    = "api.gnip.com"
)

// Rule is a single PowerTrack rule.
type Rule struct {
	Value string `json:"value"`
	Tag   string `json:"tag,omitempty"`
}

// Build returns a rule, validating the value.
func Build(value, tag string) (Rule, error) {
	r := Rule{Value: value, Tag: tag}
	if err := Validate([]Rule{r}); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Validate checks that every rule has a value.
func Validate(rules []Rule) error {
	for i, r := range rules {
		if strings.TrimSpace(r.Value) == "" {
			return fmt.Errorf("%w: rule %d has an empty value", errors.ErrRulesListFormat, i)
		}
	}
	return nil
}

// RulesURL derives the rules endpoint from a stream URL:
//
//	https://stream.gnip.com:443/accounts/a/publishers/twitter/streams/track/prod.json
//	https://api.gnip.com:443/accounts/a/publishers/twitter/streams/track/prod/rules.json
func RulesURL(streamURL string) (string, error) {
	u, err := url.Parse(streamURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errors.ErrBadPowerTrackURL, err)
	}
	if u.Hostname() != streamHost || !strings.HasSuffix(u.Path, ".json") {
		return "", fmt.Errorf("%w: %s", errors.ErrBadPowerTrackURL, streamURL)
	}

	host := apiHost
	if port := u.Port(); port != "" {
		host += ":" + port
	}
	u.Host = host
	u.Path = strings.TrimSuffix(u.Path, ".json") + "/rules.json"
	return u.String(), nil
}

type rulesBody struct {
	Rules []Rule `json:"rules"`
}

// Store talks to the rules endpoint of one stream.
type Store struct {
	client   *client.Client
	rulesURL string
}

// Option configures a Store.
type Option func(*Store)

// WithRulesURL overrides the derived rules endpoint.
func WithRulesURL(u string) Option {
	return func(s *Store) {
		s.rulesURL = u
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Store) {
		s.client.WithHTTPClient(hc)
	}
}

// WithMiddleware adds request middleware, such as retry or logger.
func WithMiddleware(m ...middleware.Middleware) Option {
	return func(s *Store) {
		s.client.WithMiddleware(m...)
	}
}

// NewStore creates a Store for the stream in cfg.
func NewStore(cfg *config.Config, opts ...Option) (*Store, error) {
	s := &Store{
		client: client.New().WithMiddleware(auth.Basic(cfg.Auth.Username, cfg.Auth.Password)),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.rulesURL == "" {
		u, err := RulesURL(cfg.URL)
		if err != nil {
			return nil, err
		}
		s.rulesURL = u
	}
	return s, nil
}

// URL returns the rules endpoint in use.
func (s *Store) URL() string {
	return s.rulesURL
}

// Add adds a single rule.
func (s *Store) Add(ctx context.Context, value, tag string) error {
	r, err := Build(value, tag)
	if err != nil {
		return err
	}
	return s.AddMany(ctx, []Rule{r})
}

// AddMany adds rules in one request.
func (s *Store) AddMany(ctx context.Context, rules []Rule) error {
	if err := Validate(rules); err != nil {
		return err
	}

	resp, err := s.client.POST(ctx, s.rulesURL, rulesBody{Rules: rules})
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrRuleAddFailed, err)
	}
	if err := resp.CheckStatus(http.StatusCreated); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrRuleAddFailed, err)
	}
	return resp.Close()
}

// List returns the current rule set.
func (s *Store) List(ctx context.Context) ([]Rule, error) {
	resp, err := s.client.GET(ctx, s.rulesURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrRulesGetFailed, err)
	}
	if err := resp.CheckStatus(http.StatusOK); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrRulesGetFailed, err)
	}

	var body rulesBody
	if err := resp.JSON(&body); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", errors.ErrRulesGetFailed, err)
	}
	if body.Rules == nil {
		body.Rules = []Rule{}
	}
	return body.Rules, nil
}

// Delete removes a single rule. Rules are matched by value.
func (s *Store) Delete(ctx context.Context, rule Rule) error {
	return s.DeleteMany(ctx, []Rule{rule})
}

// DeleteMany removes rules in one request. The endpoint takes the rule list
// as a POST body with _method=delete.
func (s *Store) DeleteMany(ctx context.Context, rules []Rule) error {
	if err := Validate(rules); err != nil {
		return err
	}

	resp, err := s.client.NewRequest(http.MethodPost, s.rulesURL).
		WithQuery("_method", "delete").
		WithBody(rulesBody{Rules: rules}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrRuleDeleteFailed, err)
	}
	if err := resp.CheckStatus(http.StatusOK); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrRuleDeleteFailed, err)
	}
	return resp.Close()
}

package historical

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/anggasct/powertrack/config"
	"github.com/anggasct/powertrack/errors"
	"github.com/anggasct/powertrack/internal/client"
	"github.com/anggasct/powertrack/middleware"
	"github.com/anggasct/powertrack/middleware/auth"
)

// DefaultBaseURL is the Historical PowerTrack API root.
const DefaultBaseURL = "https://historical.gnip.com"

// Client talks to the Historical PowerTrack jobs API for one account.
type Client struct {
	client  *client.Client
	baseURL string
	account string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client.WithHTTPClient(hc)
	}
}

// WithMiddleware adds request middleware, such as retry or logger.
func WithMiddleware(m ...middleware.Middleware) Option {
	return func(c *Client) {
		c.client.WithMiddleware(m...)
	}
}

// NewClient creates a client for account using the credentials in cfg.
func NewClient(cfg *config.Config, account string, opts ...Option) (*Client, error) {
	if account == "" {
		return nil, fmt.Errorf("%w: account is required", errors.ErrBadArgument)
	}
	if cfg == nil || cfg.Auth.Username == "" {
		return nil, fmt.Errorf("%w: credentials are required", errors.ErrIncompleteConfiguration)
	}

	c := &Client{
		client:  client.New().WithMiddleware(auth.Basic(cfg.Auth.Username, cfg.Auth.Password)),
		baseURL: DefaultBaseURL,
		account: account,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// JobsURL is the collection endpoint for the account.
func (c *Client) JobsURL() string {
	return c.baseURL + "/accounts/" + url.PathEscape(c.account) + "/jobs.json"
}

// Create submits job and fills in the service fields, including JobURL.
func (c *Client) Create(ctx context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	resp, err := c.client.POST(ctx, c.JobsURL(), job.createRequest())
	if err != nil {
		return errors.Wrap(err, "historical", "Create", "request")
	}
	if err := resp.CheckStatus(http.StatusOK, http.StatusCreated); err != nil {
		return errors.Wrap(err, "historical", "Create", "request")
	}

	var r jobResponse
	if err := resp.JSON(&r); err != nil {
		return errors.Wrap(err, "historical", "Create", "decode")
	}
	return job.update(&r)
}

// Get fetches an existing job. The returned job carries the rules only if
// the service reports them.
func (c *Client) Get(ctx context.Context, jobURL string) (*Job, error) {
	r, err := c.fetch(ctx, jobURL)
	if err != nil {
		return nil, errors.Wrap(err, "historical", "Get", "fetch")
	}
	job, err := jobFromResponse(r)
	if err != nil {
		return nil, errors.Wrap(err, "historical", "Get", "decode")
	}
	if job.JobURL == "" {
		job.JobURL = jobURL
	}
	return job, nil
}

// Monitor refreshes the status fields of job.
func (c *Client) Monitor(ctx context.Context, job *Job) error {
	if job.JobURL == "" {
		return fmt.Errorf("%w: job has no url", errors.ErrBadArgument)
	}
	r, err := c.fetch(ctx, job.JobURL)
	if err != nil {
		return errors.Wrap(err, "historical", "Monitor", "fetch")
	}
	return job.update(r)
}

// List returns the jobs of the account.
func (c *Client) List(ctx context.Context) ([]*Job, error) {
	resp, err := c.client.GET(ctx, c.JobsURL())
	if err != nil {
		return nil, errors.Wrap(err, "historical", "List", "request")
	}
	if err := resp.CheckStatus(http.StatusOK); err != nil {
		return nil, errors.Wrap(err, "historical", "List", "request")
	}

	var body struct {
		Jobs []jobResponse `json:"jobs"`
	}
	if err := resp.JSON(&body); err != nil {
		return nil, errors.Wrap(err, "historical", "List", "decode")
	}

	jobs := make([]*Job, 0, len(body.Jobs))
	for i := range body.Jobs {
		j, err := jobFromResponse(&body.Jobs[i])
		if err != nil {
			return nil, errors.Wrap(err, "historical", "List", "decode")
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Accept accepts a quoted job. Accepted jobs run and cannot be stopped.
func (c *Client) Accept(ctx context.Context, job *Job) error {
	return c.acceptOrReject(ctx, job, "accept")
}

// Reject rejects a quoted job. Rejected jobs cannot be recovered.
func (c *Client) Reject(ctx context.Context, job *Job) error {
	return c.acceptOrReject(ctx, job, "reject")
}

func (c *Client) acceptOrReject(ctx context.Context, job *Job, verb string) error {
	if job.Status != StatusQuoted {
		return fmt.Errorf("%w: cannot %s a job in status %q, want %q", errors.ErrHistoricalJobStatus, verb, job.Status, StatusQuoted)
	}

	resp, err := c.client.PUT(ctx, job.JobURL, map[string]string{"status": verb})
	if err != nil {
		return errors.Wrap(err, "historical", verb, "request")
	}
	if err := resp.CheckStatus(http.StatusOK); err != nil {
		return errors.Wrap(err, "historical", verb, "request")
	}

	var r jobResponse
	if err := resp.JSON(&r); err != nil {
		return errors.Wrap(err, "historical", verb, "decode")
	}

	acceptedAt, err := parseTime(r.AcceptedAt)
	if err != nil {
		return err
	}
	job.Status = r.Status
	job.StatusMessage = r.StatusMessage
	job.AcceptedBy = r.AcceptedBy
	job.AcceptedAt = acceptedAt
	return nil
}

func (c *Client) fetch(ctx context.Context, jobURL string) (*jobResponse, error) {
	resp, err := c.client.GET(ctx, jobURL)
	if err != nil {
		return nil, err
	}
	if err := resp.CheckStatus(http.StatusOK); err != nil {
		return nil, err
	}

	var r jobResponse
	if err := resp.JSON(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

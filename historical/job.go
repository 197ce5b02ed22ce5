// Package historical creates and follows Historical PowerTrack jobs: batch
// retrievals that are estimated ("quoted"), then accepted or rejected.
package historical

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anggasct/powertrack/errors"
	"github.com/anggasct/powertrack/rules"
)

// Job statuses reported by the service.
const (
	StatusOpened     = "opened"
	StatusEstimating = "estimating"
	StatusQuoted     = "quoted"
	StatusAccepted   = "accepted"
	StatusRejected   = "rejected"
	StatusRunning    = "running"
	StatusDelivered  = "delivered"
	StatusFailed     = "failed"
)

// MaxRules is the largest rule set a job accepts.
const MaxRules = 1000

const (
	// requestDateLayout is the minute-granularity format the jobs API expects.
	requestDateLayout = "200601021504"
	// responseTimeLayout is the ISO 8601 subset the jobs API returns.
	responseTimeLayout = "2006-01-02T15:04:05Z"
)

var validDataFormats = map[string]bool{
	"activity-stream": true,
	"original":        true,
}

// Quote is the service's estimate for a job.
type Quote struct {
	CostDollars            float64 `json:"costDollars"`
	EstimatedActivityCount int64   `json:"estimatedActivityCount"`
	EstimatedDurationHours string  `json:"estimatedDurationHours"`
	EstimatedFileSizeMb    string  `json:"estimatedFileSizeMb"`
	ExpiresAt              string  `json:"expiresAt"`
}

// Results describes the delivered data files.
type Results struct {
	ActivityCount int64   `json:"activityCount"`
	FileCount     int64   `json:"fileCount"`
	FileSizeMb    float64 `json:"fileSizeMb"`
	DataURL       string  `json:"dataURL"`
	ExpiresAt     string  `json:"expiresAt"`
	CompletedAt   string  `json:"completedAt"`
}

// Job is a historical job: the request fields set by the caller and the
// status fields filled in by the service.
type Job struct {
	Title      string
	FromDate   time.Time // inclusive, minute granularity
	ToDate     time.Time // exclusive, minute granularity
	Rules      []rules.Rule
	Publisher  string
	StreamType string
	DataFormat string

	Account         string
	JobURL          string
	RequestedBy     string
	RequestedAt     time.Time
	Status          string
	StatusMessage   string
	Quote           *Quote
	AcceptedBy      string
	AcceptedAt      time.Time
	PercentComplete int
	Results         *Results
}

// NewJob returns a validated job with the default publisher, stream type and
// data format.
func NewJob(title string, from, to time.Time, rs []rules.Rule) (*Job, error) {
	j := &Job{
		Title:      title,
		FromDate:   from,
		ToDate:     to,
		Rules:      rs,
		Publisher:  "twitter",
		StreamType: "track",
		DataFormat: "activity-stream",
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return j, nil
}

// Validate checks the request fields.
func (j *Job) Validate() error {
	switch {
	case j.Publisher != "twitter":
		return fmt.Errorf("%w: publisher must be 'twitter', got %q", errors.ErrBadArgument, j.Publisher)
	case j.StreamType != "track":
		return fmt.Errorf("%w: stream type must be 'track', got %q", errors.ErrBadArgument, j.StreamType)
	case !validDataFormats[j.DataFormat]:
		return fmt.Errorf("%w: data format must be activity-stream or original, got %q", errors.ErrBadArgument, j.DataFormat)
	case j.FromDate.IsZero():
		return fmt.Errorf("%w: from date is required", errors.ErrBadArgument)
	case j.ToDate.IsZero():
		return fmt.Errorf("%w: to date is required", errors.ErrBadArgument)
	case !j.ToDate.After(j.FromDate):
		return fmt.Errorf("%w: from date is larger or equal to to date", errors.ErrBadArgument)
	case strings.TrimSpace(j.Title) == "":
		return fmt.Errorf("%w: title must be a non-empty string", errors.ErrBadArgument)
	case j.Rules == nil:
		return fmt.Errorf("%w: rules are required", errors.ErrBadArgument)
	case len(j.Rules) > MaxRules:
		return fmt.Errorf("%w: too many rules (%d > %d)", errors.ErrBadArgument, len(j.Rules), MaxRules)
	}
	return rules.Validate(j.Rules)
}

// createRequest is the body of a job creation request.
type createRequest struct {
	Publisher  string       `json:"publisher"`
	StreamType string       `json:"streamType"`
	DataFormat string       `json:"dataFormat"`
	FromDate   string       `json:"fromDate"`
	ToDate     string       `json:"toDate"`
	Title      string       `json:"title"`
	Rules      []rules.Rule `json:"rules"`
}

func (j *Job) createRequest() createRequest {
	return createRequest{
		Publisher:  j.Publisher,
		StreamType: j.StreamType,
		DataFormat: j.DataFormat,
		FromDate:   j.FromDate.UTC().Format(requestDateLayout),
		ToDate:     j.ToDate.UTC().Format(requestDateLayout),
		Title:      j.Title,
		Rules:      j.Rules,
	}
}

// jobResponse is the service's view of a job.
type jobResponse struct {
	Title           string          `json:"title"`
	Account         string          `json:"account"`
	Publisher       string          `json:"publisher"`
	StreamType      string          `json:"streamType"`
	DataFormat      string          `json:"dataFormat"`
	FromDate        string          `json:"fromDate"`
	ToDate          string          `json:"toDate"`
	Rules           []rules.Rule    `json:"rules"`
	JobURL          string          `json:"jobUrl"`
	RequestedBy     string          `json:"requestedBy"`
	RequestedAt     string          `json:"requestedAt"`
	Status          string          `json:"status"`
	StatusMessage   string          `json:"statusMessage"`
	Quote           *Quote          `json:"quote"`
	AcceptedBy      string          `json:"acceptedBy"`
	AcceptedAt      string          `json:"acceptedAt"`
	PercentComplete json.RawMessage `json:"percentComplete"`
	Results         *Results        `json:"results"`
}

// update copies the service fields from r into j.
func (j *Job) update(r *jobResponse) error {
	requestedAt, err := parseTime(r.RequestedAt)
	if err != nil {
		return err
	}
	acceptedAt, err := parseTime(r.AcceptedAt)
	if err != nil {
		return err
	}

	j.Account = r.Account
	if r.JobURL != "" {
		j.JobURL = r.JobURL
	}
	j.RequestedBy = r.RequestedBy
	j.RequestedAt = requestedAt
	j.Status = r.Status
	j.StatusMessage = r.StatusMessage
	j.Quote = r.Quote
	j.AcceptedBy = r.AcceptedBy
	j.AcceptedAt = acceptedAt
	j.Results = r.Results

	if len(r.PercentComplete) > 0 {
		var pct float64
		if err := json.Unmarshal(r.PercentComplete, &pct); err == nil {
			j.PercentComplete = int(pct)
		}
	}
	return nil
}

// jobFromResponse builds a Job from a service response. Request dates come
// back in either layout depending on the endpoint, so both are accepted.
func jobFromResponse(r *jobResponse) (*Job, error) {
	from, err := parseDate(r.FromDate)
	if err != nil {
		return nil, err
	}
	to, err := parseDate(r.ToDate)
	if err != nil {
		return nil, err
	}

	j := &Job{
		Title:      r.Title,
		FromDate:   from,
		ToDate:     to,
		Rules:      r.Rules,
		Publisher:  r.Publisher,
		StreamType: r.StreamType,
		DataFormat: r.DataFormat,
	}
	if j.Rules == nil {
		j.Rules = []rules.Rule{}
	}
	if err := j.update(r); err != nil {
		return nil, err
	}
	return j, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(responseTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("historical: parse time %q: %w", s, err)
	}
	return t, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(requestDateLayout, s); err == nil {
		return t, nil
	}
	return parseTime(s)
}

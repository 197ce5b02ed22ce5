// Package gniptest provides an in-process fake of the Gnip PowerTrack, rules
// and Historical PowerTrack endpoints for tests and examples.
package gniptest

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	// Account is the account name used in every path.
	Account = "acme"

	streamPath = "/accounts/" + Account + "/publishers/twitter/streams/track/prod.json"
	rulesPath  = "/accounts/" + Account + "/publishers/twitter/streams/track/prod/rules.json"
	jobsPath   = "/accounts/" + Account + "/jobs.json"
	jobPrefix  = "/accounts/" + Account + "/publishers/twitter/historical/track/jobs/"
)

// Rule mirrors the rules endpoint's JSON.
type Rule struct {
	Value string `json:"value"`
	Tag   string `json:"tag,omitempty"`
}

// MiddlewareFunc wraps every route handler.
type MiddlewareFunc func(http.Handler) http.Handler

type route struct {
	handler http.HandlerFunc
	methods []string
}

// Server is a fake Gnip API. Configure it before the client connects.
type Server struct {
	server     *httptest.Server
	username   string
	password   string
	routes     map[string]route
	middleware []MiddlewareFunc

	mu           sync.Mutex
	activities   []string
	interval     time.Duration
	keepAlive    bool
	repeat       bool
	streamStatus int
	streams      int
	rules        []Rule
	jobs         map[string]map[string]any
}

// NewServer starts a server that accepts the given basic-auth credentials.
func NewServer(username, password string) *Server {
	s := &Server{
		username: username,
		password: password,
		routes:   make(map[string]route),
		jobs:     make(map[string]map[string]any),
	}
	s.AddMiddleware(s.requireAuth)

	s.addRoute(streamPath, s.handleStream, http.MethodGet)
	s.addRoute(rulesPath, s.handleRules, http.MethodGet, http.MethodPost)
	s.addRoute(jobsPath, s.handleJobs, http.MethodGet, http.MethodPost)

	s.server = httptest.NewServer(s.handler())
	return s
}

// Close shuts the server down, interrupting open streams.
func (s *Server) Close() {
	s.server.CloseClientConnections()
	s.server.Close()
}

// URL returns the server root.
func (s *Server) URL() string {
	return s.server.URL
}

// StreamURL returns the PowerTrack stream endpoint.
func (s *Server) StreamURL() string {
	return s.server.URL + streamPath
}

// RulesURL returns the rules endpoint of the stream.
func (s *Server) RulesURL() string {
	return s.server.URL + rulesPath
}

// AddMiddleware adds global middleware. The last added runs first.
func (s *Server) AddMiddleware(m MiddlewareFunc) {
	s.middleware = append(s.middleware, m)
}

// SetActivities sets the lines the stream sends, one every interval. With
// keepAlive a blank CRLF line follows each activity. With repeat the stream
// cycles through the activities until the client goes away; otherwise it
// ends after the last one.
func (s *Server) SetActivities(activities []string, interval time.Duration, keepAlive, repeat bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = activities
	s.interval = interval
	s.keepAlive = keepAlive
	s.repeat = repeat
}

// SetStreamStatus makes the stream endpoint answer with code. Zero restores
// normal streaming.
func (s *Server) SetStreamStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamStatus = code
}

// Streams returns how many stream requests were accepted.
func (s *Server) Streams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams
}

// Rules returns a copy of the stored rules.
func (s *Server) Rules() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rules)
}

// AddJob stores a job with the given status and returns its URL.
func (s *Server) AddJob(id, status string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addJobLocked(id, status, map[string]any{
		"title":      id,
		"publisher":  "twitter",
		"streamType": "track",
		"dataFormat": "activity-stream",
		"fromDate":   "201601010000",
		"toDate":     "201601020000",
	})
}

// JobStatus returns the status of the job with id.
func (s *Server) JobStatus(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, _ := s.jobs[id]["status"].(string)
	return status
}

func (s *Server) addJobLocked(id, status string, job map[string]any) string {
	path := jobPrefix + id + ".json"
	job["account"] = Account
	job["jobUrl"] = s.server.URL + path
	job["requestedBy"] = s.username
	job["requestedAt"] = "2016-01-05T10:00:00Z"
	job["status"] = status
	job["statusMessage"] = "Job " + status
	if status == "quoted" {
		job["quote"] = map[string]any{"costDollars": 5000, "estimatedActivityCount": 10000}
	}
	s.jobs[id] = job
	s.routes[path] = route{
		handler: func(w http.ResponseWriter, r *http.Request) { s.handleJob(w, r, id) },
		methods: []string{http.MethodGet, http.MethodPut},
	}
	return job["jobUrl"].(string)
}

func (s *Server) addRoute(path string, h http.HandlerFunc, methods ...string) {
	s.routes[path] = route{handler: h, methods: methods}
}

func (s *Server) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		rt, exists := s.routes[r.URL.Path]
		s.mu.Unlock()

		if !exists {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not Found"})
			return
		}
		if !slices.Contains(rt.methods, r.Method) {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method Not Allowed"})
			return
		}

		var h http.Handler = rt.handler
		for _, m := range s.middleware {
			h = m(h)
		}
		h.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != s.username || pass != s.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="gnip"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := s.streamStatus
	activities := slices.Clone(s.activities)
	interval, keepAlive, repeat := s.interval, s.keepAlive, s.repeat
	if status == 0 {
		s.streams++
	}
	s.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for i := 0; i < len(activities) || (repeat && len(activities) > 0); i++ {
		line := activities[i%len(activities)] + "\r\n"
		if keepAlive {
			line += "\r\n"
		}
		if _, err := w.Write([]byte(line)); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-time.After(interval):
		}
	}
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{"rules": s.rules})
		return
	}

	var body struct {
		Rules []Rule `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}

	if r.URL.Query().Get("_method") == "delete" {
		s.rules = slices.DeleteFunc(s.rules, func(existing Rule) bool {
			return slices.ContainsFunc(body.Rules, func(d Rule) bool { return d.Value == existing.Value })
		})
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}

	for _, rule := range body.Rules {
		if strings.TrimSpace(rule.Value) == "" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "empty rule value"})
			return
		}
	}
	s.rules = append(s.rules, body.Rules...)
	writeJSON(w, http.StatusCreated, map[string]any{})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Method == http.MethodGet {
		jobs := make([]map[string]any, 0, len(s.jobs))
		for _, id := range slices.Sorted(maps.Keys(s.jobs)) {
			jobs = append(jobs, s.jobs[id])
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
		return
	}

	var job map[string]any
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}
	id := fmt.Sprintf("job%d", len(s.jobs)+1)
	s.addJobLocked(id, "opened", job)
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := s.jobs[id]
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, job)
		return
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}
	switch body.Status {
	case "accept":
		job["status"] = "accepted"
	case "reject":
		job["status"] = "rejected"
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status must be accept or reject"})
		return
	}
	job["statusMessage"] = "Job " + job["status"].(string)
	job["acceptedBy"] = s.username
	job["acceptedAt"] = "2016-01-05T11:00:00Z"
	writeJSON(w, http.StatusOK, job)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package httpapi

import (
	_ "embed"
	"encoding/json"
	"html/template"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"timesync/internal/scheduler"
	logx "timesync/pkg/logx"
)

//go:embed index.html
var indexHTML string

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

const (
	nextPrefix   = "Next Sync: "
	maxBodyBytes = 4 << 10
	upcomingN    = 5
	maxRunLimit  = 500
)

type statusResponse struct {
	Schedule        string                 `json:"schedule"`
	NextDescription string                 `json:"next_description"`
	Next            *time.Time             `json:"next,omitempty"`
	State           scheduler.State        `json:"state"`
	Running         bool                   `json:"running"`
	Timezone        string                 `json:"timezone"`
	PollInterval    string                 `json:"poll_interval"`
	Upcoming        []time.Time            `json:"upcoming,omitempty"`
	LastRun         *scheduler.HistoryItem `json:"last_run,omitempty"`
}

func (s *Server) nextLine() string { return nextPrefix + s.sched.GetNextRunDescription() }

// handleIndex renders the status page. An expr query parameter sets the
// schedule and answers with the next-sync line.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Has("expr") {
		s.setSchedule(w, r.URL.Query().Get("expr"))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := indexTmpl.Execute(w, struct{ Expr, NextLine string }{s.sched.GetScheduleText(), s.nextLine()})
	if err != nil {
		s.log.Warn("status page render failed", logx.Err(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.sched.Snapshot()
	resp := statusResponse{
		Schedule:        snap.Expr,
		NextDescription: s.sched.GetNextRunDescription(),
		State:           snap.State,
		Running:         snap.Running,
		Timezone:        snap.Timezone,
		PollInterval:    snap.PollInterval.String(),
		Upcoming:        s.sched.Upcoming(upcomingN),
		LastRun:         snap.LastRun,
	}
	if snap.HasNext {
		next := snap.Next
		resp.Next = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeText(w, http.StatusNotFound, "run history disabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeText(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunLimit)
	}
	runs, err := s.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		s.log.Warn("read run history failed", logx.Err(err))
		writeText(w, http.StatusInternalServerError, "read run history failed")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleSetSchedule(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	expr, err := readExpr(r)
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}
	s.setSchedule(w, expr)
}

func (s *Server) setSchedule(w http.ResponseWriter, expr string) {
	if !s.sched.SetSchedule(expr) {
		writeText(w, http.StatusBadRequest, "Invalid cron expression.\n"+s.nextLine())
		return
	}
	writeText(w, http.StatusOK, s.nextLine())
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if !s.trigger.Allow() {
		w.Header().Set("Retry-After", "60")
		writeText(w, http.StatusTooManyRequests, "Too many manual triggers; try again later.")
		return
	}
	if !s.sched.TriggerNow() {
		writeText(w, http.StatusConflict, "A synchronization is already running.")
		return
	}
	writeText(w, http.StatusAccepted, "Synchronization started.")
}

type exprBody struct {
	Expr *string `json:"expr"`
}

// readExpr accepts a JSON body {"expr": "..."} or a form field expr.
func readExpr(r *http.Request) (string, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body exprBody
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil && err != io.EOF {
			return "", errBadBody
		}
		if body.Expr == nil {
			return "", errMissingExpr
		}
		return *body.Expr, nil
	}
	if err := r.ParseForm(); err != nil {
		return "", errBadBody
	}
	if !r.Form.Has("expr") {
		return "", errMissingExpr
	}
	return r.FormValue("expr"), nil
}

type apiError string

func (e apiError) Error() string { return string(e) }

const (
	errBadBody     apiError = "malformed request body"
	errMissingExpr apiError = "missing expr"
)

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, strings.TrimRight(body, "\n")+"\n")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dental-counseling/internal/core"
	"dental-counseling/internal/db"
	"dental-counseling/internal/export"
	"dental-counseling/internal/logger"
	"dental-counseling/internal/roster"
	"dental-counseling/internal/transcript"
	"dental-counseling/pkg"
)

// maxBody bounds uploaded transcripts and rosters.
const maxBody = 10 << 20

// Listener yields ids of sessions whose SOAP note changed.
type Listener interface {
	Listen(ctx context.Context) (<-chan string, error)
}

// Server bundles together the dependencies required by HTTP handlers.  It
// implements http.Handler so it can be passed to http.ListenAndServe.
type Server struct {
	Repo     *db.Repository
	Orch     *core.Orchestrator
	Listener Listener // nil disables live SSE updates
	Log      *logger.Logger
	Loc      *time.Location
}

// NewServer constructs a Server.  loc is the clinic time zone used for
// timestamps that carry no offset.
func NewServer(repo *db.Repository, orch *core.Orchestrator, listener Listener, log *logger.Logger, loc *time.Location) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Server{Repo: repo, Orch: orch, Listener: listener, Log: log, Loc: loc}
}

// ServeHTTP dispatches incoming requests based on the URL path.  Minimal
// routing logic is implemented here to keep dependencies light.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/healthz" && r.Method == http.MethodGet:
		io.WriteString(w, "ok")
	// Roster import: POST /api/appointments/import
	case path == "/api/appointments/import" && r.Method == http.MethodPost:
		s.handleImportAppointments(w, r)
	case path == "/api/appointments" && r.Method == http.MethodGet:
		s.handleListAppointments(w, r)
	// Ingest a recording: POST /api/sessions
	case path == "/api/sessions" && r.Method == http.MethodPost:
		s.handleCreateSession(w, r)
	case path == "/api/sessions" && r.Method == http.MethodGet:
		s.handleSearchSessions(w, r)
	case strings.HasPrefix(path, "/api/sessions/"):
		// /api/sessions/{id}[/action]
		parts := strings.Split(strings.TrimPrefix(path, "/api/sessions/"), "/")
		sessionID := parts[0]
		action := ""
		if len(parts) > 1 {
			action = parts[1]
		}
		if sessionID == "" || len(parts) > 2 {
			http.NotFound(w, r)
			return
		}
		switch {
		case action == "" && r.Method == http.MethodGet:
			s.handleGetSession(w, r, sessionID)
		case action == "soap" && r.Method == http.MethodPut:
			s.handleReview(w, r, sessionID)
		case action == "export" && r.Method == http.MethodGet:
			s.handleExport(w, r, sessionID)
		case action == "stream" && r.Method == http.MethodGet:
			s.handleSSE(w, r, sessionID)
		default:
			http.NotFound(w, r)
		}
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Log.Warn("encode response failed", "error", err)
	}
}

// fail maps domain errors onto status codes.  Unexpected errors are logged
// and reported as 500 without detail.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, core.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, core.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.Log.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// handleImportAppointments loads a roster CSV.  Malformed rows are skipped
// and reported back.
func (s *Server) handleImportAppointments(w http.ResponseWriter, r *http.Request) {
	res, err := roster.ReadCSV(http.MaxBytesReader(w, r.Body, maxBody), s.Loc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n, err := s.Repo.ImportAppointments(r.Context(), res.Appointments)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.Log.Info("roster imported", "imported", n, "skipped", res.Skipped)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"imported": n,
		"skipped":  res.Skipped,
		"problems": res.Problems,
	})
}

func (s *Server) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	apts, err := s.Repo.ListAppointments(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if apts == nil {
		apts = []pkg.Appointment{}
	}
	s.writeJSON(w, http.StatusOK, apts)
}

type createSessionRequest struct {
	RecordingStart string          `json:"recording_start"`
	DoctorID       string          `json:"doctor_id"`
	DeviceID       string          `json:"device_id"`
	AudioFile      string          `json:"audio_file"`
	Format         string          `json:"format"`
	Transcript     string          `json:"transcript"`
	Utterances     []pkg.Utterance `json:"utterances"`
}

// handleCreateSession parses the uploaded transcript and runs it through the
// orchestrator.  Pre-parsed utterances may be sent instead of raw text.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	start, err := roster.ParseTimestamp(req.RecordingStart, s.Loc)
	if err != nil {
		http.Error(w, "recording_start: "+err.Error(), http.StatusBadRequest)
		return
	}
	utts := normalizePosted(req.Utterances)
	if len(utts) == 0 && strings.TrimSpace(req.Transcript) != "" {
		utts, err = transcript.Parse(req.Format, strings.NewReader(req.Transcript))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if len(utts) == 0 {
		http.Error(w, "transcript is empty", http.StatusBadRequest)
		return
	}
	doctorID := strings.TrimSpace(req.DoctorID)
	if doctorID == "" {
		doctorID = core.UnknownDoctor
	}
	rec, err := s.Orch.Process(r.Context(), pkg.Recording{
		RecordingStart: start,
		DoctorID:       doctorID,
		DeviceID:       req.DeviceID,
		AudioFile:      req.AudioFile,
		Utterances:     utts,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

// normalizePosted brings utterances posted as JSON into the stored form.
// Sequence numbers are assigned only when none were sent; explicit ones are
// left for validation.  Speakers are mapped onto patient, doctor or unknown
// from the label, or from a free-form speaker value such as "Patient", and a
// missing confidence gets the default.
func normalizePosted(utts []pkg.Utterance) []pkg.Utterance {
	autoSeq := true
	for _, u := range utts {
		if u.Sequence != 0 {
			autoSeq = false
			break
		}
	}
	out := make([]pkg.Utterance, len(utts))
	for i, u := range utts {
		if autoSeq {
			u.Sequence = i + 1
		}
		if u.Confidence == 0 {
			u.Confidence = pkg.DefaultUtteranceConfidence
		}
		switch u.Speaker {
		case pkg.SpeakerPatient, pkg.SpeakerDoctor:
		default:
			raw := strings.TrimSpace(string(u.Speaker))
			if u.SpeakerLabel == "" && raw != "" && pkg.Speaker(raw) != pkg.SpeakerUnknown {
				u.SpeakerLabel = raw
			}
			u.Speaker = transcript.NormalizeSpeaker(u.SpeakerLabel)
		}
		out[i] = u
	}
	return out
}

// handleSearchSessions lists sessions, newest recording first.
func (s *Server) handleSearchSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := pkg.SessionFilter{
		PatientID: q.Get("patient_id"),
		DoctorID:  q.Get("doctor_id"),
	}
	var err error
	if f.From, err = s.parseBound(q.Get("from"), false); err != nil {
		http.Error(w, "from: "+err.Error(), http.StatusBadRequest)
		return
	}
	if f.To, err = s.parseBound(q.Get("to"), true); err != nil {
		http.Error(w, "to: "+err.Error(), http.StatusBadRequest)
		return
	}
	sessions, err := s.Repo.SearchSessions(r.Context(), f)
	if err != nil {
		s.fail(w, err)
		return
	}
	if sessions == nil {
		sessions = []pkg.CounselingSession{}
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

// parseBound accepts a timestamp or a bare YYYY-MM-DD date.  A bare date used
// as an upper bound covers the whole day.
func (s *Server) parseBound(v string, upper bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if d, err := time.ParseInLocation("2006-01-02", v, s.Loc); err == nil {
		if upper {
			d = d.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		d = d.UTC()
		return &d, nil
	}
	t, err := roster.ParseTimestamp(v, s.Loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := s.Repo.GetSession(r.Context(), sessionID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

type reviewRequest struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// handleReview stores a clinician-edited SOAP note.
func (s *Server) handleReview(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req reviewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	for name, v := range map[string]string{
		"subjective": req.Subjective, "objective": req.Objective,
		"assessment": req.Assessment, "plan": req.Plan,
	} {
		if strings.TrimSpace(v) == "" {
			http.Error(w, name+" is required", http.StatusBadRequest)
			return
		}
	}
	sess, err := s.Orch.Review(r.Context(), sessionID, pkg.SOAPNote{
		Subjective: req.Subjective,
		Objective:  req.Objective,
		Assessment: req.Assessment,
		Plan:       req.Plan,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// handleExport returns the flat CSV row or the chart text for one session.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := s.Repo.GetSession(r.Context(), sessionID)
	if err != nil {
		s.fail(w, err)
		return
	}
	switch format := r.URL.Query().Get("format"); format {
	case "", "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="soap_%s.csv"`, sessionID))
		if err := export.WriteCSV(w, *sess); err != nil {
			s.Log.Warn("csv export failed", "session_id", sessionID, "error", err)
		}
	case "chart":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, export.FormatChart(*sess, s.Loc))
	default:
		http.Error(w, "format must be csv or chart", http.StatusBadRequest)
	}
}

// handleSSE streams soap_update events for a session.  The current note is
// sent first; later updates follow while a Listener is configured and the
// client stays connected.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	if _, err := s.Repo.GetSession(ctx, sessionID); err != nil {
		s.fail(w, err)
		return
	}
	var updates <-chan string
	if s.Listener != nil {
		var err error
		if updates, err = s.Listener.Listen(ctx); err != nil {
			s.fail(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := s.sendSOAPEvent(ctx, w, sessionID); err != nil {
		s.Log.Warn("failed to send soap event", "session_id", sessionID, "error", err)
		return
	}
	flusher.Flush()
	if updates == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-updates:
			if !ok {
				return
			}
			if id != sessionID {
				continue
			}
			if err := s.sendSOAPEvent(ctx, w, sessionID); err != nil {
				s.Log.Warn("failed to send soap event", "session_id", sessionID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// sendSOAPEvent writes a soap_update event carrying the session's current
// note.  Nothing is written while the session has no note yet.
func (s *Server) sendSOAPEvent(ctx context.Context, w io.Writer, sessionID string) error {
	sess, err := s.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.SOAP == nil {
		return nil
	}
	payload := map[string]any{
		"type":       "soap_update",
		"session_id": sessionID,
		"state":      sess.State,
		"soap":       sess.SOAP,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "event: soap_update\ndata: "+string(data)+"\n\n")
	return err
}

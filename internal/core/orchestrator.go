package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dental-counseling/internal/llm"
	"dental-counseling/internal/logger"
	"dental-counseling/pkg"
)

// Store is the persistence collaborator.  Implementations own any locking
// around concurrent writes to the same session or appointment.
type Store interface {
	SaveSession(ctx context.Context, sess *pkg.CounselingSession) (string, error)
	GetSession(ctx context.Context, id string) (*pkg.CounselingSession, error)
	SearchSessions(ctx context.Context, f pkg.SessionFilter) ([]pkg.CounselingSession, error)
	AppointmentsBetween(ctx context.Context, from, to time.Time) ([]pkg.Appointment, error)
	MarkAppointmentMatched(ctx context.Context, appointmentID string) error
}

// Notifier announces that a session's SOAP note changed.
type Notifier interface {
	Notify(ctx context.Context, sessionID string) error
}

// Config is everything the orchestrator needs besides its collaborators.
type Config struct {
	ToleranceMinutes int
	Retry            RetryPolicy
	BatchConcurrency int
}

// Orchestrator turns recordings into clinical records.  The AI analyst is
// tried first for identification, SOAP and quality; any failure falls back to
// the deterministic rule-based components.
type Orchestrator struct {
	Store    Store
	Analyst  Analyst // nil runs rule-based only
	Notifier Notifier
	Log      *logger.Logger
	cfg      Config
	matcher  Matcher
	now      func() time.Time
}

// NewOrchestrator constructs an orchestrator.  analyst and notifier may be nil.
func NewOrchestrator(store Store, analyst Analyst, notifier Notifier, log *logger.Logger, cfg Config) *Orchestrator {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 4
	}
	return &Orchestrator{
		Store:    store,
		Analyst:  analyst,
		Notifier: notifier,
		Log:      log,
		cfg:      cfg,
		matcher:  NewMatcher(cfg.ToleranceMinutes),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Process runs one recording through matching, speaker attribution, name
// identification, SOAP extraction and quality scoring, then stores the
// session.  A recording that fails validation returns ErrInvalidInput.
func (o *Orchestrator) Process(ctx context.Context, rec pkg.Recording) (*pkg.ClinicalRecord, error) {
	if rec.RecordingStart.IsZero() {
		return nil, fmt.Errorf("%w: missing recording start time", ErrInvalidInput)
	}
	utts, skipped := dropEmpty(rec.Utterances)
	if err := ValidateUtterances(utts); err != nil {
		return nil, err
	}

	sess := &pkg.CounselingSession{
		ID:             uuid.New().String(),
		DoctorID:       rec.DoctorID,
		RecordingStart: rec.RecordingStart.UTC(),
		DeviceID:       rec.DeviceID,
		AudioFile:      rec.AudioFile,
		State:          pkg.StateCreated,
		CreatedAt:      o.now(),
	}
	log := o.Log.With("session_id", sess.ID, "doctor_id", rec.DoctorID)
	record := &pkg.ClinicalRecord{SkippedLines: skipped}

	match, matched, err := o.match(ctx, sess.RecordingStart, rec.DoctorID)
	if err != nil {
		return nil, err
	}
	if matched {
		apt := match.Appointment
		id := apt.AppointmentID
		sess.AppointmentID = &id
		sess.PatientID = apt.PatientID
		sess.PatientName = apt.PatientName
		sess.DoctorID = apt.DoctorID
		sess.DoctorName = apt.DoctorName
		sess.MatchConfidence = match.Confidence
		record.Match = match.Info()
		if err := Advance(sess, pkg.StateMatched); err != nil {
			return nil, err
		}
	} else {
		sess.NeedsReview = true
		if err := Advance(sess, pkg.StateUnmatched); err != nil {
			return nil, err
		}
		log.Warn("no appointment matched; flagged for manual review", "recording_start", sess.RecordingStart)
	}

	sess.Utterances = AttributeUnlabeled(utts)
	if err := Advance(sess, pkg.StateTranscribed); err != nil {
		return nil, err
	}
	conversation := Conversation(sess.Utterances)

	// one transport failure is enough to skip the AI for the rest of the session
	ai := &aiState{enabled: o.Analyst != nil}
	ident := o.identify(ctx, log, ai, sess.Utterances, conversation)
	record.Identification = ident
	if sess.PatientName == "" {
		sess.PatientName = ident.PatientName
	}
	if sess.DoctorName == "" {
		sess.DoctorName = ident.DoctorName
	}

	soap := o.soap(ctx, log, ai, sess.Utterances, conversation, pkg.Identification{
		PatientName: sess.PatientName,
		DoctorName:  sess.DoctorName,
	})
	sess.SOAP = &soap
	if err := Advance(sess, pkg.StateSOAPGenerated); err != nil {
		return nil, err
	}

	quality := o.quality(ctx, log, ai, sess.Utterances, conversation)
	sess.Quality = &quality

	if _, err := o.Store.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	// The session is already stored; failing here would make a client retry
	// store it twice.  The appointment link lives on the session itself.
	if matched {
		if err := o.Store.MarkAppointmentMatched(ctx, match.Appointment.AppointmentID); err != nil {
			log.Error("mark appointment matched failed", "appointment_id", match.Appointment.AppointmentID, "error", err)
		}
	}
	o.notify(ctx, log, sess.ID)

	log.Info("session processed",
		"matched", matched,
		"soap_method", soap.GenerationMethod,
		"quality_method", quality.Method,
		"utterances", len(sess.Utterances),
		"skipped", skipped,
	)
	record.Session = *sess
	return record, nil
}

// BatchResult is the outcome of ProcessBatch.  Records keeps input order for
// the recordings that succeeded.
type BatchResult struct {
	Records  []*pkg.ClinicalRecord
	Skipped  int
	Failures []error
}

// ProcessBatch processes independent recordings concurrently.  Invalid
// recordings are skipped and counted; other failures are collected.  It never
// aborts the batch because of one recording.
func (o *Orchestrator) ProcessBatch(ctx context.Context, recs []pkg.Recording) BatchResult {
	results := make([]*pkg.ClinicalRecord, len(recs))
	errs := make([]error, len(recs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.BatchConcurrency)
	for i := range recs {
		i := i
		g.Go(func() error {
			results[i], errs[i] = o.Process(gctx, recs[i])
			return nil
		})
	}
	_ = g.Wait()

	var out BatchResult
	for i := range recs {
		switch {
		case errs[i] == nil:
			out.Records = append(out.Records, results[i])
		case errors.Is(errs[i], ErrInvalidInput):
			out.Skipped++
			o.Log.Warn("recording skipped", "index", i, "error", errs[i])
		default:
			out.Failures = append(out.Failures, fmt.Errorf("recording %d: %w", i, errs[i]))
		}
	}
	return out
}

// Review stores a clinician-edited note.  The note is marked as reviewed and
// the session advances to the reviewed state.
func (o *Orchestrator) Review(ctx context.Context, sessionID string, edited pkg.SOAPNote) (*pkg.CounselingSession, error) {
	sess, err := o.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := Advance(sess, pkg.StateReviewed); err != nil {
		return nil, err
	}
	note := edited
	note.ReviewedByDoctor = true
	if sess.SOAP != nil {
		note.GenerationMethod = sess.SOAP.GenerationMethod
		note.Confidence = sess.SOAP.Confidence
		note.CreatedAt = sess.SOAP.CreatedAt
	} else {
		note.CreatedAt = o.now()
	}
	sess.SOAP = &note
	if _, err := o.Store.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("save reviewed session: %w", err)
	}
	o.notify(ctx, o.Log.With("session_id", sessionID), sessionID)
	return sess, nil
}

func (o *Orchestrator) match(ctx context.Context, start time.Time, doctorID string) (MatchResult, bool, error) {
	from, to := o.matcher.Window(start)
	apts, err := o.Store.AppointmentsBetween(ctx, from, to)
	if err != nil {
		return MatchResult{}, false, fmt.Errorf("load appointments: %w", err)
	}
	m, ok := o.matcher.Match(start, doctorID, apts)
	return m, ok, nil
}

// aiState tracks whether the analyst may still be asked during one Process
// call.
type aiState struct {
	enabled bool
}

// ask runs call under the retry policy.  It reports false when the analyst is
// absent, already given up on, or failed; a failure other than a malformed
// reply disables the analyst for the remaining steps.
func (o *Orchestrator) ask(ctx context.Context, log *logger.Logger, ai *aiState, step string, call func(ctx context.Context) error) bool {
	if !ai.enabled {
		return false
	}
	attempts, err := o.cfg.Retry.Do(ctx, call)
	if err == nil {
		return true
	}
	var verr *llm.ValidationError
	if !errors.As(err, &verr) {
		ai.enabled = false
	}
	log.Warn(step+" fell back to rules", "attempts", attempts, "error", err)
	return false
}

// fallbackMethod tags rule-based output: a fallback when an analyst is
// configured, plain rule_based otherwise.
func (o *Orchestrator) fallbackMethod() pkg.GenerationMethod {
	if o.Analyst != nil {
		return pkg.MethodRuleBasedFallback
	}
	return pkg.MethodRuleBased
}

func (o *Orchestrator) identify(ctx context.Context, log *logger.Logger, ai *aiState, utts []pkg.Utterance, conversation string) pkg.Identification {
	var out pkg.Identification
	if o.ask(ctx, log, ai, "identification", func(ctx context.Context) error {
		var err error
		out, err = o.Analyst.Identify(ctx, conversation)
		return err
	}) {
		return out
	}
	id := IdentifyNames(texts(utts))
	id.Method = o.fallbackMethod()
	return id
}

func (o *Orchestrator) soap(ctx context.Context, log *logger.Logger, ai *aiState, utts []pkg.Utterance, conversation string, names pkg.Identification) pkg.SOAPNote {
	var out pkg.SOAPNote
	if o.ask(ctx, log, ai, "soap generation", func(ctx context.Context) error {
		var err error
		out, err = o.Analyst.SOAP(ctx, conversation, names)
		return err
	}) {
		return out
	}
	note := ExtractSOAP(utts)
	note.GenerationMethod = o.fallbackMethod()
	return note
}

func (o *Orchestrator) quality(ctx context.Context, log *logger.Logger, ai *aiState, utts []pkg.Utterance, conversation string) pkg.QualityScores {
	var out pkg.QualityScores
	if o.ask(ctx, log, ai, "quality scoring", func(ctx context.Context) error {
		var err error
		out, err = o.Analyst.Quality(ctx, conversation)
		return err
	}) {
		return out
	}
	q := ScoreQuality(utts)
	q.Method = o.fallbackMethod()
	return q
}

func (o *Orchestrator) notify(ctx context.Context, log *logger.Logger, sessionID string) {
	if o.Notifier == nil {
		return
	}
	if err := o.Notifier.Notify(ctx, sessionID); err != nil {
		log.Warn("notify failed", "error", err)
	}
}

// dropEmpty removes utterances whose text is blank and reports how many were
// dropped.
func dropEmpty(utts []pkg.Utterance) ([]pkg.Utterance, int) {
	out := make([]pkg.Utterance, 0, len(utts))
	for _, u := range utts {
		if strings.TrimSpace(u.Text) == "" {
			continue
		}
		out = append(out, u)
	}
	return out, len(utts) - len(out)
}

func texts(utts []pkg.Utterance) string {
	parts := make([]string, len(utts))
	for i, u := range utts {
		parts[i] = u.Text
	}
	return strings.Join(parts, "\n")
}

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dental-counseling/pkg"
)

// ErrNotFound is returned when a session or appointment does not exist.
var ErrNotFound = errors.New("not found")

// Repository wraps database operations for appointments, sessions and their
// derived records.  Queries are written with ? placeholders and rebound for
// postgres, so the same code runs against postgres and sqlite.
type Repository struct {
	DB     *sql.DB
	Driver string
}

// NewRepository constructs a new Repository from an existing sql.DB.
// The caller is responsible for managing the DB connection lifecycle.
func NewRepository(db *sql.DB, driver string) *Repository {
	return &Repository{DB: db, Driver: driver}
}

// rebind rewrites ? placeholders to $n for postgres.
func (r *Repository) rebind(query string) string {
	if r.Driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// ImportAppointments inserts or replaces roster entries keyed by appointment id.
func (r *Repository) ImportAppointments(ctx context.Context, apts []pkg.Appointment) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	q := r.rebind(`INSERT INTO appointments
        (appointment_id, patient_id, patient_name, doctor_id, doctor_name, scheduled_datetime, treatment_type, status)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (appointment_id) DO UPDATE SET
            patient_id = excluded.patient_id,
            patient_name = excluded.patient_name,
            doctor_id = excluded.doctor_id,
            doctor_name = excluded.doctor_name,
            scheduled_datetime = excluded.scheduled_datetime,
            treatment_type = excluded.treatment_type,
            status = excluded.status`)
	for _, a := range apts {
		status := a.Status
		if status == "" {
			status = pkg.AppointmentScheduled
		}
		if _, err := tx.ExecContext(ctx, q,
			a.AppointmentID, a.PatientID, a.PatientName, a.DoctorID, a.DoctorName,
			a.ScheduledAt.UTC(), a.TreatmentType, string(status),
		); err != nil {
			return 0, fmt.Errorf("import appointment %s: %w", a.AppointmentID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(apts), nil
}

const appointmentColumns = `appointment_id, patient_id, patient_name, doctor_id, doctor_name, scheduled_datetime, treatment_type, status`

// ListAppointments returns every appointment ordered by scheduled time.
func (r *Repository) ListAppointments(ctx context.Context) ([]pkg.Appointment, error) {
	return r.queryAppointments(ctx,
		`SELECT `+appointmentColumns+` FROM appointments ORDER BY scheduled_datetime ASC, appointment_id ASC`)
}

// AppointmentsBetween returns appointments scheduled in [from, to].
func (r *Repository) AppointmentsBetween(ctx context.Context, from, to time.Time) ([]pkg.Appointment, error) {
	return r.queryAppointments(ctx,
		`SELECT `+appointmentColumns+` FROM appointments
         WHERE scheduled_datetime >= ? AND scheduled_datetime <= ?
         ORDER BY scheduled_datetime ASC, appointment_id ASC`,
		from.UTC(), to.UTC())
}

func (r *Repository) queryAppointments(ctx context.Context, query string, args ...any) ([]pkg.Appointment, error) {
	rows, err := r.DB.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pkg.Appointment
	for rows.Next() {
		var a pkg.Appointment
		var status string
		if err := rows.Scan(&a.AppointmentID, &a.PatientID, &a.PatientName, &a.DoctorID, &a.DoctorName,
			&a.ScheduledAt, &a.TreatmentType, &status); err != nil {
			return nil, err
		}
		a.ScheduledAt = a.ScheduledAt.UTC()
		a.Status = pkg.AppointmentStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkAppointmentMatched records that a session attached to the appointment.
// It does not check whether another session already claimed it.
func (r *Repository) MarkAppointmentMatched(ctx context.Context, appointmentID string) error {
	res, err := r.DB.ExecContext(ctx,
		r.rebind(`UPDATE appointments SET status = ? WHERE appointment_id = ?`),
		string(pkg.AppointmentMatched), appointmentID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("appointment %s: %w", appointmentID, ErrNotFound)
	}
	return nil
}

// SaveSession writes a session with its utterances, SOAP note and quality
// scores in one transaction.  Existing rows for the same id are replaced.
func (r *Repository) SaveSession(ctx context.Context, s *pkg.CounselingSession) (string, error) {
	if s.ID == "" {
		return "", errors.New("session id is required")
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var aptID sql.NullString
	if s.AppointmentID != nil {
		aptID = sql.NullString{String: *s.AppointmentID, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, r.rebind(`INSERT INTO counseling_sessions
        (session_id, appointment_id, patient_id, patient_name, doctor_id, doctor_name, recording_start_time,
         device_id, audio_file, state, needs_review, match_confidence, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (session_id) DO UPDATE SET
            appointment_id = excluded.appointment_id,
            patient_id = excluded.patient_id,
            patient_name = excluded.patient_name,
            doctor_id = excluded.doctor_id,
            doctor_name = excluded.doctor_name,
            recording_start_time = excluded.recording_start_time,
            device_id = excluded.device_id,
            audio_file = excluded.audio_file,
            state = excluded.state,
            needs_review = excluded.needs_review,
            match_confidence = excluded.match_confidence`),
		s.ID, aptID, s.PatientID, s.PatientName, s.DoctorID, s.DoctorName, s.RecordingStart.UTC(),
		s.DeviceID, s.AudioFile, string(s.State), s.NeedsReview, s.MatchConfidence, s.CreatedAt.UTC(),
	); err != nil {
		return "", fmt.Errorf("upsert session: %w", err)
	}

	if err := r.replaceUtterances(ctx, tx, s.ID, s.Utterances); err != nil {
		return "", err
	}
	if s.SOAP != nil {
		if err := r.upsertSOAP(ctx, tx, s.ID, s.SOAP); err != nil {
			return "", err
		}
	}
	if s.Quality != nil {
		if err := r.upsertQuality(ctx, tx, s.ID, s.Quality); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return s.ID, nil
}

func (r *Repository) replaceUtterances(ctx context.Context, tx *sql.Tx, id string, utts []pkg.Utterance) error {
	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM conversation_records WHERE session_id = ?`), id); err != nil {
		return fmt.Errorf("clear utterances: %w", err)
	}
	q := r.rebind(`INSERT INTO conversation_records
        (session_id, sequence_number, speaker, speaker_label, original_text, timestamp_start, timestamp_end, confidence)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, u := range utts {
		if _, err := tx.ExecContext(ctx, q, id, u.Sequence, string(u.Speaker), u.SpeakerLabel, u.Text,
			u.TimestampStart, u.TimestampEnd, u.Confidence); err != nil {
			return fmt.Errorf("insert utterance %d: %w", u.Sequence, err)
		}
	}
	return nil
}

func (r *Repository) upsertSOAP(ctx context.Context, tx *sql.Tx, id string, n *pkg.SOAPNote) error {
	_, err := tx.ExecContext(ctx, r.rebind(`INSERT INTO soap_records
        (session_id, subjective_text, objective_text, assessment_text, plan_text, confidence,
         generation_method, reviewed_by_doctor, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (session_id) DO UPDATE SET
            subjective_text = excluded.subjective_text,
            objective_text = excluded.objective_text,
            assessment_text = excluded.assessment_text,
            plan_text = excluded.plan_text,
            confidence = excluded.confidence,
            generation_method = excluded.generation_method,
            reviewed_by_doctor = excluded.reviewed_by_doctor,
            created_at = excluded.created_at`),
		id, n.Subjective, n.Objective, n.Assessment, n.Plan, n.Confidence,
		string(n.GenerationMethod), n.ReviewedByDoctor, n.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert soap: %w", err)
	}
	return nil
}

func (r *Repository) upsertQuality(ctx context.Context, tx *sql.Tx, id string, q *pkg.QualityScores) error {
	improvements, err := encodeList(q.Improvements)
	if err != nil {
		return err
	}
	positives, err := encodeList(q.Positives)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, r.rebind(`INSERT INTO quality_scores
        (session_id, success_possibility, patient_understanding, treatment_consent, overall_quality,
         improvements, positives, method)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (session_id) DO UPDATE SET
            success_possibility = excluded.success_possibility,
            patient_understanding = excluded.patient_understanding,
            treatment_consent = excluded.treatment_consent,
            overall_quality = excluded.overall_quality,
            improvements = excluded.improvements,
            positives = excluded.positives,
            method = excluded.method`),
		id, q.SuccessPossibility, q.PatientUnderstanding, q.TreatmentConsent, q.OverallQuality,
		improvements, positives, string(q.Method))
	if err != nil {
		return fmt.Errorf("upsert quality: %w", err)
	}
	return nil
}

const sessionSelect = `SELECT s.session_id, s.appointment_id, s.patient_id, s.patient_name, s.doctor_id, s.doctor_name,
        s.recording_start_time, s.device_id, s.audio_file, s.state, s.needs_review, s.match_confidence, s.created_at,
        n.subjective_text, n.objective_text, n.assessment_text, n.plan_text, n.confidence,
        n.generation_method, n.reviewed_by_doctor, n.created_at,
        q.success_possibility, q.patient_understanding, q.treatment_consent, q.overall_quality,
        q.improvements, q.positives, q.method
    FROM counseling_sessions s
    LEFT JOIN soap_records n ON n.session_id = s.session_id
    LEFT JOIN quality_scores q ON q.session_id = s.session_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*pkg.CounselingSession, error) {
	var (
		s        pkg.CounselingSession
		aptID    sql.NullString
		state    string
		subj     sql.NullString
		obj      sql.NullString
		assess   sql.NullString
		plan     sql.NullString
		soapConf sql.NullFloat64
		method   sql.NullString
		reviewed sql.NullBool
		soapAt   sql.NullTime
		success  sql.NullFloat64
		underst  sql.NullFloat64
		consent  sql.NullFloat64
		overall  sql.NullFloat64
		improve  sql.NullString
		positive sql.NullString
		qMethod  sql.NullString
	)
	if err := row.Scan(&s.ID, &aptID, &s.PatientID, &s.PatientName, &s.DoctorID, &s.DoctorName,
		&s.RecordingStart, &s.DeviceID, &s.AudioFile, &state, &s.NeedsReview, &s.MatchConfidence, &s.CreatedAt,
		&subj, &obj, &assess, &plan, &soapConf, &method, &reviewed, &soapAt,
		&success, &underst, &consent, &overall, &improve, &positive, &qMethod,
	); err != nil {
		return nil, err
	}
	if aptID.Valid {
		id := aptID.String
		s.AppointmentID = &id
	}
	s.State = pkg.SessionState(state)
	s.RecordingStart = s.RecordingStart.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	if method.Valid {
		s.SOAP = &pkg.SOAPNote{
			Subjective:       subj.String,
			Objective:        obj.String,
			Assessment:       assess.String,
			Plan:             plan.String,
			Confidence:       soapConf.Float64,
			GenerationMethod: pkg.GenerationMethod(method.String),
			ReviewedByDoctor: reviewed.Bool,
			CreatedAt:        soapAt.Time.UTC(),
		}
	}
	if qMethod.Valid {
		q := &pkg.QualityScores{
			SuccessPossibility:   success.Float64,
			PatientUnderstanding: underst.Float64,
			TreatmentConsent:     consent.Float64,
			OverallQuality:       overall.Float64,
			Method:               pkg.GenerationMethod(qMethod.String),
		}
		var err error
		if q.Improvements, err = decodeList(improve.String); err != nil {
			return nil, err
		}
		if q.Positives, err = decodeList(positive.String); err != nil {
			return nil, err
		}
		s.Quality = q
	}
	return &s, nil
}

// GetSession loads a session with its utterances, SOAP note and quality
// scores.  It returns ErrNotFound when the id is unknown.
func (r *Repository) GetSession(ctx context.Context, id string) (*pkg.CounselingSession, error) {
	s, err := scanSession(r.DB.QueryRowContext(ctx, r.rebind(sessionSelect+` WHERE s.session_id = ?`), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	utts, err := r.utterances(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Utterances = utts
	return s, nil
}

func (r *Repository) utterances(ctx context.Context, id string) ([]pkg.Utterance, error) {
	rows, err := r.DB.QueryContext(ctx, r.rebind(`SELECT sequence_number, speaker, speaker_label, original_text,
            timestamp_start, timestamp_end, confidence
        FROM conversation_records
        WHERE session_id = ?
        ORDER BY sequence_number ASC`), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pkg.Utterance
	for rows.Next() {
		var u pkg.Utterance
		var speaker string
		if err := rows.Scan(&u.Sequence, &speaker, &u.SpeakerLabel, &u.Text,
			&u.TimestampStart, &u.TimestampEnd, &u.Confidence); err != nil {
			return nil, err
		}
		u.Speaker = pkg.Speaker(speaker)
		out = append(out, u)
	}
	return out, rows.Err()
}

// SearchSessions returns sessions matching the filter, newest recording
// first.  Utterances are not loaded.
func (r *Repository) SearchSessions(ctx context.Context, f pkg.SessionFilter) ([]pkg.CounselingSession, error) {
	var where []string
	var args []any
	if f.PatientID != "" {
		where = append(where, "s.patient_id = ?")
		args = append(args, f.PatientID)
	}
	if f.DoctorID != "" {
		where = append(where, "s.doctor_id = ?")
		args = append(args, f.DoctorID)
	}
	if f.From != nil {
		where = append(where, "s.recording_start_time >= ?")
		args = append(args, f.From.UTC())
	}
	if f.To != nil {
		where = append(where, "s.recording_start_time <= ?")
		args = append(args, f.To.UTC())
	}
	query := sessionSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY s.recording_start_time DESC, s.session_id ASC"

	rows, err := r.DB.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pkg.CounselingSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func encodeList(items []string) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return out, nil
}

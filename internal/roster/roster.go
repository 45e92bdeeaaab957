// Package roster imports appointment lists exported from the clinic's
// booking system.
package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"dental-counseling/pkg"
)

// Result is the outcome of an import.  Skipped counts rows that could not be
// used; they never abort the import.
type Result struct {
	Appointments []pkg.Appointment
	Skipped      int
	Problems     []string
}

// header aliases; the booking system exports either English or Japanese
var columns = map[string][]string{
	"appointment_id": {"appointment_id", "予約id", "予約番号"},
	"patient_id":     {"patient_id", "患者id"},
	"patient_name":   {"patient_name", "患者名"},
	"doctor_id":      {"doctor_id", "担当医id", "医師id"},
	"doctor_name":    {"doctor_name", "担当医名", "医師名", "担当医"},
	"scheduled":      {"scheduled_datetime", "appointment_datetime", "予約日時"},
	"date":           {"appointment_date", "予約日"},
	"time":           {"appointment_time", "予約時間", "予約時刻"},
	"treatment_type": {"treatment_type", "治療内容", "治療種別"},
	"status":         {"status", "ステータス"},
}

var layouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
}

// ParseTimestamp accepts RFC3339 and the zone-less layouts booking systems
// and recorders emit.  Zone-less values are read in loc (UTC when nil).
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s = strings.TrimSpace(s)
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// ReadCSV parses a roster.  Rows missing an id, patient, doctor or a
// parseable time are skipped and counted.
func ReadCSV(r io.Reader, loc *time.Location) (Result, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("read roster header: %w", err)
	}
	col := resolve(header)
	if col["scheduled"] < 0 && (col["date"] < 0 || col["time"] < 0) {
		return Result{}, fmt.Errorf("roster has no scheduled_datetime or appointment_date/appointment_time columns")
	}

	var res Result
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				res.skip(line, err.Error())
				continue
			}
			return res, fmt.Errorf("read roster: %w", err)
		}
		get := func(name string) string { return strings.TrimSpace(field(rec, col[name])) }

		apt := pkg.Appointment{
			AppointmentID: get("appointment_id"),
			PatientID:     get("patient_id"),
			PatientName:   get("patient_name"),
			DoctorID:      get("doctor_id"),
			DoctorName:    get("doctor_name"),
			TreatmentType: get("treatment_type"),
			Status:        normalizeStatus(get("status")),
		}
		if apt.AppointmentID == "" || apt.PatientID == "" || apt.DoctorID == "" {
			res.skip(line, "missing appointment, patient or doctor id")
			continue
		}
		raw := get("scheduled")
		if raw == "" {
			raw = get("date") + " " + get("time")
		}
		at, err := ParseTimestamp(raw, loc)
		if err != nil {
			res.skip(line, err.Error())
			continue
		}
		apt.ScheduledAt = at
		res.Appointments = append(res.Appointments, apt)
	}
	return res, nil
}

func (r *Result) skip(line int, reason string) {
	r.Skipped++
	r.Problems = append(r.Problems, fmt.Sprintf("line %d: %s", line, reason))
}

func normalizeStatus(s string) pkg.AppointmentStatus {
	switch strings.ToLower(s) {
	case "matched", "照合済み":
		return pkg.AppointmentMatched
	case "cancelled", "canceled", "キャンセル":
		return pkg.AppointmentCancelled
	default:
		return pkg.AppointmentScheduled
	}
}

func resolve(header []string) map[string]int {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := pos[h]; !dup {
			pos[h] = i
		}
	}
	out := make(map[string]int, len(columns))
	for name, aliases := range columns {
		out[name] = -1
		for _, a := range aliases {
			if i, ok := pos[a]; ok {
				out[name] = i
				break
			}
		}
	}
	return out
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

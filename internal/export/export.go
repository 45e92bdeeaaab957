// Package export flattens sessions for downstream billing and chart systems.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"dental-counseling/pkg"
)

// Header is the fixed column order of the flat export.
var Header = []string{
	"patient_id", "patient_name", "doctor_id", "doctor_name", "recording_time",
	"subjective", "objective", "assessment", "plan",
}

// Row is one exported session.
type Row struct {
	PatientID     string
	PatientName   string
	DoctorID      string
	DoctorName    string
	RecordingTime time.Time
	SOAP          pkg.SOAPNote
}

// RowFor flattens a session.  A session without a note exports empty
// sections.
func RowFor(s pkg.CounselingSession) Row {
	r := Row{
		PatientID:     s.PatientID,
		PatientName:   s.PatientName,
		DoctorID:      s.DoctorID,
		DoctorName:    s.DoctorName,
		RecordingTime: s.RecordingStart.UTC(),
	}
	if s.SOAP != nil {
		r.SOAP = pkg.SOAPNote{
			Subjective: s.SOAP.Subjective,
			Objective:  s.SOAP.Objective,
			Assessment: s.SOAP.Assessment,
			Plan:       s.SOAP.Plan,
		}
	}
	return r
}

// WriteCSV writes the header followed by one row per session.
func WriteCSV(w io.Writer, sessions ...pkg.CounselingSession) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, s := range sessions {
		r := RowFor(s)
		if err := cw.Write([]string{
			r.PatientID, r.PatientName, r.DoctorID, r.DoctorName,
			r.RecordingTime.Format(time.RFC3339),
			r.SOAP.Subjective, r.SOAP.Objective, r.SOAP.Assessment, r.SOAP.Plan,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads rows written by WriteCSV.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read export header: %w", err)
	}
	for i, h := range Header {
		if header[i] != h {
			return nil, fmt.Errorf("export column %d is %q, want %q", i, header[i], h)
		}
	}
	var out []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read export: %w", err)
		}
		at, err := time.Parse(time.RFC3339, rec[4])
		if err != nil {
			return nil, fmt.Errorf("recording_time: %w", err)
		}
		out = append(out, Row{
			PatientID:     rec[0],
			PatientName:   rec[1],
			DoctorID:      rec[2],
			DoctorName:    rec[3],
			RecordingTime: at.UTC(),
			SOAP: pkg.SOAPNote{
				Subjective: rec[5],
				Objective:  rec[6],
				Assessment: rec[7],
				Plan:       rec[8],
			},
		})
	}
}

// FormatChart renders the note as the text block pasted into the practice
// management system.  loc controls the displayed time; nil means UTC.
func FormatChart(s pkg.CounselingSession, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	note := pkg.SOAPNote{}
	if s.SOAP != nil {
		note = *s.SOAP
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[Counseling record]\n")
	fmt.Fprintf(&b, "Date: %s\n", s.RecordingStart.In(loc).Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Patient: %s (%s)\n", s.PatientName, s.PatientID)
	fmt.Fprintf(&b, "Doctor: %s (%s)\n\n", s.DoctorName, s.DoctorID)
	fmt.Fprintf(&b, "S (subjective):\n%s\n\n", note.Subjective)
	fmt.Fprintf(&b, "O (objective):\n%s\n\n", note.Objective)
	fmt.Fprintf(&b, "A (assessment):\n%s\n\n", note.Assessment)
	fmt.Fprintf(&b, "P (plan):\n%s\n\n", note.Plan)
	if note.ReviewedByDoctor {
		b.WriteString("* Reviewed by the treating doctor\n")
	} else {
		fmt.Fprintf(&b, "* Generated record (%s), requires clinician confirmation\n", note.GenerationMethod)
	}
	fmt.Fprintf(&b, "Confidence: %.1f%%\n", note.Confidence*100)
	return b.String()
}

package core

import (
	"math"
	"sort"
	"time"

	"dental-counseling/pkg"
)

// DefaultToleranceMinutes is the matching window used when none is configured.
const DefaultToleranceMinutes = 5

// UnknownDoctor (or an empty id) disables the doctor filter when the recording
// device could not report its operator.
const UnknownDoctor = "unknown"

// MatchResult is a successful appointment match.
type MatchResult struct {
	Appointment  pkg.Appointment
	DeltaMinutes float64
	Confidence   float64
	Candidates   int
}

// Info converts the result into the form stored on a clinical record.
func (m MatchResult) Info() *pkg.MatchInfo {
	return &pkg.MatchInfo{
		AppointmentID: m.Appointment.AppointmentID,
		ScheduledAt:   m.Appointment.ScheduledAt,
		DeltaMinutes:  m.DeltaMinutes,
		Confidence:    m.Confidence,
		Candidates:    m.Candidates,
	}
}

// Matcher pairs a recording with the scheduled appointment it most likely
// belongs to.
type Matcher struct {
	ToleranceMinutes int
}

// NewMatcher returns a Matcher.  Non-positive tolerances fall back to
// DefaultToleranceMinutes.
func NewMatcher(toleranceMinutes int) Matcher {
	if toleranceMinutes <= 0 {
		toleranceMinutes = DefaultToleranceMinutes
	}
	return Matcher{ToleranceMinutes: toleranceMinutes}
}

// Window returns the closed interval of scheduled times that can match a
// recording starting at start.
func (m Matcher) Window(start time.Time) (time.Time, time.Time) {
	tol := time.Duration(m.tolerance()) * time.Minute
	return start.Add(-tol), start.Add(tol)
}

// Match finds the appointment for a recording.  The boolean is false when no
// appointment falls inside the window, which callers should flag for manual
// review rather than treat as an error.
//
// Appointments with a zero scheduled time (unparseable in the source roster)
// never become candidates.  Status is not consulted, so an appointment that
// already matched one session can match another.  Among several
// candidates the nearest wins; equal distances are broken by ascending
// appointment id.
func (m Matcher) Match(start time.Time, doctorID string, appointments []pkg.Appointment) (MatchResult, bool) {
	tol := float64(m.tolerance())

	type candidate struct {
		apt   pkg.Appointment
		delta float64
	}
	var cands []candidate
	for _, a := range appointments {
		if a.ScheduledAt.IsZero() {
			continue
		}
		if doctorID != "" && doctorID != UnknownDoctor && a.DoctorID != doctorID {
			continue
		}
		delta := math.Abs(a.ScheduledAt.Sub(start).Minutes())
		if delta > tol {
			continue
		}
		cands = append(cands, candidate{apt: a, delta: delta})
	}

	switch len(cands) {
	case 0:
		return MatchResult{}, false
	case 1:
		c := cands[0]
		return MatchResult{
			Appointment:  c.apt,
			DeltaMinutes: c.delta,
			Confidence:   math.Max(0.5, 1.0-(c.delta/tol)*0.5),
			Candidates:   1,
		}, true
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].delta != cands[j].delta {
			return cands[i].delta < cands[j].delta
		}
		return cands[i].apt.AppointmentID < cands[j].apt.AppointmentID
	})
	best := cands[0]
	return MatchResult{
		Appointment:  best.apt,
		DeltaMinutes: best.delta,
		Confidence:   math.Max(0.3, 1.0-(best.delta/tol)*0.7),
		Candidates:   len(cands),
	}, true
}

func (m Matcher) tolerance() int {
	if m.ToleranceMinutes <= 0 {
		return DefaultToleranceMinutes
	}
	return m.ToleranceMinutes
}

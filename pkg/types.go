package pkg

import "time"

// Speaker is the conversational role attributed to an utterance.
type Speaker string

const (
	SpeakerPatient Speaker = "patient"
	SpeakerDoctor  Speaker = "doctor"
	SpeakerUnknown Speaker = "unknown"
)

// DefaultUtteranceConfidence is used when the transcript source supplies no
// recognition confidence.
const DefaultUtteranceConfidence = 0.9

// Utterance is one spoken turn.  Sequence numbers start at 1 and follow the
// order of speech; insertion order is chronological order.
type Utterance struct {
	Sequence       int     `json:"sequence"`
	Speaker        Speaker `json:"speaker"`
	SpeakerLabel   string  `json:"speaker_label"`
	Text           string  `json:"text"`
	TimestampStart string  `json:"timestamp_start,omitempty"`
	TimestampEnd   string  `json:"timestamp_end,omitempty"`
	Confidence     float64 `json:"confidence"`
}

// AppointmentStatus tracks whether a scheduled appointment has been claimed
// by a recorded session.
type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentMatched   AppointmentStatus = "matched"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Appointment is a roster entry imported from the clinic's booking system.
type Appointment struct {
	AppointmentID string            `json:"appointment_id"`
	PatientID     string            `json:"patient_id"`
	PatientName   string            `json:"patient_name"`
	DoctorID      string            `json:"doctor_id"`
	DoctorName    string            `json:"doctor_name"`
	ScheduledAt   time.Time         `json:"scheduled_datetime"`
	TreatmentType string            `json:"treatment_type"`
	Status        AppointmentStatus `json:"status"`
}

// GenerationMethod records how a SOAP note (or score set) was produced.
type GenerationMethod string

const (
	MethodAIGenerated       GenerationMethod = "ai_generated"
	MethodRuleBased         GenerationMethod = "rule_based"
	MethodRuleBasedFallback GenerationMethod = "rule_based_fallback"
)

// SOAPNote is the structured clinical note for one session.
type SOAPNote struct {
	Subjective       string           `json:"subjective"`
	Objective        string           `json:"objective"`
	Assessment       string           `json:"assessment"`
	Plan             string           `json:"plan"`
	Confidence       float64          `json:"confidence"`
	GenerationMethod GenerationMethod `json:"generation_method"`
	ReviewedByDoctor bool             `json:"reviewed_by_doctor"`
	CreatedAt        time.Time        `json:"created_at"`
}

// QualityScores rates a counseling conversation.  All scores lie in [0,1].
type QualityScores struct {
	SuccessPossibility   float64          `json:"success_possibility"`
	PatientUnderstanding float64          `json:"patient_understanding"`
	TreatmentConsent     float64          `json:"treatment_consent"`
	OverallQuality       float64          `json:"overall_quality"`
	Improvements         []string         `json:"improvements,omitempty"`
	Positives            []string         `json:"positives,omitempty"`
	Method               GenerationMethod `json:"method"`
}

// Identification holds the patient and doctor names found in a conversation.
type Identification struct {
	PatientName       string           `json:"patient_name"`
	DoctorName        string           `json:"doctor_name"`
	ConfidencePatient float64          `json:"confidence_patient"`
	ConfidenceDoctor  float64          `json:"confidence_doctor"`
	Method            GenerationMethod `json:"method"`
}

// SessionState is the lifecycle position of a counseling session.  States only
// move forward.
type SessionState string

const (
	StateCreated       SessionState = "created"
	StateMatched       SessionState = "matched"
	StateUnmatched     SessionState = "unmatched"
	StateTranscribed   SessionState = "transcribed"
	StateSOAPGenerated SessionState = "soap_generated"
	StateReviewed      SessionState = "reviewed"
)

// CounselingSession is one recorded counseling conversation together with
// everything derived from it.
type CounselingSession struct {
	ID              string         `json:"session_id"`
	AppointmentID   *string        `json:"appointment_id,omitempty"`
	PatientID       string         `json:"patient_id"`
	PatientName     string         `json:"patient_name"`
	DoctorID        string         `json:"doctor_id"`
	DoctorName      string         `json:"doctor_name"`
	RecordingStart  time.Time      `json:"recording_start_time"`
	DeviceID        string         `json:"device_id,omitempty"`
	AudioFile       string         `json:"audio_file,omitempty"`
	State           SessionState   `json:"state"`
	NeedsReview     bool           `json:"needs_review"`
	MatchConfidence float64        `json:"match_confidence"`
	Utterances      []Utterance    `json:"utterances,omitempty"`
	SOAP            *SOAPNote      `json:"soap,omitempty"`
	Quality         *QualityScores `json:"quality,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// SessionFilter narrows a session search.  Zero values mean "any".
type SessionFilter struct {
	PatientID string
	DoctorID  string
	From      *time.Time
	To        *time.Time
}

// Recording is the input to the orchestrator: recording metadata plus the
// parsed transcript.
type Recording struct {
	RecordingStart time.Time   `json:"recording_start"`
	DoctorID       string      `json:"doctor_id"`
	DeviceID       string      `json:"device_id,omitempty"`
	AudioFile      string      `json:"audio_file,omitempty"`
	Utterances     []Utterance `json:"utterances"`
}

// MatchInfo describes the appointment a session was attached to.
type MatchInfo struct {
	AppointmentID string    `json:"appointment_id"`
	ScheduledAt   time.Time `json:"scheduled_datetime"`
	DeltaMinutes  float64   `json:"delta_minutes"`
	Confidence    float64   `json:"confidence"`
	Candidates    int       `json:"candidates"`
}

// ClinicalRecord is the combined artifact produced for one recording.
type ClinicalRecord struct {
	Session        CounselingSession `json:"session"`
	Match          *MatchInfo        `json:"match,omitempty"`
	Identification Identification    `json:"identification"`
	SkippedLines   int               `json:"skipped_utterances"`
}

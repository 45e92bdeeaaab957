package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidationError reports an AI reply that does not have the expected shape.
// It is the single signal for "malformed external response".
type ValidationError struct {
	Shape  string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s response: %s", e.Shape, e.Reason)
	}
	return fmt.Sprintf("invalid %s response: %s: %s", e.Shape, e.Field, e.Reason)
}

// SOAPResponse is a validated SOAP reply.
type SOAPResponse struct {
	Subjective string
	Objective  string
	Assessment string
	Plan       string
	Confidence float64
}

// IdentificationResponse is a validated name identification reply.
type IdentificationResponse struct {
	PatientName       string
	DoctorName        string
	ConfidencePatient float64
	ConfidenceDoctor  float64
}

// QualityResponse is a validated quality scoring reply.
type QualityResponse struct {
	SuccessPossibility   float64
	PatientUnderstanding float64
	TreatmentConsent     float64
	OverallQuality       float64
	Improvements         []string
	Positives            []string
}

// DecodeSOAP validates a SOAP reply.  All four sections must be non-empty
// strings and confidence must lie in [0,1].
func DecodeSOAP(raw string) (SOAPResponse, error) {
	const shape = "soap"
	var wire struct {
		Subjective *string  `json:"subjective"`
		Objective  *string  `json:"objective"`
		Assessment *string  `json:"assessment"`
		Plan       *string  `json:"plan"`
		Confidence *float64 `json:"confidence"`
	}
	if err := unmarshalObject(shape, raw, &wire); err != nil {
		return SOAPResponse{}, err
	}
	var out SOAPResponse
	var err error
	if out.Subjective, err = requireText(shape, "subjective", wire.Subjective); err != nil {
		return SOAPResponse{}, err
	}
	if out.Objective, err = requireText(shape, "objective", wire.Objective); err != nil {
		return SOAPResponse{}, err
	}
	if out.Assessment, err = requireText(shape, "assessment", wire.Assessment); err != nil {
		return SOAPResponse{}, err
	}
	if out.Plan, err = requireText(shape, "plan", wire.Plan); err != nil {
		return SOAPResponse{}, err
	}
	if out.Confidence, err = requireScore(shape, "confidence", wire.Confidence); err != nil {
		return SOAPResponse{}, err
	}
	return out, nil
}

// DecodeIdentification validates a name identification reply.
func DecodeIdentification(raw string) (IdentificationResponse, error) {
	const shape = "identification"
	var wire struct {
		PatientName       *string  `json:"patient_name"`
		DoctorName        *string  `json:"doctor_name"`
		ConfidencePatient *float64 `json:"confidence_patient"`
		ConfidenceDoctor  *float64 `json:"confidence_doctor"`
	}
	if err := unmarshalObject(shape, raw, &wire); err != nil {
		return IdentificationResponse{}, err
	}
	var out IdentificationResponse
	var err error
	if out.PatientName, err = requireText(shape, "patient_name", wire.PatientName); err != nil {
		return IdentificationResponse{}, err
	}
	if out.DoctorName, err = requireText(shape, "doctor_name", wire.DoctorName); err != nil {
		return IdentificationResponse{}, err
	}
	if out.ConfidencePatient, err = requireScore(shape, "confidence_patient", wire.ConfidencePatient); err != nil {
		return IdentificationResponse{}, err
	}
	if out.ConfidenceDoctor, err = requireScore(shape, "confidence_doctor", wire.ConfidenceDoctor); err != nil {
		return IdentificationResponse{}, err
	}
	return out, nil
}

// DecodeQuality validates a quality scoring reply.  The four scores are
// required; the feedback lists are optional.
func DecodeQuality(raw string) (QualityResponse, error) {
	const shape = "quality"
	var wire struct {
		SuccessPossibility   *float64 `json:"success_possibility"`
		PatientUnderstanding *float64 `json:"patient_understanding"`
		TreatmentConsent     *float64 `json:"treatment_consent"`
		OverallQuality       *float64 `json:"overall_quality"`
		Improvements         []string `json:"improvements"`
		Positives            []string `json:"positives"`
	}
	if err := unmarshalObject(shape, raw, &wire); err != nil {
		return QualityResponse{}, err
	}
	var out QualityResponse
	var err error
	if out.SuccessPossibility, err = requireScore(shape, "success_possibility", wire.SuccessPossibility); err != nil {
		return QualityResponse{}, err
	}
	if out.PatientUnderstanding, err = requireScore(shape, "patient_understanding", wire.PatientUnderstanding); err != nil {
		return QualityResponse{}, err
	}
	if out.TreatmentConsent, err = requireScore(shape, "treatment_consent", wire.TreatmentConsent); err != nil {
		return QualityResponse{}, err
	}
	if out.OverallQuality, err = requireScore(shape, "overall_quality", wire.OverallQuality); err != nil {
		return QualityResponse{}, err
	}
	out.Improvements = nonEmpty(wire.Improvements)
	out.Positives = nonEmpty(wire.Positives)
	return out, nil
}

// unmarshalObject decodes the first JSON object in raw.  Models often wrap
// their answer in a markdown fence or a sentence, so everything outside the
// outermost braces is ignored.
func unmarshalObject(shape, raw string, v any) error {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return &ValidationError{Shape: shape, Reason: "no JSON object in reply"}
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), v); err != nil {
		return &ValidationError{Shape: shape, Reason: err.Error()}
	}
	return nil
}

func requireText(shape, field string, v *string) (string, error) {
	if v == nil {
		return "", &ValidationError{Shape: shape, Field: field, Reason: "missing"}
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return "", &ValidationError{Shape: shape, Field: field, Reason: "empty"}
	}
	return s, nil
}

func requireScore(shape, field string, v *float64) (float64, error) {
	if v == nil {
		return 0, &ValidationError{Shape: shape, Field: field, Reason: "missing"}
	}
	if *v < 0 || *v > 1 {
		return 0, &ValidationError{Shape: shape, Field: field, Reason: fmt.Sprintf("%v out of range [0,1]", *v)}
	}
	return *v, nil
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

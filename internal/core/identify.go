package core

import (
	"regexp"

	"dental-counseling/pkg"
)

// Default names used when nothing better is found.
const (
	DefaultPatientName = "patient"
	DefaultDoctorName  = "doctor"
)

var (
	patientNamePatterns = []*regexp.Regexp{
		regexp.MustCompile(`([一-龯ぁ-んァ-ン]{2,6})[さ様]`),
		regexp.MustCompile(`患者[：:\s]*([一-龯ぁ-んァ-ン]{2,5})`),
		regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Miss)\.?\s+([A-Z][A-Za-z'-]{1,20})`),
	}
	doctorNamePatterns = []*regexp.Regexp{
		regexp.MustCompile(`([一-龯ぁ-んァ-ン]{2,6})\s*先生`),
		regexp.MustCompile(`\bDr(?:\.\s*|\s+)([一-龯A-Za-z]{2,20})`),
	}
)

// IdentifyNames extracts patient and doctor names with regular expressions.
// Found names get confidence 0.7, defaults 0.3.
func IdentifyNames(conversation string) pkg.Identification {
	id := pkg.Identification{
		PatientName:       DefaultPatientName,
		DoctorName:        DefaultDoctorName,
		ConfidencePatient: 0.3,
		ConfidenceDoctor:  0.3,
		Method:            pkg.MethodRuleBased,
	}
	if name, ok := firstMatch(patientNamePatterns, conversation); ok {
		id.PatientName = name
		id.ConfidencePatient = 0.7
	}
	if name, ok := firstMatch(doctorNamePatterns, conversation); ok {
		id.DoctorName = name
		id.ConfidenceDoctor = 0.7
	}
	return id
}

func firstMatch(patterns []*regexp.Regexp, text string) (string, bool) {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 && m[1] != "" {
			return m[1], true
		}
	}
	return "", false
}

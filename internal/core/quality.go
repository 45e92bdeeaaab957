package core

import (
	"math"
	"strings"

	"dental-counseling/pkg"
)

// ScoreQuality rates how likely the patient is to accept treatment, how well
// they understood the explanation, and how close they are to consenting.
//
// Keyword counts come from the concatenated patient utterances; each
// vocabulary term counts once however often it occurs.  The treatment
// discussion bonus looks at the whole transcript.  Scores are rounded to two
// decimals; the overall score is computed before rounding.
func ScoreQuality(utts []pkg.Utterance) pkg.QualityScores {
	var patientParts, allParts []string
	patientTurns, doctorTurns := 0, 0
	for _, u := range utts {
		allParts = append(allParts, u.Text)
		switch u.Speaker {
		case pkg.SpeakerPatient:
			patientParts = append(patientParts, u.Text)
			patientTurns++
		case pkg.SpeakerDoctor:
			doctorTurns++
		}
	}
	patientText := strings.Join(patientParts, " ")
	patientLower := strings.ToLower(patientText)
	fullText := strings.Join(allParts, " ")
	fullLower := strings.ToLower(fullText)

	accept := float64(countTerms(patientText, patientLower, acceptanceKeywords))
	hesitate := float64(countTerms(patientText, patientLower, hesitationKeywords))
	success := clamp(0.1, 0.9, (accept-hesitate*0.5)/3+0.3)

	understood := float64(countTerms(patientText, patientLower, understandingKeywords))
	confused := float64(countTerms(patientText, patientLower, confusionKeywords))
	understanding := clamp(0.1, 0.9, understood/(understood+confused+1)+0.4)

	bonus := 0.0
	if anyTerm(fullText, fullLower, treatmentDiscussionKeywords) {
		bonus = 0.2
	}
	consent := clamp(0.2, 0.8, success*0.7+bonus)

	overall := 0.4*success + 0.3*understanding + 0.3*consent

	var improvements, positives []string
	if success < 0.5 {
		improvements = append(improvements, "explain the benefits of treatment to raise the patient's motivation")
	}
	if understanding < 0.6 {
		improvements = append(improvements, "use plainer explanations")
	}
	if consent < 0.5 {
		improvements = append(improvements, "present a concrete treatment plan")
	}
	if success > 0.7 {
		positives = append(positives, "patient is positive about treatment")
	}
	if understanding > 0.7 {
		positives = append(positives, "patient understanding is good")
	}
	if doctorTurns > patientTurns {
		positives = append(positives, "doctor explained thoroughly")
	}
	if len(improvements) == 0 {
		improvements = []string{"conversation went well overall"}
	}
	if len(positives) == 0 {
		positives = []string{"basic communication established"}
	}

	return pkg.QualityScores{
		SuccessPossibility:   round2(success),
		PatientUnderstanding: round2(understanding),
		TreatmentConsent:     round2(consent),
		OverallQuality:       round2(overall),
		Improvements:         improvements,
		Positives:            positives,
		Method:               pkg.MethodRuleBased,
	}
}

func clamp(lo, hi, v float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

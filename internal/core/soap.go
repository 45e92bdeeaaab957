package core

import (
	"strings"
	"time"

	"dental-counseling/pkg"
)

// Section caps.  The rule-based note keeps the first few matching utterances
// per section so its length is bounded.
const (
	SubjectiveCap = 3
	ObjectiveCap  = 3
	AssessmentCap = 2
	PlanCap       = 3
)

// Placeholders substituted for sections with no matching utterance.
const (
	PlaceholderSubjective = "no chief complaint recorded"
	PlaceholderObjective  = "no notable findings"
	PlaceholderAssessment = "requires further diagnosis"
	PlaceholderPlan       = "treatment plan pending"
)

const sectionSeparator = "; "

// ExtractSOAP builds a SOAP note from keyword matches.  Patient utterances feed
// the subjective section; each doctor utterance is tested independently
// against the objective, assessment and plan vocabularies and may land in
// several sections.  Unknown speakers are ignored.
//
// Confidence grows by 0.25 for every section that is not a placeholder.  The
// method is always rule_based; the orchestrator retags fallbacks.
func ExtractSOAP(utts []pkg.Utterance) pkg.SOAPNote {
	var s, o, a, p []string
	for _, u := range utts {
		text := u.Text
		lower := strings.ToLower(text)
		switch u.Speaker {
		case pkg.SpeakerPatient:
			if anyTerm(text, lower, subjectiveTerms) {
				s = append(s, text)
			}
		case pkg.SpeakerDoctor:
			if anyTerm(text, lower, objectiveTerms) {
				o = append(o, text)
			}
			if anyTerm(text, lower, assessmentTerms) {
				a = append(a, text)
			}
			if anyTerm(text, lower, planTerms) {
				p = append(p, text)
			}
		}
	}

	note := pkg.SOAPNote{
		Subjective:       summarize(s, SubjectiveCap, PlaceholderSubjective),
		Objective:        summarize(o, ObjectiveCap, PlaceholderObjective),
		Assessment:       summarize(a, AssessmentCap, PlaceholderAssessment),
		Plan:             summarize(p, PlanCap, PlaceholderPlan),
		GenerationMethod: pkg.MethodRuleBased,
		CreatedAt:        time.Now().UTC(),
	}
	for _, bucket := range [][]string{s, o, a, p} {
		if len(bucket) > 0 {
			note.Confidence += 0.25
		}
	}
	return note
}

func summarize(bucket []string, limit int, placeholder string) string {
	if len(bucket) == 0 {
		return placeholder
	}
	if len(bucket) > limit {
		bucket = bucket[:limit]
	}
	return strings.Join(bucket, sectionSeparator)
}

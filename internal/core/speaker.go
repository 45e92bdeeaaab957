package core

import (
	"strings"

	"dental-counseling/pkg"
)

// AttributeSpeaker guesses who said text by counting patient and doctor
// marker phrases.  Ties, including the empty string, resolve to unknown.
func AttributeSpeaker(text string) pkg.Speaker {
	lower := strings.ToLower(text)
	patientScore := countTerms(text, lower, patientMarkers)
	doctorScore := countTerms(text, lower, doctorMarkers)
	switch {
	case patientScore > doctorScore:
		return pkg.SpeakerPatient
	case doctorScore > patientScore:
		return pkg.SpeakerDoctor
	default:
		return pkg.SpeakerUnknown
	}
}

// AttributeUnlabeled fills in the speaker of every utterance whose source gave
// no usable role.  Utterances with a known role are copied unchanged; the
// input slice is not modified.
func AttributeUnlabeled(utts []pkg.Utterance) []pkg.Utterance {
	out := make([]pkg.Utterance, len(utts))
	for i, u := range utts {
		if u.Speaker == "" || u.Speaker == pkg.SpeakerUnknown {
			u.Speaker = AttributeSpeaker(u.Text)
		}
		out[i] = u
	}
	return out
}

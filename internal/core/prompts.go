package core

// prompts.go defines the instructions sent to the AI classification service.
// Keeping these prompts in a separate file makes them easy to tweak without
// touching the rest of the code.  Every prompt asks for a single JSON object;
// the llm package rejects anything else and the caller falls back to the
// rule-based path.

const (
	// SOAPInstruction asks for the four clinical sections of a dental
	// counseling conversation.
	SOAPInstruction = "You are a dental clinic documentation assistant. Convert the conversation into a SOAP note " +
		"(subjective: patient-reported symptoms and complaints; objective: clinician observations and findings; " +
		"assessment: diagnosis; plan: treatment plan and next steps). Answer in the language of the conversation. " +
		"Reply with one JSON object only: " +
		`{"subjective": string, "objective": string, "assessment": string, "plan": string, "confidence": number between 0 and 1}`

	// IdentifyInstruction asks for the names of the two participants.
	IdentifyInstruction = "Extract the patient's name and the doctor's name from the dental conversation. " +
		"Use \"patient\" or \"doctor\" when a name is not mentioned. Reply with one JSON object only: " +
		`{"patient_name": string, "doctor_name": string, "confidence_patient": number between 0 and 1, "confidence_doctor": number between 0 and 1}`

	// QualityInstruction asks for treatment-acceptance scoring.
	QualityInstruction = "Analyse the dental counseling conversation and score how likely the patient is to accept treatment. " +
		"success_possibility: the patient's willingness to accept treatment; patient_understanding: how well the patient " +
		"understood; treatment_consent: likelihood of consent; overall_quality: overall counseling quality. " +
		"Reply with one JSON object only: " +
		`{"success_possibility": number, "patient_understanding": number, "treatment_consent": number, ` +
		`"overall_quality": number, "improvements": [string], "positives": [string]} with every number between 0 and 1`
)

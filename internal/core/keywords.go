package core

import (
	"strings"
	"unicode"
)

// keywords.go holds the fixed vocabularies used by the rule-based path.  Each
// list carries the Japanese clinic vocabulary the recording devices produce
// and the English equivalents.  Terms are matched as substrings; a term that
// contains an upper-case letter (such as the "CR" resin abbreviation) is
// matched case-sensitively, every other term case-insensitively.

var (
	patientMarkers = []string{
		"痛い", "しみる", "気になる", "不安", "お願いします", "はい、",
		"it hurts", "hurts", "pain", "worried", "please", "sensitive", "i feel",
	}
	doctorMarkers = []string{
		"診察", "治療", "処置", "では", "そうですね", "確認", "検査",
		"examin", "treatment", "procedure", "let me check", "x-ray", "we will", "i recommend",
	}
)

var (
	subjectiveTerms = []string{
		"痛い", "しみる", "違和感", "気になる", "腫れ", "ズキズキ", "キーン",
		"pain", "hurt", "ache", "sensitive", "swelling", "bleeding", "uncomfortable",
	}
	objectiveTerms = []string{
		"う蝕", "歯髄", "打診痛", "冷水痛", "歯肉", "歯石", "動揺", "認める",
		"observed", "decay", "caries", "gingiva", "gum", "tartar", "mobility", "findings",
	}
	assessmentTerms = []string{
		"診断", "虫歯", "歯周病", "根尖病変", "咬合", "深い", "神経",
		"diagnos", "cavity", "decay", "periodont", "pulpitis", "nerve", "occlusion",
	}
	planTerms = []string{
		"治療", "充填", "抜歯", "根管治療", "予約", "CR", "インレー", "次回",
		"treatment", "filling", "extraction", "root canal", "appointment", "next visit", "crown", "inlay",
	}
)

var (
	acceptanceKeywords = []string{
		"はい", "お願いします", "やります", "受けます", "同意", "よろしく",
		"yes", "please", "i agree", "go ahead", "sounds good", "let's do it",
	}
	hesitationKeywords = []string{
		"考えさせて", "迷って", "不安", "心配", "高い", "費用",
		"think about it", "not sure", "worried", "expensive", "cost", "maybe later",
	}
	understandingKeywords = []string{
		"分かりました", "なるほど", "理解", "わかります",
		"i understand", "i see", "makes sense", "got it",
	}
	confusionKeywords = []string{
		"分からない", "よくわからない", "難しい",
		"don't understand", "confusing", "not clear", "what do you mean",
	}
	treatmentDiscussionKeywords = []string{
		"治療", "処置", "次回", "予約",
		"treatment", "procedure", "next visit", "appointment",
	}
)

// countTerms returns how many distinct terms occur in text.  lower must be
// strings.ToLower(text).
func countTerms(text, lower string, terms []string) int {
	n := 0
	for _, term := range terms {
		if hasTerm(text, lower, term) {
			n++
		}
	}
	return n
}

func anyTerm(text, lower string, terms []string) bool {
	for _, term := range terms {
		if hasTerm(text, lower, term) {
			return true
		}
	}
	return false
}

func hasTerm(text, lower, term string) bool {
	if strings.IndexFunc(term, unicode.IsUpper) >= 0 {
		return strings.Contains(text, term)
	}
	return strings.Contains(lower, term)
}

// Package transcript reads note-taking device exports into ordered
// utterances.  Formats: plain text and markdown ("Label: text" lines), SRT
// subtitle blocks, and Notta-style CSV.
package transcript

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"dental-counseling/pkg"
)

// ErrUnsupportedFormat is returned for a format name Parse does not know.
var ErrUnsupportedFormat = errors.New("unsupported transcript format")

// Formats lists the accepted format names.
var Formats = []string{"txt", "md", "srt", "csv"}

// Parse reads r in the named format.  Utterances are numbered from 1 in file
// order.  Lines whose label names no role keep Speaker unknown so that the
// caller can attribute them.
func Parse(format string, r io.Reader) ([]pkg.Utterance, error) {
	var (
		utts []pkg.Utterance
		err  error
	)
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "txt", "text", "":
		utts, err = parseLines(r, false)
	case "md", "markdown":
		utts, err = parseLines(r, true)
	case "srt":
		utts, err = parseSRT(r)
	case "csv":
		utts, err = parseCSV(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	for i := range utts {
		utts[i].Sequence = i + 1
		if utts[i].Confidence == 0 {
			utts[i].Confidence = pkg.DefaultUtteranceConfidence
		}
	}
	return utts, nil
}

// NormalizeSpeaker maps a free-form speaker label to a role.
func NormalizeSpeaker(label string) pkg.Speaker {
	l := strings.ToLower(strings.TrimSpace(label))
	switch {
	case l == "":
		return pkg.SpeakerUnknown
	case strings.Contains(l, "患者"), strings.Contains(l, "patient"):
		return pkg.SpeakerPatient
	case strings.Contains(l, "医師"), strings.Contains(l, "先生"), strings.Contains(l, "歯科医"),
		strings.Contains(l, "doctor"), strings.Contains(l, "dentist"),
		l == "dr", strings.HasPrefix(l, "dr."), strings.HasPrefix(l, "dr "):
		return pkg.SpeakerDoctor
	}
	return pkg.SpeakerUnknown
}

var (
	labelRe      = regexp.MustCompile(`^([^:：]{1,24}?)\s*[:：]\s*(.*)$`)
	speakerTagRe = regexp.MustCompile(`(?i)^(speaker|話者)\s*\d+$`)
	boldRe       = regexp.MustCompile(`\*\*(.*?)\*\*`)
	bulletRe     = regexp.MustCompile(`^(?:[-*+>]\s+)+`)
	srtTimingRe  = regexp.MustCompile(`^(\d{1,2}:\d{2}:\d{2}[,.]\d{1,3})\s*-->\s*(\d{1,2}:\d{2}:\d{2}[,.]\d{1,3})`)
)

// splitLabel separates a leading "Label:" from the text.  Only labels that
// name a role or a numbered speaker count; anything else stays part of the
// text.
func splitLabel(line string) (label, text string) {
	m := labelRe.FindStringSubmatch(line)
	if m == nil {
		return "", line
	}
	label = strings.TrimSpace(m[1])
	if NormalizeSpeaker(label) == pkg.SpeakerUnknown && !speakerTagRe.MatchString(label) {
		return "", line
	}
	return label, strings.TrimSpace(m[2])
}

func utterance(label, text string) pkg.Utterance {
	return pkg.Utterance{
		Speaker:      NormalizeSpeaker(label),
		SpeakerLabel: label,
		Text:         text,
	}
}

func parseLines(r io.Reader, markdown bool) ([]pkg.Utterance, error) {
	var out []pkg.Utterance
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if markdown {
			if strings.HasPrefix(line, "#") || line == "---" {
				continue
			}
			line = bulletRe.ReplaceAllString(line, "")
			line = boldRe.ReplaceAllString(line, "$1")
		}
		if line == "" {
			continue
		}
		label, text := splitLabel(line)
		if text == "" {
			continue
		}
		out = append(out, utterance(label, text))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return out, nil
}

func parseSRT(r io.Reader) ([]pkg.Utterance, error) {
	var (
		out        []pkg.Utterance
		start, end string
		body       []string
	)
	flush := func() {
		text := strings.TrimSpace(strings.Join(body, " "))
		if text != "" {
			label, rest := splitLabel(text)
			if rest != "" {
				u := utterance(label, rest)
				u.TimestampStart, u.TimestampEnd = start, end
				out = append(out, u)
			}
		}
		start, end, body = "", "", nil
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		switch {
		case line == "":
			flush()
		case srtTimingRe.MatchString(line):
			m := srtTimingRe.FindStringSubmatch(line)
			start, end = m[1], m[2]
		case start == "" && len(body) == 0 && isIndex(line):
			// block counter
		default:
			body = append(body, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read srt: %w", err)
	}
	flush()
	return out, nil
}

func isIndex(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

// csv column names, compared case-insensitively
var (
	speakerCols    = []string{"speaker", "話者", "speaker_label"}
	textCols       = []string{"text", "テキスト", "発言", "内容"}
	startCols      = []string{"start time", "start", "timestamp", "開始時間"}
	endCols        = []string{"end time", "end", "終了時間"}
	confidenceCols = []string{"confidence", "confidence score", "信頼度"}
)

func parseCSV(r io.Reader) ([]pkg.Utterance, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	idx := columnIndex(header)
	textCol := idx(textCols)
	if textCol < 0 {
		return nil, fmt.Errorf("csv transcript has no text column (header %v)", header)
	}
	speakerCol, startCol, endCol, confCol := idx(speakerCols), idx(startCols), idx(endCols), idx(confidenceCols)

	var out []pkg.Utterance
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		text := strings.TrimSpace(field(rec, textCol))
		if text == "" {
			continue
		}
		u := utterance(strings.TrimSpace(field(rec, speakerCol)), text)
		u.TimestampStart = strings.TrimSpace(field(rec, startCol))
		u.TimestampEnd = strings.TrimSpace(field(rec, endCol))
		if c, err := strconv.ParseFloat(strings.TrimSpace(field(rec, confCol)), 64); err == nil && c >= 0 && c <= 1 {
			u.Confidence = c
		}
		out = append(out, u)
	}
	return out, nil
}

// columnIndex returns a lookup from candidate names to the first matching
// header position, or -1.
func columnIndex(header []string) func([]string) int {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := pos[h]; !dup {
			pos[h] = i
		}
	}
	return func(names []string) int {
		for _, n := range names {
			if i, ok := pos[n]; ok {
				return i
			}
		}
		return -1
	}
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

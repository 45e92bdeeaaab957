package transcript

import (
	"errors"
	"strings"
	"testing"

	"dental-counseling/pkg"
)

func TestNormalizeSpeaker(t *testing.T) {
	tests := []struct {
		label string
		want  pkg.Speaker
	}{
		{"患者", pkg.SpeakerPatient},
		{"Patient", pkg.SpeakerPatient},
		{"患者（田中）", pkg.SpeakerPatient},
		{"医師", pkg.SpeakerDoctor},
		{"Doctor", pkg.SpeakerDoctor},
		{"Dr. Sato", pkg.SpeakerDoctor},
		{"佐藤先生", pkg.SpeakerDoctor},
		{"dentist", pkg.SpeakerDoctor},
		{"Speaker 1", pkg.SpeakerUnknown},
		{"Drew", pkg.SpeakerUnknown},
		{"", pkg.SpeakerUnknown},
	}
	for _, tt := range tests {
		if got := NormalizeSpeaker(tt.label); got != tt.want {
			t.Errorf("NormalizeSpeaker(%q) = %q, want %q", tt.label, got, tt.want)
		}
	}
}

func TestParseText(t *testing.T) {
	in := "\ufeff医師：今日はどうされましたか\n\n患者: 奥歯が痛いです\nSpeaker 2: 冷たいものがしみます\nNote: this line has no speaker\n"
	utts, err := Parse("txt", strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		speaker pkg.Speaker
		label   string
		text    string
	}{
		{pkg.SpeakerDoctor, "医師", "今日はどうされましたか"},
		{pkg.SpeakerPatient, "患者", "奥歯が痛いです"},
		{pkg.SpeakerUnknown, "Speaker 2", "冷たいものがしみます"},
		{pkg.SpeakerUnknown, "", "Note: this line has no speaker"},
	}
	if len(utts) != len(want) {
		t.Fatalf("got %d utterances: %+v", len(utts), utts)
	}
	for i, w := range want {
		u := utts[i]
		if u.Sequence != i+1 || u.Speaker != w.speaker || u.SpeakerLabel != w.label || u.Text != w.text {
			t.Errorf("utterance %d = %+v, want %+v", i, u, w)
		}
		if u.Confidence != pkg.DefaultUtteranceConfidence {
			t.Errorf("utterance %d confidence = %v", i, u.Confidence)
		}
	}
}

func TestParseMarkdown(t *testing.T) {
	in := `# カウンセリング記録

## 会話
- **医師**: 検査の結果、虫歯があります
- **患者**: 治療をお願いします
---
`
	utts, err := Parse("md", strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(utts) != 2 {
		t.Fatalf("got %+v", utts)
	}
	if utts[0].Speaker != pkg.SpeakerDoctor || utts[0].Text != "検査の結果、虫歯があります" {
		t.Errorf("first = %+v", utts[0])
	}
	if utts[1].Speaker != pkg.SpeakerPatient || utts[1].Sequence != 2 {
		t.Errorf("second = %+v", utts[1])
	}
}

func TestParseSRT(t *testing.T) {
	in := `1
00:00:01,000 --> 00:00:04,500
Doctor: Let me check the tooth.

2
00:00:05,000 --> 00:00:08,000
It hurts when I drink
cold water.
`
	utts, err := Parse("srt", strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(utts) != 2 {
		t.Fatalf("got %+v", utts)
	}
	if utts[0].Speaker != pkg.SpeakerDoctor || utts[0].TimestampStart != "00:00:01,000" || utts[0].TimestampEnd != "00:00:04,500" {
		t.Errorf("first = %+v", utts[0])
	}
	if utts[1].Text != "It hurts when I drink cold water." || utts[1].Speaker != pkg.SpeakerUnknown {
		t.Errorf("second = %+v", utts[1])
	}
}

func TestParseCSV(t *testing.T) {
	in := "Speaker,Start Time,End Time,Duration,Text,Confidence\n" +
		"医師,00:00:05,00:00:09,4,どこが痛みますか,0.95\n" +
		"Speaker 2,00:00:10,00:00:12,2,右下の奥歯です,\n" +
		"患者,00:00:13,00:00:14,1,,\n"
	utts, err := Parse("csv", strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(utts) != 2 {
		t.Fatalf("blank text rows should be dropped, got %+v", utts)
	}
	if utts[0].Speaker != pkg.SpeakerDoctor || utts[0].Confidence != 0.95 || utts[0].TimestampStart != "00:00:05" {
		t.Errorf("first = %+v", utts[0])
	}
	if utts[1].Speaker != pkg.SpeakerUnknown || utts[1].SpeakerLabel != "Speaker 2" || utts[1].Confidence != pkg.DefaultUtteranceConfidence {
		t.Errorf("second = %+v", utts[1])
	}
}

func TestParseCSVMissingTextColumn(t *testing.T) {
	if _, err := Parse("csv", strings.NewReader("Speaker,Start\nA,1\n")); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseUnsupported(t *testing.T) {
	_, err := Parse("xlsx", strings.NewReader(""))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v", err)
	}
}

package http

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"dental-counseling/internal/core"
	"dental-counseling/internal/db"
	"dental-counseling/pkg"
)

const rosterCSV = `appointment_id,patient_id,doctor_id,patient_name,appointment_date,appointment_time,treatment_type,status
APT-001,P12345,D001,田中太郎,2025-01-26,10:30,カウンセリング,scheduled
APT-002,P12346,D002,佐藤花子,2025-01-26,11:00,定期検診,scheduled
APT-003,P12347,D001,鈴木次郎,2025-01-26,bad,治療,scheduled
`

const transcriptText = `患者: 右上の奥歯が痛くて、冷たいものがしみます
医師: 検査の結果、う蝕を認めます
医師: 充填の治療を予定します。次回予約をお取りください
患者: はい、お願いします
`

type fixture struct {
	srv  *Server
	hub  *db.Hub
	repo *db.Repository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	if err := db.Migrate(context.Background(), conn); err != nil {
		t.Fatal(err)
	}
	repo := db.NewRepository(conn, "sqlite")
	hub := db.NewHub()
	orch := core.NewOrchestrator(repo, nil, hub, nil, core.Config{})
	return fixture{srv: NewServer(repo, orch, hub, nil, time.UTC), hub: hub, repo: repo}
}

func (f fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f fixture) createSession(t *testing.T) pkg.ClinicalRecord {
	t.Helper()
	if rec := f.do(t, http.MethodPost, "/api/appointments/import", rosterCSV); rec.Code != http.StatusOK {
		t.Fatalf("import status = %d: %s", rec.Code, rec.Body)
	}
	body, _ := json.Marshal(map[string]string{
		"recording_start": "2025-01-26T10:31:00",
		"doctor_id":       "D001",
		"format":          "txt",
		"transcript":      transcriptText,
	})
	rec := f.do(t, http.MethodPost, "/api/sessions", string(body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}
	var out pkg.ClinicalRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestImportAppointments(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/appointments/import", rosterCSV)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		Imported int      `json:"imported"`
		Skipped  int      `json:"skipped"`
		Problems []string `json:"problems"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Imported != 2 || got.Skipped != 1 || len(got.Problems) != 1 {
		t.Errorf("got %+v", got)
	}

	rec = f.do(t, http.MethodGet, "/api/appointments", "")
	var apts []pkg.Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &apts); err != nil {
		t.Fatal(err)
	}
	if len(apts) != 2 {
		t.Errorf("appointments = %+v", apts)
	}
}

func TestCreateSessionMatchesAppointment(t *testing.T) {
	f := newFixture(t)
	out := f.createSession(t)

	s := out.Session
	if s.AppointmentID == nil || *s.AppointmentID != "APT-001" {
		t.Fatalf("appointment = %v", s.AppointmentID)
	}
	if out.Match == nil || out.Match.Confidence < 0.8 {
		t.Errorf("match = %+v", out.Match)
	}
	if s.PatientID != "P12345" || s.PatientName != "田中太郎" || s.NeedsReview {
		t.Errorf("session = %+v", s)
	}
	if s.SOAP == nil || s.SOAP.GenerationMethod != pkg.MethodRuleBased {
		t.Fatalf("soap = %+v", s.SOAP)
	}
	if !strings.Contains(s.SOAP.Plan, "充填") {
		t.Errorf("plan = %q", s.SOAP.Plan)
	}
	if s.Quality == nil || s.Quality.Method != pkg.MethodRuleBased {
		t.Errorf("quality = %+v", s.Quality)
	}

	apts, err := f.repo.ListAppointments(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if apts[0].AppointmentID != "APT-001" || apts[0].Status != pkg.AppointmentMatched {
		t.Errorf("appointment status = %+v", apts[0])
	}
}

func TestCreateSessionRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"empty transcript", `{"recording_start":"2025-01-26T10:31:00","doctor_id":"D001","transcript":"  "}`},
		{"bad time", `{"recording_start":"soon","doctor_id":"D001","transcript":"患者: 痛い"}`},
		{"unknown format", `{"recording_start":"2025-01-26T10:31:00","format":"docx","transcript":"x"}`},
		{"non-increasing sequence", `{"recording_start":"2025-01-26T10:31:00","utterances":[{"sequence":2,"text":"a"},{"sequence":1,"text":"b"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(t, http.MethodPost, "/api/sessions", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d: %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestCreateSessionNormalizesPostedSpeakers(t *testing.T) {
	f := newFixture(t)
	body := `{"recording_start":"2025-01-26T10:31:00","doctor_id":"D001","utterances":[
		{"sequence":1,"speaker":"Patient","text":"奥歯が痛い"},
		{"sequence":2,"speaker":"Doctor","text":"う蝕を認めます。充填の治療を予定します"},
		{"sequence":3,"speaker":"nurse","text":"hello"}]}`
	rec := f.do(t, http.MethodPost, "/api/sessions", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var out pkg.ClinicalRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}

	utts := out.Session.Utterances
	want := []struct {
		speaker pkg.Speaker
		label   string
	}{
		{pkg.SpeakerPatient, "Patient"},
		{pkg.SpeakerDoctor, "Doctor"},
		{pkg.SpeakerUnknown, "nurse"},
	}
	if len(utts) != len(want) {
		t.Fatalf("utterances = %+v", utts)
	}
	for i, w := range want {
		if utts[i].Speaker != w.speaker || utts[i].SpeakerLabel != w.label || utts[i].Confidence != pkg.DefaultUtteranceConfidence {
			t.Errorf("utterance %d = %+v", i+1, utts[i])
		}
	}

	soap := out.Session.SOAP
	if soap.Subjective != "奥歯が痛い" {
		t.Errorf("subjective = %q", soap.Subjective)
	}
	if !strings.Contains(soap.Objective, "う蝕") || !strings.Contains(soap.Plan, "充填") {
		t.Errorf("objective = %q plan = %q", soap.Objective, soap.Plan)
	}
	if soap.Confidence != 0.75 {
		t.Errorf("confidence = %v", soap.Confidence)
	}
}

func TestNormalizePosted(t *testing.T) {
	got := normalizePosted([]pkg.Utterance{
		{SpeakerLabel: "医師", Text: "a"},
		{Speaker: pkg.SpeakerPatient, Text: "b", Confidence: 0.5},
		{Speaker: "DR. Sato", Text: "c"},
		{Speaker: pkg.SpeakerUnknown, Text: "d"},
	})
	want := []pkg.Utterance{
		{Sequence: 1, Speaker: pkg.SpeakerDoctor, SpeakerLabel: "医師", Text: "a", Confidence: 0.9},
		{Sequence: 2, Speaker: pkg.SpeakerPatient, Text: "b", Confidence: 0.5},
		{Sequence: 3, Speaker: pkg.SpeakerDoctor, SpeakerLabel: "DR. Sato", Text: "c", Confidence: 0.9},
		{Sequence: 4, Speaker: pkg.SpeakerUnknown, Text: "d", Confidence: 0.9},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("utterance %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestUnmatchedSessionIsFlagged(t *testing.T) {
	f := newFixture(t)
	body := `{"recording_start":"2025-01-26T18:00:00Z","doctor_id":"D001",
        "utterances":[{"speaker_label":"患者","text":"歯が痛いです"},{"text":"検査します"}]}`
	rec := f.do(t, http.MethodPost, "/api/sessions", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var out pkg.ClinicalRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Session.AppointmentID != nil || !out.Session.NeedsReview || out.Match != nil {
		t.Errorf("session = %+v", out.Session)
	}
	if out.Session.State != pkg.StateSOAPGenerated {
		t.Errorf("state = %q", out.Session.State)
	}
	if out.Session.Utterances[0].Speaker != pkg.SpeakerPatient {
		t.Errorf("utterances = %+v", out.Session.Utterances)
	}
}

func TestGetSearchReviewExport(t *testing.T) {
	f := newFixture(t)
	created := f.createSession(t)
	id := created.Session.ID

	if rec := f.do(t, http.MethodGet, "/api/sessions/"+id, ""); rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/sessions/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing session status = %d", rec.Code)
	}

	for _, q := range []string{"", "?patient_id=P12345", "?doctor_id=D001&from=2025-01-26&to=2025-01-26"} {
		rec := f.do(t, http.MethodGet, "/api/sessions"+q, "")
		var list []pkg.CounselingSession
		if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
			t.Fatal(err)
		}
		if len(list) != 1 || list[0].ID != id {
			t.Errorf("search %q = %+v", q, list)
		}
	}
	rec := f.do(t, http.MethodGet, "/api/sessions?from=2025-01-27", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty search = %s", rec.Body)
	}
	if rec := f.do(t, http.MethodGet, "/api/sessions?from=whenever", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad from status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodPut, "/api/sessions/"+id+"/soap", `{"subjective":"pain","objective":"caries","assessment":"C2","plan":"CR filling"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("review status = %d: %s", rec.Code, rec.Body)
	}
	var reviewed pkg.CounselingSession
	if err := json.Unmarshal(rec.Body.Bytes(), &reviewed); err != nil {
		t.Fatal(err)
	}
	if reviewed.State != pkg.StateReviewed || !reviewed.SOAP.ReviewedByDoctor || reviewed.SOAP.Plan != "CR filling" {
		t.Errorf("reviewed = %+v", reviewed.SOAP)
	}
	if reviewed.SOAP.GenerationMethod != pkg.MethodRuleBased {
		t.Errorf("method changed to %q", reviewed.SOAP.GenerationMethod)
	}
	if rec := f.do(t, http.MethodPut, "/api/sessions/"+id+"/soap", `{"subjective":"x"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("partial review status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/sessions/"+id+"/export?format=csv", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "CR filling") {
		t.Errorf("csv export = %d %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type = %q", ct)
	}
	rec = f.do(t, http.MethodGet, "/api/sessions/"+id+"/export?format=chart", "")
	if !strings.Contains(rec.Body.String(), "Reviewed by the treating doctor") {
		t.Errorf("chart export = %s", rec.Body)
	}
	if rec := f.do(t, http.MethodGet, "/api/sessions/"+id+"/export?format=pdf", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad format status = %d", rec.Code)
	}
}

func TestStreamDeliversReviewUpdate(t *testing.T) {
	f := newFixture(t)
	created := f.createSession(t)
	id := created.Session.ID

	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/sessions/"+id+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	events := bufio.NewReader(resp.Body)

	first := readEvent(t, events)
	if first.Type != "soap_update" || first.SOAP.ReviewedByDoctor {
		t.Fatalf("first event = %+v", first)
	}

	putReq, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/sessions/"+id+"/soap",
		bytes.NewBufferString(`{"subjective":"s","objective":"o","assessment":"a","plan":"p"}`))
	putResp, err := http.DefaultClient.Do(putReq)
	if err != nil {
		t.Fatal(err)
	}
	putResp.Body.Close()

	second := readEvent(t, events)
	if !second.SOAP.ReviewedByDoctor || second.SOAP.Plan != "p" || second.State != pkg.StateReviewed {
		t.Errorf("second event = %+v", second)
	}
}

type soapEvent struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id"`
	State     pkg.SessionState `json:"state"`
	SOAP      pkg.SOAPNote     `json:"soap"`
}

func readEvent(t *testing.T, r *bufio.Reader) soapEvent {
	t.Helper()
	var ev soapEvent
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" && ev.Type != "" {
			return ev
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				t.Fatalf("decode event: %v", err)
			}
		}
	}
}

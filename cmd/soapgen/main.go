// Command soapgen turns transcript files into clinical records without the
// HTTP service.  Records are written as JSON lines; -export switches to the
// flat CSV or the chart text.
//
//	soapgen -roster appointments.csv -doctor D001 -start 2025-01-26T10:31:00 session.txt
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dental-counseling/internal/config"
	"dental-counseling/internal/core"
	"dental-counseling/internal/db"
	"dental-counseling/internal/export"
	"dental-counseling/internal/llm"
	"dental-counseling/internal/logger"
	"dental-counseling/internal/roster"
	"dental-counseling/internal/transcript"
	"dental-counseling/pkg"

	_ "modernc.org/sqlite"
)

func main() {
	var (
		rosterPath = flag.String("roster", "", "appointment roster CSV")
		doctorID   = flag.String("doctor", core.UnknownDoctor, "doctor id of the recording device")
		start      = flag.String("start", "", "recording start time; defaults to each file's modification time")
		format     = flag.String("format", "", "transcript format (txt, md, srt, csv); defaults to the file extension")
		dbPath     = flag.String("db", ":memory:", "sqlite database file for the results")
		exportAs   = flag.String("export", "json", "output: json, csv or chart")
		noAI       = flag.Bool("no-ai", false, "skip the AI analyst even when OPENAI_API_KEY is set")
	)
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: soapgen [flags] transcript...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(context.Background(), cfg, log, options{
		roster:   *rosterPath,
		doctorID: *doctorID,
		start:    *start,
		format:   *format,
		dbPath:   *dbPath,
		export:   *exportAs,
		noAI:     *noAI,
		files:    flag.Args(),
	}); err != nil {
		log.Fatal("soapgen failed", "error", err)
	}
}

type options struct {
	roster   string
	doctorID string
	start    string
	format   string
	dbPath   string
	export   string
	noAI     bool
	files    []string
}

func run(ctx context.Context, cfg *config.Root, log *logger.Logger, opts options) error {
	conn, err := sql.Open("sqlite", opts.dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetMaxOpenConns(1)
	if err := db.Migrate(ctx, conn); err != nil {
		return err
	}
	repo := db.NewRepository(conn, "sqlite")
	loc := cfg.Location()

	if opts.roster != "" {
		f, err := os.Open(opts.roster)
		if err != nil {
			return err
		}
		res, err := roster.ReadCSV(f, loc)
		f.Close()
		if err != nil {
			return err
		}
		if _, err := repo.ImportAppointments(ctx, res.Appointments); err != nil {
			return err
		}
		for _, p := range res.Problems {
			log.Warn("roster row skipped", "problem", p)
		}
	}

	var analyst core.Analyst
	if !opts.noAI {
		if client := llm.NewOpenAIClient(llm.Options{APIKey: cfg.AI.APIKey, Model: cfg.AI.Model, BaseURL: cfg.AI.BaseURL}); client != nil {
			analyst = core.NewLLMAnalyst(client)
		}
	}
	orch := core.NewOrchestrator(repo, analyst, nil, log, cfg.Orchestrator())

	var recs []pkg.Recording
	for _, path := range opts.files {
		rec, err := readRecording(path, opts, loc)
		if err != nil {
			// one unreadable file must not stop the rest
			log.Warn("transcript skipped", "file", path, "error", err)
			continue
		}
		recs = append(recs, rec)
	}

	res := orch.ProcessBatch(ctx, recs)
	for _, err := range res.Failures {
		log.Error("recording failed", "error", err)
	}
	log.Info("batch done", "processed", len(res.Records), "skipped", res.Skipped+len(opts.files)-len(recs))
	return write(os.Stdout, opts.export, res.Records, loc)
}

func readRecording(path string, opts options, loc *time.Location) (pkg.Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return pkg.Recording{}, err
	}
	defer f.Close()

	format := opts.format
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	utts, err := transcript.Parse(format, f)
	if err != nil {
		return pkg.Recording{}, err
	}

	var at time.Time
	if opts.start != "" {
		if at, err = roster.ParseTimestamp(opts.start, loc); err != nil {
			return pkg.Recording{}, err
		}
	} else {
		st, err := f.Stat()
		if err != nil {
			return pkg.Recording{}, err
		}
		at = st.ModTime().UTC()
	}
	return pkg.Recording{
		RecordingStart: at,
		DoctorID:       opts.doctorID,
		AudioFile:      filepath.Base(path),
		Utterances:     utts,
	}, nil
}

func write(out *os.File, format string, records []*pkg.ClinicalRecord, loc *time.Location) error {
	switch format {
	case "csv":
		sessions := make([]pkg.CounselingSession, len(records))
		for i, r := range records {
			sessions[i] = r.Session
		}
		return export.WriteCSV(out, sessions...)
	case "chart":
		for _, r := range records {
			if _, err := fmt.Fprintln(out, export.FormatChart(r.Session, loc)); err != nil {
				return err
			}
		}
		return nil
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/user/cophy_analyzer_go/internal/analysis"
	"github.com/user/cophy_analyzer_go/internal/parser"
	"github.com/user/cophy_analyzer_go/internal/study"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("cophy_analyzer failed", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("cophy_analyzer", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: cophy_analyzer [flags] <study.sdy|study.txt>\n       cophy_analyzer -list <dir>\n\n")
		fs.PrintDefaults()
	}

	cfg := study.DefaultConfig()
	opts := Options{
		Windows:   make(map[analysis.State]*analysis.Window),
		Landmarks: make(map[analysis.State]analysis.Landmarks),
	}

	listDir := fs.String("list", "", "list the study files of a folder with their label counts")
	paSource := fs.String("pa", "", "pa channel: physio or trans (default: sidecar choice, else physio)")
	fs.IntVar(&cfg.PdOffsetSamples, "pd-offset", cfg.PdOffsetSamples, "pd time-shift correction for text studies, in samples")
	fs.IntVar(&cfg.MaxBeats, "max-beats", cfg.MaxBeats, "maximum beats per ensemble")
	fs.Float64Var(&cfg.AcceptBand, "band", cfg.AcceptBand, "accepted deviation of a beat interval from the median")
	flowPhase := fs.String("trend-flow", string(cfg.Series.FlowPhase), "flow reduction of the beat-wise resistances: mean or peak")
	fs.Func("rest", "rest window as from,to seconds", windowFlag(opts.Windows, analysis.StateRest))
	fs.Func("hyp", "hyperaemia window as from,to seconds", windowFlag(opts.Windows, analysis.StateHyperaemia))
	fs.Func("notch-rest", "rest dicrotic notch, seconds into the beat", landmarkFlag(opts.Landmarks, analysis.StateRest, false))
	fs.Func("ed-rest", "rest end-diastole, seconds into the beat", landmarkFlag(opts.Landmarks, analysis.StateRest, true))
	fs.Func("notch-hyp", "hyperaemia dicrotic notch, seconds into the beat", landmarkFlag(opts.Landmarks, analysis.StateHyperaemia, false))
	fs.Func("ed-hyp", "hyperaemia end-diastole, seconds into the beat", landmarkFlag(opts.Landmarks, analysis.StateHyperaemia, true))
	fs.StringVar(&opts.ReportPath, "report", "", "write a PDF report to this path")
	fs.StringVar(&opts.ArchivePath, "archive", "", "append the results to this SQLite archive")
	fs.BoolVar(&opts.SaveLabels, "save-labels", false, "store the windows and landmarks next to the study")
	logFormat := fs.String("log-format", "text", "log format: text or json")
	verbose := fs.Bool("v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := newLogger(*logFormat, *verbose)
	slog.SetDefault(logger)

	switch *paSource {
	case "":
	case "physio":
		opts.PaSource = parser.PaPhysio
	case "trans":
		opts.PaSource = parser.PaTrans
	default:
		return fmt.Errorf("invalid -pa %q: want physio or trans", *paSource)
	}
	phase, err := analysis.ParsePhase(*flowPhase)
	if err != nil {
		return err
	}
	cfg.Series.FlowPhase = phase

	app := NewApp(cfg, os.Stdout, logger)
	if *listDir != "" {
		return app.ListStudies(*listDir)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("expected one study file, got %d arguments", fs.NArg())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	_, err = app.HandleStudy(ctx, fs.Arg(0), opts)
	return err
}

func newLogger(format string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
}

func windowFlag(windows map[analysis.State]*analysis.Window, role analysis.State) func(string) error {
	return func(s string) error {
		from, to, ok := strings.Cut(s, ",")
		if !ok {
			return fmt.Errorf("want from,to")
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(from), 64)
		if err != nil {
			return err
		}
		t, err := strconv.ParseFloat(strings.TrimSpace(to), 64)
		if err != nil {
			return err
		}
		if t <= f {
			return fmt.Errorf("window end %g must follow start %g", t, f)
		}
		windows[role] = &analysis.Window{Role: role, From: f, To: t}
		return nil
	}
}

func landmarkFlag(landmarks map[analysis.State]analysis.Landmarks, role analysis.State, endDiastole bool) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		lm := landmarks[role]
		if endDiastole {
			lm.EndDiastole = &v
		} else {
			lm.Notch = &v
		}
		landmarks[role] = lm
		return nil
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/user/cophy_analyzer_go/internal/analysis"
	"github.com/user/cophy_analyzer_go/internal/annotations"
	"github.com/user/cophy_analyzer_go/internal/archive"
	"github.com/user/cophy_analyzer_go/internal/parser"
	"github.com/user/cophy_analyzer_go/internal/report"
	"github.com/user/cophy_analyzer_go/internal/study"
)

// Options are the per-run choices taken from the command line.
type Options struct {
	PaSource    parser.PaSource // Empty keeps the sidecar's choice
	Windows     map[analysis.State]*analysis.Window
	Landmarks   map[analysis.State]analysis.Landmarks
	ReportPath  string
	ArchivePath string
	SaveLabels  bool
}

// App drives one study through the pipeline and reports progress.
type App struct {
	cfg    study.Config
	out    io.Writer
	logger *slog.Logger
}

// NewApp creates a new App writing result tables to out.
func NewApp(cfg study.Config, out io.Writer, logger *slog.Logger) *App {
	return &App{cfg: cfg, out: out, logger: logger}
}

func (a *App) sendStatus(message string, args ...any) {
	a.logger.Info(message, args...)
}

// ListStudies prints the study files of a folder with their label counts.
func (a *App) ListStudies(dir string) error {
	files, err := annotations.ListStudies(dir)
	if err != nil {
		return err
	}
	a.sendStatus("study folder listed", "dir", dir, "files", len(files))
	for _, f := range files {
		fmt.Fprintln(a.out, f)
	}
	return nil
}

// HandleStudy loads, recomputes and reports one study file.
func (a *App) HandleStudy(ctx context.Context, path string, opts Options) (*study.Report, error) {
	a.sendStatus("loading study", "path", path)
	session, err := study.Load(path, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if session, err = applyOptions(session, opts); err != nil {
		return nil, err
	}

	a.sendStatus("recomputing", "session", session.ID)
	rep, err := study.Recompute(session)
	if err != nil {
		return nil, fmt.Errorf("recompute %s: %w", path, err)
	}
	for _, d := range rep.Results.Diagnostics {
		a.sendStatus("diagnostic", "detail", d)
	}
	if err := writeResults(a.out, rep); err != nil {
		return nil, err
	}

	if opts.SaveLabels {
		if err := annotations.Save(path, session.Labels()); err != nil {
			return nil, err
		}
		a.sendStatus("labels saved", "path", annotations.SidecarPath(path))
	}
	if opts.ReportPath != "" {
		if err := a.buildReport(rep, opts.ReportPath); err != nil {
			return nil, err
		}
	}
	if opts.ArchivePath != "" {
		if err := a.archiveRun(ctx, rep, opts.ArchivePath); err != nil {
			return nil, err
		}
	}
	return rep, nil
}

func applyOptions(s *study.Session, opts Options) (*study.Session, error) {
	var err error
	if opts.PaSource != "" {
		if s, err = s.WithPaSource(opts.PaSource); err != nil {
			return nil, err
		}
	}
	for role, w := range opts.Windows {
		if s, err = s.WithWindow(role, w.From, w.To); err != nil {
			return nil, err
		}
	}
	for role, lm := range opts.Landmarks {
		current := s.Landmarks(role)
		if lm.Notch != nil {
			current.Notch = lm.Notch
		}
		if lm.EndDiastole != nil {
			current.EndDiastole = lm.EndDiastole
		}
		s = s.WithLandmarks(role, current)
	}
	return s, nil
}

func (a *App) buildReport(rep *study.Report, pdfPath string) error {
	a.sendStatus("generating plots")
	plotImages := make(map[string][]byte)
	type plotConfig struct {
		Name   string
		Render func() ([]byte, error)
	}
	plotConfigs := []plotConfig{
		{report.PressurePlotKey, func() ([]byte, error) { return report.CreatePressurePlot(rep) }},
	}
	for _, trend := range rep.Trends {
		trend := trend
		plotConfigs = append(plotConfigs, plotConfig{report.TrendPlotKey(trend.Metric), func() ([]byte, error) { return report.CreateTrendPlot(trend) }})
	}
	for _, role := range []analysis.State{analysis.StateRest, analysis.StateHyperaemia} {
		ens := rep.Ensemble(role)
		if ens.Empty() {
			continue
		}
		for _, ch := range []parser.Channel{parser.ChannelPa, parser.ChannelPd, parser.ChannelFlow} {
			ch := ch
			title := fmt.Sprintf("%s ensemble: %s", role, ch)
			plotConfigs = append(plotConfigs, plotConfig{report.EnsemblePlotKey(role, ch), func() ([]byte, error) { return report.CreateEnsemblePlot(ens, ch, title) }})
		}
		title := fmt.Sprintf("%s beats: pd", role)
		plotConfigs = append(plotConfigs, plotConfig{report.HeatmapPlotKey(role), func() ([]byte, error) { return report.CreateBeatHeatmap(ens, parser.ChannelPd, title) }})
	}

	for _, pc := range plotConfigs {
		img, err := pc.Render()
		if err != nil {
			a.logger.Warn("plot skipped", "plot", pc.Name, "err", err)
			continue
		}
		plotImages[pc.Name] = img
	}
	a.sendStatus("plot generation complete", "plots", len(plotImages))

	if err := report.BuildPDFReport(pdfPath, rep, plotImages); err != nil {
		return fmt.Errorf("generate PDF report: %w", err)
	}
	a.sendStatus("PDF report generated", "path", pdfPath)
	return nil
}

func (a *App) archiveRun(ctx context.Context, rep *study.Report, dbPath string) error {
	store, err := archive.Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	runID, err := store.SaveRun(ctx, rep)
	if err != nil {
		return err
	}
	a.sendStatus("results archived", "run", runID, "archive", dbPath)
	return nil
}

// writeResults prints the five result groups, rounded to two decimals.
func writeResults(w io.Writer, rep *study.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t(pa: %s)\n", rep.Path, rep.Format, rep.PaSource)
	for _, role := range []analysis.State{analysis.StateRest, analysis.StateHyperaemia} {
		if ens := rep.Ensemble(role); ens != nil {
			fmt.Fprintf(tw, "%s window\t%.2f-%.2f s\t%d beats, %d rejected, %d skipped\n",
				role, ens.Window.From, ens.Window.To, len(ens.Beats), ens.Rejected, ens.Skipped)
		}
	}
	for _, category := range analysis.Categories {
		results := rep.Results.ByCategory(category)
		if len(results) == 0 {
			continue
		}
		fmt.Fprintf(tw, "\n[%s]\n", category)
		for _, r := range results {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\n", r.Name, r.State, r.Phase, r.Rounded(), r.Note)
		}
	}
	return tw.Flush()
}

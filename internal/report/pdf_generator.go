package report

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/user/cophy_analyzer_go/internal/analysis"
	"github.com/user/cophy_analyzer_go/internal/parser"
	"github.com/user/cophy_analyzer_go/internal/study"
)

const (
	inchToMm               = 25.4
	pdfPageWidthLandscape  = 11 * inchToMm // Letter landscape
	pdfPageHeightLandscape = 8.5 * inchToMm
	pdfMargin              = 0.5 * inchToMm
	pdfContentWidth        = pdfPageWidthLandscape - (2 * pdfMargin)
)

// Plot image keys shared by the plot producers and BuildPDFReport.
const PressurePlotKey = "pressure"

func TrendPlotKey(m analysis.Metric) string { return "trend_" + string(m) }

func EnsemblePlotKey(role analysis.State, ch parser.Channel) string {
	return fmt.Sprintf("ensemble_%s_%s", role, ch)
}

func HeatmapPlotKey(role analysis.State) string { return "heatmap_" + string(role) }

var categoryTitles = map[analysis.Category]string{
	analysis.CategoryPressures:      "Pressures (mmHg)",
	analysis.CategoryPressureRatios: "Pressure ratios",
	analysis.CategoryFlows:          "Flows",
	analysis.CategoryFlowRatios:     "Flow ratios",
	analysis.CategoryResistances:    "Resistances",
}

// pdfStyler holds reusable styling and flow state for PDF generation.
type pdfStyler struct {
	pdf         *gofpdf.Fpdf
	styles      map[string]func()
	tr          func(string) string // UTF-8 to the core fonts' code page
	lineHeight  float64
	currentY    float64
	pageHeight  float64
	contentTopY float64
}

func newPDFStyler(pdf *gofpdf.Fpdf) *pdfStyler {
	s := &pdfStyler{
		pdf:         pdf,
		styles:      make(map[string]func()),
		tr:          pdf.UnicodeTranslatorFromDescriptor(""),
		lineHeight:  6,
		pageHeight:  pdfPageHeightLandscape - pdfMargin,
		contentTopY: pdfMargin,
	}
	s.currentY = s.contentTopY
	s.defineStyles()
	return s
}

func (s *pdfStyler) defineStyles() {
	s.styles["h1"] = func() {
		s.pdf.SetFont("Arial", "B", 16)
		s.pdf.SetTextColor(0, 0, 0)
	}
	s.styles["h2"] = func() {
		s.pdf.SetFont("Arial", "B", 13)
		s.pdf.SetTextColor(0, 0, 0)
	}
	s.styles["normal"] = func() {
		s.pdf.SetFont("Arial", "", 10)
		s.pdf.SetTextColor(0, 0, 0)
	}
	s.styles["muted"] = func() {
		s.pdf.SetFont("Arial", "I", 9)
		s.pdf.SetTextColor(100, 100, 100)
	}
	s.styles["tableHeader"] = func() {
		s.pdf.SetFont("Arial", "B", 9)
		s.pdf.SetFillColor(200, 200, 200)
		s.pdf.SetTextColor(0, 0, 0)
	}
	s.styles["tableCell"] = func() {
		s.pdf.SetFont("Arial", "", 9)
		s.pdf.SetTextColor(50, 50, 50)
	}
	s.styles["tableCellFlag"] = func() { // Degenerate (zeroed) values
		s.pdf.SetFont("Arial", "B", 9)
		s.pdf.SetTextColor(200, 0, 0)
	}
}

func (s *pdfStyler) applyStyle(styleName string) {
	if fn, ok := s.styles[styleName]; ok {
		fn()
	} else {
		s.styles["normal"]()
	}
}

func (s *pdfStyler) newPage() {
	s.pdf.AddPage()
	s.currentY = s.contentTopY
}

func (s *pdfStyler) checkAddPage(neededHeight float64) {
	if s.currentY+neededHeight > s.pageHeight {
		s.newPage()
	}
}

func (s *pdfStyler) writeParagraph(text, styleName, align string) {
	s.applyStyle(styleName)
	text = s.tr(text)
	lines := len(s.pdf.SplitLines([]byte(text), pdfContentWidth))
	s.checkAddPage(float64(max(1, lines)) * s.lineHeight)

	s.pdf.SetXY(pdfMargin, s.currentY)
	s.pdf.MultiCell(pdfContentWidth, s.lineHeight, text, "", align, false)
	s.currentY = s.pdf.GetY() + 1
}

func (s *pdfStyler) addSpacer(height float64) {
	s.checkAddPage(height)
	s.currentY += height
}

func (s *pdfStyler) addImage(imageBytes []byte, imageName string, width, height float64, caption string) {
	s.pdf.RegisterImageReader(imageName, "PNG", bytes.NewReader(imageBytes))
	if width > pdfContentWidth {
		height *= pdfContentWidth / width
		width = pdfContentWidth
	}
	captionHeight := 0.0
	if caption != "" {
		captionHeight = s.lineHeight + 1
	}
	s.checkAddPage(height + captionHeight)

	s.pdf.Image(imageName, pdfMargin, s.currentY, width, height, false, "PNG", 0, "")
	s.currentY += height
	if caption != "" {
		s.addSpacer(1)
		s.writeParagraph(caption, "muted", "C")
	}
	s.addSpacer(2)
}

// tableCell is one rendered cell; fill, when set, shades the background.
type tableCell struct {
	text  string
	style string
	fill  []int
}

func (s *pdfStyler) writeTable(headers []string, widthsRel []float64, rows [][]tableCell) {
	widths := make([]float64, len(widthsRel))
	for i, rel := range widthsRel {
		widths[i] = rel * pdfContentWidth
	}
	header := func() {
		s.applyStyle("tableHeader")
		x := pdfMargin
		for i, h := range headers {
			s.pdf.SetXY(x, s.currentY)
			s.pdf.CellFormat(widths[i], s.lineHeight, h, "1", 0, "C", true, 0, "")
			x += widths[i]
		}
		s.currentY += s.lineHeight
	}

	s.checkAddPage(2 * s.lineHeight)
	header()
	for _, row := range rows {
		if s.currentY+s.lineHeight > s.pageHeight {
			s.newPage()
			header()
		}
		x := pdfMargin
		for i, cell := range row {
			s.applyStyle(cell.style)
			fill := len(cell.fill) == 3
			if fill {
				s.pdf.SetFillColor(cell.fill[0], cell.fill[1], cell.fill[2])
			}
			s.pdf.SetXY(x, s.currentY)
			s.pdf.CellFormat(widths[i], s.lineHeight, s.tr(cell.text), "1", 0, "C", fill, 0, "")
			x += widths[i]
		}
		s.currentY += s.lineHeight
	}
}

// BuildPDFReport writes the demographics, ensemble summary, index tables
// and the rendered plots of a report to a PDF file.
func BuildPDFReport(filepath string, rep *study.Report, plotImages map[string][]byte) error {
	if rep == nil || rep.Results == nil {
		return fmt.Errorf("no report to write")
	}
	pdf := gofpdf.New("L", "mm", "Letter", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, pdfMargin)
	pdf.SetTitle("Coronary physiology report", true)
	pdf.AddPage()

	styler := newPDFStyler(pdf)
	styler.writeParagraph("Coronary Physiology Report", "h1", "C")
	styler.addSpacer(3)
	styler.writeParagraph(fmt.Sprintf("Study: %s (%s, pa: %s)", rep.Path, rep.Format, rep.PaSource), "normal", "L")
	styler.writeParagraph(fmt.Sprintf("Session: %s", rep.SessionID), "muted", "L")
	styler.addSpacer(4)

	writeDemographics(styler, rep.Demographics)
	writeEnsembleSummary(styler, rep)

	for _, category := range analysis.Categories {
		styler.writeParagraph(categoryTitles[category], "h2", "L")
		results := rep.Results.ByCategory(category)
		if len(results) == 0 {
			styler.writeParagraph("No values computed.", "muted", "L")
			styler.addSpacer(3)
			continue
		}
		rows := make([][]tableCell, 0, len(results))
		for _, r := range results {
			rows = append(rows, resultRow(r))
		}
		styler.writeTable([]string{"Index", "State", "Phase", "Value", "Note"}, []float64{0.2, 0.12, 0.1, 0.12, 0.46}, rows)
		styler.addSpacer(4)
	}

	if notes := append(append([]string(nil), rep.Warnings...), rep.Results.Diagnostics...); len(notes) > 0 {
		styler.writeParagraph("Notes", "h2", "L")
		for _, n := range notes {
			styler.writeParagraph("- "+n, "muted", "L")
		}
	}

	writePlots(styler, rep, plotImages)

	if err := pdf.OutputFileAndClose(filepath); err != nil {
		return fmt.Errorf("failed to write PDF %s: %w", filepath, err)
	}
	slog.Info("PDF report written", "path", filepath, "pages", pdf.PageNo())
	return nil
}

func resultRow(r analysis.IndexResult) []tableCell {
	value := tableCell{text: fmt.Sprintf("%.2f", r.Rounded()), style: "tableCell"}
	switch {
	case r.Note != "":
		value.style = "tableCellFlag"
	case r.Category == analysis.CategoryPressureRatios:
		cr, cg, cb, _ := RatioColormap.Color(r.Value).RGBA()
		value.fill = []int{int(cr >> 8), int(cg >> 8), int(cb >> 8)}
	}
	return []tableCell{
		{text: r.Name, style: "tableCell"},
		{text: string(r.State), style: "tableCell"},
		{text: string(r.Phase), style: "tableCell"},
		value,
		{text: r.Note, style: "tableCell"},
	}
}

func writeDemographics(s *pdfStyler, d parser.Demographics) {
	s.writeParagraph("Patient", "h2", "L")
	rows := [][]tableCell{
		{{text: "Patient ID", style: "tableCell"}, {text: d.PatientID, style: "tableCell"}},
		{{text: "Study date", style: "tableCell"}, {text: d.StudyDate, style: "tableCell"}},
		{{text: "Export date", style: "tableCell"}, {text: d.ExportDate, style: "tableCell"}},
	}
	if len(d.Fields) > 0 {
		rows = append(rows, []tableCell{{text: "Exam type", style: "tableCell"}, {text: d.ExamType.String(), style: "tableCell"}})
		for _, name := range parser.DemographicFields {
			if v := strings.TrimSpace(d.Fields[name]); v != "" {
				rows = append(rows, []tableCell{{text: name, style: "tableCell"}, {text: v, style: "tableCell"}})
			}
		}
	}
	s.writeTable([]string{"Field", "Value"}, []float64{0.3, 0.7}, rows)
	s.addSpacer(4)
}

func writeEnsembleSummary(s *pdfStyler, rep *study.Report) {
	s.writeParagraph("Beat ensembles", "h2", "L")
	var rows [][]tableCell
	for _, role := range []analysis.State{analysis.StateRest, analysis.StateHyperaemia} {
		ens := rep.Ensemble(role)
		if ens == nil {
			continue
		}
		cells := []string{
			string(role),
			fmt.Sprintf("%.2f - %.2f s", ens.Window.From, ens.Window.To),
			fmt.Sprintf("%d", len(ens.Beats)),
			fmt.Sprintf("%d", ens.Rejected),
			fmt.Sprintf("%d", ens.Skipped),
			fmt.Sprintf("%.0f", ens.MedianRR),
		}
		row := make([]tableCell, len(cells))
		for i, c := range cells {
			row[i] = tableCell{text: c, style: "tableCell"}
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		s.writeParagraph("No windows selected.", "muted", "L")
	} else {
		s.writeTable([]string{"Window", "Range", "Beats", "Rejected", "Skipped", "Median RR (samples)"},
			[]float64{0.15, 0.25, 0.12, 0.12, 0.12, 0.24}, rows)
	}
	s.addSpacer(4)
}

func writePlots(s *pdfStyler, rep *study.Report, plotImages map[string][]byte) {
	if len(plotImages) == 0 {
		return
	}
	s.newPage()
	s.writeParagraph("Graphical Analysis", "h1", "C")
	s.addSpacer(3)

	wide := pdfContentWidth * 0.9
	if img, ok := plotImages[PressurePlotKey]; ok && len(img) > 0 {
		s.addImage(img, PressurePlotKey, wide, wide*350/900, "Pa and Pd with the selected windows")
	}
	for _, trend := range rep.Trends {
		key := TrendPlotKey(trend.Metric)
		if img, ok := plotImages[key]; ok && len(img) > 0 {
			s.addImage(img, key, wide, wide*300/800, trendLabels[trend.Metric].Title)
		}
	}

	half := pdfContentWidth * 0.48
	for _, role := range []analysis.State{analysis.StateRest, analysis.StateHyperaemia} {
		keys := []string{
			EnsemblePlotKey(role, parser.ChannelPa),
			EnsemblePlotKey(role, parser.ChannelPd),
			EnsemblePlotKey(role, parser.ChannelFlow),
			HeatmapPlotKey(role),
		}
		for _, key := range keys {
			if img, ok := plotImages[key]; ok && len(img) > 0 {
				s.addImage(img, key, half, half*350/500, strings.ReplaceAll(key, "_", " "))
			}
		}
	}
}

// Package report renders the learner progress dashboard as an XLSX workbook.
package report

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/curriculum"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/progress"
)

// Sheet names.
const (
	SheetSummary  = "Résumé"
	SheetLevels   = "Progression"
	SheetRevision = "Révisions"
)

// ContentType is the media type of the rendered workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Build renders p as a workbook. Topics are listed in catalog order. The
// caller must Close the returned file.
func Build(p progress.Progress, topics []curriculum.Topic) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		f.Close()
		return nil, fmt.Errorf("naming summary sheet: %w", err)
	}
	for _, name := range []string{SheetLevels, SheetRevision} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, fmt.Errorf("creating sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating header style: %w", err)
	}

	w := &sheetWriter{f: f, header: header}
	w.summary(p)
	w.levels(p, topics)
	w.revisions(p, topics)
	if w.err != nil {
		f.Close()
		return nil, w.err
	}
	return f, nil
}

// Write renders p and writes the workbook to out.
func Write(out io.Writer, p progress.Progress, topics []curriculum.Topic) error {
	f, err := Build(p, topics)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(out); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// sheetWriter keeps the first error so rows can be written without checking
// every call.
type sheetWriter struct {
	f      *excelize.File
	header int
	err    error
}

func (w *sheetWriter) row(sheet string, n int, values ...any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		w.err = err
		return
	}
	if err := w.f.SetSheetRow(sheet, cell, &values); err != nil {
		w.err = fmt.Errorf("writing %s row %d: %w", sheet, n, err)
	}
}

func (w *sheetWriter) headerRow(sheet string, values ...any) {
	w.row(sheet, 1, values...)
	if w.err != nil {
		return
	}
	if err := w.f.SetRowStyle(sheet, 1, 1, w.header); err != nil {
		w.err = fmt.Errorf("styling %s header: %w", sheet, err)
	}
}

func (w *sheetWriter) width(sheet, col string, width float64) {
	if w.err != nil {
		return
	}
	if err := w.f.SetColWidth(sheet, col, col, width); err != nil {
		w.err = fmt.Errorf("sizing %s column %s: %w", sheet, col, err)
	}
}

func (w *sheetWriter) summary(p progress.Progress) {
	s := progress.Summarize(p)
	rows := [][]any{
		{"Élève", p.LearnerName},
		{"Mode", p.Mode.String()},
		{"Périodes maîtrisées", fmt.Sprintf("%d/%d", s.CompletedTopics, s.TotalTopics)},
		{"Niveaux réussis", fmt.Sprintf("%d/%d", s.LevelsPassed, s.TotalLevels)},
		{"Niveaux terminés", s.LevelsCompleted},
		{"Étoiles", s.TotalStars},
		{"Tentatives", s.TotalAttempts},
		{"Progression (%)", roundTenth(s.CompletionRatio())},
	}
	if p.Legacy != nil {
		rows = append(rows, []any{"Score (ancien format)", p.Legacy.TotalScore})
	}
	for i, r := range rows {
		w.row(SheetSummary, i+1, r...)
	}
	w.width(SheetSummary, "A", 24)
	w.width(SheetSummary, "B", 24)
}

func (w *sheetWriter) levels(p progress.Progress, topics []curriculum.Topic) {
	w.headerRow(SheetLevels, "Période", "Niveau", "Difficulté", "État", "Meilleur score", "Étoiles")
	n := 2
	for _, topic := range topics {
		tp, ok := p.Topic(topic.ID)
		if !ok {
			continue
		}
		for _, l := range tp.Levels {
			w.row(SheetLevels, n,
				topic.Name,
				l.Rank,
				curriculum.DifficultyTier(l.Rank).Label(),
				levelState(l),
				l.BestScore,
				strings.Repeat("★", l.Stars),
			)
			n++
		}
	}
	w.width(SheetLevels, "A", 36)
	w.width(SheetLevels, "C", 12)
	w.width(SheetLevels, "D", 12)
}

func (w *sheetWriter) revisions(p progress.Progress, topics []curriculum.Topic) {
	w.headerRow(SheetRevision, "Période", "Niveau", "Tentatives", "Meilleur", "Dernier", "Moyenne", "Meilleur (%)", "Réussi", "Points faibles")
	c := collate.New(language.French)
	n := 2
	for _, topic := range topics {
		for rank := 1; rank <= curriculum.LevelsPerTopic; rank++ {
			st, ok := p.Stats[progress.StatsKey(topic.ID, rank)]
			if !ok || st.Attempts == 0 {
				continue
			}
			weak := slices.Clone(st.Weaknesses)
			c.SortStrings(weak)
			w.row(SheetRevision, n,
				topic.Name,
				rank,
				st.Attempts,
				st.BestScore,
				st.LastScore,
				st.AverageScore,
				roundTenth(st.BestPercentage),
				yesNo(st.Passed),
				strings.Join(weak, "\n"),
			)
			n++
		}
	}
	w.width(SheetRevision, "A", 36)
	w.width(SheetRevision, "I", 80)
}

func levelState(l progress.LevelState) string {
	switch {
	case l.Passed:
		return "Réussi"
	case l.Completed:
		return "Terminé"
	case l.Unlocked:
		return "Débloqué"
	default:
		return "Verrouillé"
	}
}

func yesNo(b bool) string {
	if b {
		return "Oui"
	}
	return "Non"
}

func roundTenth(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

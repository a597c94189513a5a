package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/knights-analytics/linspector"
)

const progressSteps = 1000

type progressBar struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// newProgressBar returns nil when w is not a terminal.
func newProgressBar(w io.Writer) *progressBar {
	if !isTerminal(w) {
		return nil
	}
	return &progressBar{bar: progressbar.NewOptions(progressSteps,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("probing"),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionClearOnFinish(),
	)}
}

func (p *progressBar) update(progress float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.bar.Set(int(progress * progressSteps))
}

func (p *progressBar) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.bar.Finish()
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func summary(language linspector.Language, task linspector.ProbingTask, metrics *linspector.Metrics) string {
	rows := []struct {
		label string
		value string
	}{
		{"accuracy", fmt.Sprintf("%.4f", metrics.Accuracy)},
		{"loss", fmt.Sprintf("%.4f", metrics.Loss)},
		{"macro f1", fmt.Sprintf("%.4f", metrics.F1)},
		{"test instances", fmt.Sprint(metrics.Instances)},
		{"epochs", fmt.Sprintf("%d (best %d)", metrics.EpochsTrained, metrics.BestEpoch)},
		{"embedding dim", fmt.Sprint(metrics.EmbeddingDim)},
		{"vocabulary", fmt.Sprintf("%d found of %d", metrics.FoundTokens, metrics.VocabularySize)},
	}
	name := language.Code
	if language.Name != "" {
		name = language.Name
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s / %s", name, task)))
	for _, row := range rows {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-15s", row.label)))
		b.WriteString(valueStyle.Render(row.value))
	}
	return boxStyle.Render(b.String())
}

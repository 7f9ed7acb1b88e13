package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hamed0406/sitewatch/internal/domain"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// FormatTransition renders a status change for a human operator.
func FormatTransition(target domain.Target, tr domain.Transition, res domain.CheckResult) (title, text string) {
	name := target.DisplayName()
	if tr.To == domain.StatusUp {
		title = fmt.Sprintf("✅ %s is UP", name)
	} else {
		title = fmt.Sprintf("🔴 %s is DOWN", name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", target.URL)
	fmt.Fprintf(&b, "Status: %s\n", tr.Arrow())
	if tr.To == domain.StatusUp {
		fmt.Fprintf(&b, "Status code: %s\n", codeText(res.StatusCode))
	} else {
		fmt.Fprintf(&b, "Error: %s\n", orNA(res.Detail))
	}
	if res.Latency > 0 {
		fmt.Fprintf(&b, "Latency: %d ms\n", res.Latency.Milliseconds())
	}
	if tr.From != domain.StatusUnknown && !tr.Previous.LastChangedAt.IsZero() {
		fmt.Fprintf(&b, "Was %s for: %s\n", tr.From, since(tr.Previous.LastChangedAt, tr.At))
	}
	fmt.Fprintf(&b, "Time: %s", tr.At.Format(timeLayout))
	return title, b.String()
}

// FormatSummary lists every target grouped by its current status.
func FormatSummary(targets []domain.Target, records map[string]domain.StatusRecord, at time.Time) (title, text string) {
	var up, down, unknown []string
	for _, t := range targets {
		line := "  • " + t.DisplayName()
		switch records[t.URL].LastStatus {
		case domain.StatusUp:
			up = append(up, line)
		case domain.StatusDown:
			down = append(down, line)
		default:
			unknown = append(unknown, line)
		}
	}

	var b strings.Builder
	section := func(label string, lines []string) {
		if len(lines) == 0 {
			return
		}
		b.WriteString(label + ":\n")
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n\n")
	}
	section("✅ UP", up)
	section("🔴 DOWN", down)
	section("❔ UNKNOWN", unknown)
	fmt.Fprintf(&b, "Time: %s", at.Format(timeLayout))
	return "📊 Current Status Summary", b.String()
}

func since(from, to time.Time) string {
	return strings.TrimSpace(humanize.RelTime(from, to, "", ""))
}

func codeText(code int) string {
	if code == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%d", code)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "n/a"
	}
	return s
}

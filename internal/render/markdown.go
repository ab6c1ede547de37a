package render

import (
	"fmt"
	"strings"

	"github.com/nuri428/ontology-chat/internal/backends"
	"github.com/nuri428/ontology-chat/internal/contexteng"
)

const unavailableNote = "_관련 데이터를 가져오지 못했습니다._"

// Sources converts the top context items with URLs into citations, capped at
// max.
func Sources(items []*contexteng.Item, max int) []Citation {
	var out []Citation
	for _, it := range items {
		url, _ := it.Content["url"].(string)
		title := it.Title()
		if title == "" && url == "" {
			continue
		}
		c := Citation{URL: url, Title: title}
		if !it.Timestamp.IsZero() {
			ts := it.Timestamp
			c.PublishedAt = &ts
		}
		out = append(out, c)
		if len(out) == max {
			break
		}
	}
	return out
}

// GraphSamples projects the first max graph rows into plain maps for the
// envelope.
func GraphSamples(rows []backends.GraphRow, max int) []map[string]any {
	var out []map[string]any
	for _, row := range rows {
		sample := map[string]any{"labels": row.Labels}
		for k, v := range row.Props {
			sample[k] = v
		}
		if !row.TS.IsZero() {
			sample["ts"] = row.TS
		}
		out = append(out, sample)
		if len(out) == max {
			break
		}
	}
	return out
}

// FastMarkdown renders the fast-path answer: key findings from the top
// items, an optional quote block, and the source list.
func FastMarkdown(query string, items []*contexteng.Item, snap *backends.StockSnapshot, sources []Citation) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n\n", strings.TrimSpace(query))

	sb.WriteString("### 핵심 정보\n\n")
	if len(items) == 0 {
		sb.WriteString(unavailableNote + "\n\n")
	} else {
		n := len(items)
		if n > 5 {
			n = 5
		}
		for _, it := range items[:n] {
			line := it.Title()
			if line == "" {
				line = clipLine(it.Body(), 60)
			}
			if line == "" {
				continue
			}
			if s := it.Summary(); s != "" {
				fmt.Fprintf(&sb, "- **%s** - %s\n", line, clipLine(s, 120))
			} else {
				fmt.Fprintf(&sb, "- %s\n", line)
			}
		}
		sb.WriteString("\n")
	}

	if snap != nil {
		sb.WriteString("### 시세\n\n")
		fmt.Fprintf(&sb, "| 종목 | 현재가 | 등락률 | 거래량 |\n|---|---|---|---|\n")
		fmt.Fprintf(&sb, "| %s (%s) | %.0f | %+.2f%% | %d |\n\n",
			snap.Name, snap.Symbol, snap.Price, snap.ChangePct, snap.Volume)
	}

	writeSources(&sb, sources)
	return sb.String()
}

// GlossaryMarkdown renders a canned financial-term explanation.
func GlossaryMarkdown(term, explanation string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n\n%s\n", term, explanation)
	return sb.String()
}

// DeepMarkdown finalizes a deep report: the synthesized body (or a stub when
// synthesis produced nothing) followed by sources and graph sample count.
func DeepMarkdown(body string, sources []Citation, samplesShown int) string {
	var sb strings.Builder
	body = strings.TrimSpace(body)
	if body == "" {
		sb.WriteString("## Executive Summary\n\n" + unavailableNote + "\n\n")
		sb.WriteString("## Key Findings\n\n" + unavailableNote + "\n\n")
		sb.WriteString("## Deep Reasoning\n\n" + unavailableNote + "\n")
	} else {
		sb.WriteString(body)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	writeSources(&sb, sources)
	if samplesShown > 0 {
		fmt.Fprintf(&sb, "\n_그래프 근거 %d건 포함_\n", samplesShown)
	}
	return sb.String()
}

func writeSources(sb *strings.Builder, sources []Citation) {
	sb.WriteString("### 참고 자료\n\n")
	if len(sources) == 0 {
		sb.WriteString(unavailableNote + "\n")
		return
	}
	for i, c := range sources {
		title := c.Title
		if title == "" {
			title = c.URL
		}
		if c.URL != "" {
			fmt.Fprintf(sb, "%d. [%s](%s)", i+1, title, c.URL)
		} else {
			fmt.Fprintf(sb, "%d. %s", i+1, title)
		}
		if c.PublishedAt != nil {
			fmt.Fprintf(sb, " (%s)", c.PublishedAt.Format("2006-01-02"))
		}
		sb.WriteString("\n")
	}
}

func clipLine(s string, maxRunes int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + "…"
}

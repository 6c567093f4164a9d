package broadcast

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BTreeMap/KakeruBot/internal/models"
)

const (
	emptyReport      = "📊今週のレポート\n配信記録はありませんでした。"
	reportHeader     = "📊【カケル週間レポート】\n\n"
	reportAIHeader   = "\n🧠【AI分析】\n"
	reportClosing    = "\n\n🌙来週もよろしくお願いします！"
	reportSystemText = "あなたは恋愛相談AI『カケル』の運用アシスタントです。"
)

// typeCount is the number of log rows of one type.
type typeCount struct {
	Type  models.LogType
	Count int
}

// countByType groups rows by type, most frequent first, ties by type name.
func countByType(logs []models.LogEntry) []typeCount {
	counts := make(map[models.LogType]int)
	for _, l := range logs {
		counts[l.Type]++
	}
	out := make([]typeCount, 0, len(counts))
	for t, c := range counts {
		out = append(out, typeCount{Type: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// analysisPrompt is the user prompt sent for the AI summary.
func analysisPrompt(total int, counts []typeCount) string {
	var b strings.Builder
	b.WriteString("以下は過去1週間のLINE Botのログデータです。")
	b.WriteString("全体傾向を簡潔にまとめ、運用改善のヒントを優しく提案してください。\n")
	fmt.Fprintf(&b, "記録総数: %d件\nタイプ別件数:\n", total)
	for _, c := range counts {
		fmt.Fprintf(&b, "- %s: %d\n", c.Type, c.Count)
	}
	return b.String()
}

// renderReport builds the report text. An empty summary omits the AI section.
func renderReport(total int, counts []typeCount, summary string) string {
	if total == 0 {
		return emptyReport
	}
	var b strings.Builder
	b.WriteString(reportHeader)
	fmt.Fprintf(&b, "記録総数：%d件\n\n", total)
	for _, c := range counts {
		fmt.Fprintf(&b, "%s：%d回\n", c.Type, c.Count)
	}
	if summary != "" {
		b.WriteString(reportAIHeader)
		b.WriteString(summary)
	}
	b.WriteString(reportClosing)
	return b.String()
}

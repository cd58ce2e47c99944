package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/klyr/wafcore/internal/logging"
	"github.com/klyr/wafcore/internal/policy"
)

type Summary struct {
	Verdicts      int         `json:"verdicts"`
	Requests      int         `json:"requests"`
	Blocked       int         `json:"blocked"`
	Shadowed      int         `json:"shadowed"`
	FailedOpen    int         `json:"failed_open"`
	FailedClosed  int         `json:"failed_closed"`
	Start         time.Time   `json:"start"`
	End           time.Time   `json:"end"`
	TopRules      []CountItem `json:"top_rules"`
	TopFields     []CountItem `json:"top_fields"`
	TopCategories []CountItem `json:"top_categories"`
	Tiers         []CountItem `json:"tiers"`
	Generations   []CountItem `json:"generations"`
}

type CountItem struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type Reader struct {
	Since time.Time
}

func (r *Reader) Read(path string) ([]logging.Verdict, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return r.decode(file)
}

func (r *Reader) decode(in io.Reader) ([]logging.Verdict, error) {
	var verdicts []logging.Verdict
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var v logging.Verdict
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			return nil, err
		}
		if !r.Since.IsZero() && v.Timestamp.Before(r.Since) {
			continue
		}
		verdicts = append(verdicts, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return verdicts, nil
}

func Summarize(verdicts []logging.Verdict) Summary {
	var summary Summary
	if len(verdicts) == 0 {
		return summary
	}

	summary.Start = verdicts[0].Timestamp
	summary.End = verdicts[0].Timestamp

	requests := map[string]struct{}{}
	ruleCounts := map[string]int{}
	fieldCounts := map[string]int{}
	categoryCounts := map[string]int{}
	tierCounts := map[string]int{}
	generationCounts := map[string]int{}

	for _, v := range verdicts {
		summary.Verdicts++
		if v.Timestamp.Before(summary.Start) {
			summary.Start = v.Timestamp
		}
		if v.Timestamp.After(summary.End) {
			summary.End = v.Timestamp
		}
		requests[v.RequestID] = struct{}{}

		switch policy.Action(v.Action) {
		case policy.ActionBlock:
			summary.Blocked++
		case policy.ActionShadow:
			summary.Shadowed++
		case policy.ActionFailOpen:
			summary.FailedOpen++
		case policy.ActionFailClosed:
			summary.FailedClosed++
		}

		if v.RuleID == "" {
			continue
		}
		ruleCounts[v.RuleID]++
		fieldCounts[v.Field]++
		if v.Category != "" {
			categoryCounts[v.Category]++
		}
		tierCounts[v.Tier]++
		generationCounts[fmt.Sprintf("%d", v.Generation)]++
	}

	summary.Requests = len(requests)
	summary.TopRules = topCounts(ruleCounts, 5)
	summary.TopFields = topCounts(fieldCounts, 5)
	summary.TopCategories = topCounts(categoryCounts, 5)
	summary.Tiers = topCounts(tierCounts, 3)
	summary.Generations = topCounts(generationCounts, 5)

	return summary
}

func topCounts(counts map[string]int, n int) []CountItem {
	items := make([]CountItem, 0, len(counts))
	for key, count := range counts {
		items = append(items, CountItem{Key: key, Count: count})
	}
	if len(items) == 0 {
		return nil
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Count == items[j].Count {
			return items[i].Key < items[j].Key
		}
		return items[i].Count > items[j].Count
	})

	if len(items) > n {
		items = items[:n]
	}
	return items
}

func RenderText(summary Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Verdicts: %d\n", summary.Verdicts)
	fmt.Fprintf(&b, "Requests: %d\n", summary.Requests)
	fmt.Fprintf(&b, "Blocked: %d\n", summary.Blocked)
	fmt.Fprintf(&b, "Shadowed: %d\n", summary.Shadowed)
	fmt.Fprintf(&b, "Failed open/closed: %d/%d\n", summary.FailedOpen, summary.FailedClosed)

	writeCounts(&b, "Top rules", summary.TopRules)
	writeCounts(&b, "Top fields", summary.TopFields)
	writeCounts(&b, "Top categories", summary.TopCategories)
	writeCounts(&b, "Tiers", summary.Tiers)
	writeCounts(&b, "Generations", summary.Generations)

	return b.String()
}

func RenderMarkdown(summary Summary) string {
	var b strings.Builder
	b.WriteString("# wafcore Report\n\n")
	b.WriteString("## Totals\n\n")
	fmt.Fprintf(&b, "- Verdicts: %d\n", summary.Verdicts)
	fmt.Fprintf(&b, "- Requests: %d\n", summary.Requests)
	fmt.Fprintf(&b, "- Blocked: %d\n", summary.Blocked)
	fmt.Fprintf(&b, "- Shadowed: %d\n", summary.Shadowed)
	fmt.Fprintf(&b, "- Failed open/closed: %d/%d\n\n", summary.FailedOpen, summary.FailedClosed)

	writeCountsMarkdown(&b, "Top rules", summary.TopRules)
	writeCountsMarkdown(&b, "Top fields", summary.TopFields)
	writeCountsMarkdown(&b, "Top categories", summary.TopCategories)
	writeCountsMarkdown(&b, "Tiers", summary.Tiers)
	writeCountsMarkdown(&b, "Generations", summary.Generations)

	return b.String()
}

func RenderJSON(summary Summary) ([]byte, error) {
	return json.MarshalIndent(summary, "", "  ")
}

func writeCounts(b *strings.Builder, title string, items []CountItem) {
	if len(items) == 0 {
		fmt.Fprintf(b, "%s: none\n", title)
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
}

func writeCountsMarkdown(b *strings.Builder, title string, items []CountItem) {
	b.WriteString("## ")
	b.WriteString(title)
	b.WriteString("\n\n")
	if len(items) == 0 {
		b.WriteString("- none\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
	b.WriteString("\n")
}

func WriteOutput(path string, content []byte) error {
	if path == "" {
		_, err := io.Copy(os.Stdout, bytes.NewReader(content))
		return err
	}
	return os.WriteFile(path, content, 0o600)
}

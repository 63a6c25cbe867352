package assistant

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"diet-bot/internal/gpt"
)

// Unknown is printed in place of any number the analysis did not provide,
// so a missing estimate never reads as a measured zero.
const Unknown = "н/д"

// Totals are the aggregate macros of an analysed meal. Nil means unknown.
type Totals struct {
	Kcal *float64 `json:"kcal"`
	B    *float64 `json:"b"`
	J    *float64 `json:"j"`
	U    *float64 `json:"u"`
}

// AnalysisTotals reads the total{} object of an analysis document.
func AnalysisTotals(a gpt.Analysis) Totals {
	total, _ := a["total"].(map[string]interface{})
	return Totals{
		Kcal: numberPtr(total, "kcal"),
		B:    numberPtr(total, "b"),
		J:    numberPtr(total, "j"),
		U:    numberPtr(total, "u"),
	}
}

// RenderAnalysis formats one numbered line per item, a totals line and the advice.
func RenderAnalysis(a gpt.Analysis) string {
	var lines []string

	items, _ := a["items"].([]interface{})
	n := 0
	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		n++
		name, _ := item["name"].(string)
		if strings.TrimSpace(name) == "" {
			name = "Блюдо"
		}
		lines = append(lines, fmt.Sprintf("%d. %s — %s г, %s ккал (%s)",
			n, strings.TrimSpace(name),
			formatNumber(numberPtr(item, "grams")),
			formatNumber(numberPtr(item, "kcal")),
			formatMacros(numberPtr(item, "b"), numberPtr(item, "j"), numberPtr(item, "u")),
		))
	}

	t := AnalysisTotals(a)
	lines = append(lines, fmt.Sprintf("Итого: %s ккал (%s)", formatNumber(t.Kcal), formatMacros(t.B, t.J, t.U)))

	text := strings.Join(lines, "\n")
	if advice, _ := a["advice"].(string); strings.TrimSpace(advice) != "" {
		text += "\n\nСовет: " + strings.TrimSpace(advice)
	}
	return text
}

func formatMacros(b, j, u *float64) string {
	return fmt.Sprintf("Б %s / Ж %s / У %s", formatNumber(b), formatNumber(j), formatNumber(u))
}

func formatNumber(v *float64) string {
	if v == nil {
		return Unknown
	}
	return strconv.FormatFloat(math.Round(*v*10)/10, 'f', -1, 64)
}

// numberPtr reads a JSON number or a plain numeric string; anything else is unknown.
func numberPtr(m map[string]interface{}, key string) *float64 {
	if m == nil {
		return nil
	}
	var v float64
	switch raw := m[key].(type) {
	case float64:
		v = raw
	case int:
		v = float64(raw)
	case json.Number:
		f, err := raw.Float64()
		if err != nil {
			return nil
		}
		v = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(raw, ",", ".")), 64)
		if err != nil {
			return nil
		}
		v = f
	default:
		return nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

package observability

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Labels is the label set attached to a metric sample. Insertion order is
// irrelevant: two maps with the same pairs identify the same series.
type Labels map[string]string

// LabelPair is a single name/value pair in canonical order.
type LabelPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

var (
	metricNameRe = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)
	labelNameRe  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// Pairs returns the labels sorted by name.
func (l Labels) Pairs() []LabelPair {
	if len(l) == 0 {
		return nil
	}
	pairs := make([]LabelPair, 0, len(l))
	for k, v := range l {
		pairs = append(pairs, LabelPair{Name: k, Value: v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Name < pairs[j].Name })
	return pairs
}

// Key returns the readable canonical form of the label set, `k1=v1,k2=v2`
// sorted by name.
func (l Labels) Key() string {
	return labelString(l.Pairs())
}

// Map returns a copy of the labels.
func (l Labels) Map() map[string]string {
	out := make(map[string]string, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// pairsKey is the identity key of a sorted label set. The separators are
// bytes that never occur in valid UTF-8, so distinct sets cannot collide.
func pairsKey(pairs []LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(0xfe)
		}
		b.WriteString(p.Name)
		b.WriteByte(0xff)
		b.WriteString(p.Value)
	}
	return b.String()
}

func validMetricName(name string) bool {
	return metricNameRe.MatchString(name)
}

func validLabels(l Labels) bool {
	for k, v := range l {
		if !labelNameRe.MatchString(k) || strings.HasPrefix(k, "__") {
			return false
		}
		if k == "quantile" || !utf8.ValidString(v) {
			return false
		}
	}
	return true
}

// NormalizePath collapses high-cardinality path segments: purely numeric
// segments become {id} and UUID-shaped segments become {uuid}.
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		switch {
		case part == "":
		case isDigits(part):
			parts[i] = "{id}"
		case len(part) == 36 && strings.Count(part, "-") == 4:
			parts[i] = "{uuid}"
		}
	}
	return strings.Join(parts, "/")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

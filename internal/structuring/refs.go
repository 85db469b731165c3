package structuring

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
)

var (
	figurePattern = regexp.MustCompile(`(?i)\b(?:figure|fig\.?)\s*(\d+)`)
	tablePattern  = regexp.MustCompile(`(?i)\b(?:table|tab\.?)\s*(\d+)`)

	figureLiteral = regexp.MustCompile(`^(?:figure|fig\.?)(\d+)$`)
	tableLiteral  = regexp.MustCompile(`^(?:table|tab\.?)(\d+)$`)
)

// References maps literal figure and table mentions on one page to asset
// identifiers. Keys are canonical ("figure:1", "table:2").
type References map[string]string

// BuildReferences scans text for figure and table mentions and resolves
// mention N to the Nth image or table of the page in extraction order.
// Mentions without a matching asset are left out.
func BuildReferences(texts, images, tables []domain.ContentObject) References {
	refs := make(References)
	for _, t := range texts {
		collect(refs, "figure", figurePattern, t.Text, images)
		collect(refs, "table", tablePattern, t.Text, tables)
	}
	return refs
}

func collect(refs References, kind string, pattern *regexp.Regexp, text string, assets []domain.ContentObject) {
	for _, m := range pattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(assets) {
			continue
		}
		refs[refKey(kind, n)] = assets[n-1].Identifier()
	}
}

// Resolve returns the identifier for a literal reference such as
// "Figure 1" or "fig. 1", ignoring case and whitespace.
func (r References) Resolve(value string) (string, bool) {
	norm := normalizeRef(value)
	if m := figureLiteral.FindStringSubmatch(norm); m != nil {
		return r.lookup("figure", m[1])
	}
	if m := tableLiteral.FindStringSubmatch(norm); m != nil {
		return r.lookup("table", m[1])
	}
	return "", false
}

func (r References) lookup(kind, num string) (string, bool) {
	n, err := strconv.Atoi(num)
	if err != nil {
		return "", false
	}
	id, ok := r[refKey(kind, n)]
	return id, ok && id != ""
}

// Labels returns the references keyed by display label, for prompts.
func (r References) Labels() map[string]string {
	out := make(map[string]string, len(r))
	for k, v := range r {
		kind, num, _ := strings.Cut(k, ":")
		out[strings.ToUpper(kind[:1])+kind[1:]+" "+num] = v
	}
	return out
}

func refKey(kind string, n int) string {
	return fmt.Sprintf("%s:%d", kind, n)
}

func normalizeRef(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

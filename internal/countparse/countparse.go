// Package countparse turns the abbreviated and localized count strings shown on
// profile pages ("1,234 followers", "1.2M followers", "10,5K followers") into
// integers.
package countparse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultMarker is the word that must follow a number for it to count.
const DefaultMarker = "follower"

var (
	million  = decimal.NewFromInt(1_000_000)
	thousand = decimal.NewFromInt(1_000)
	maxInt64 = decimal.NewFromInt(1<<63 - 1)
)

// gap matches the separators pages put between a number, its suffix and the
// marker, including no-break and narrow no-break spaces. RE2's \s is ASCII only.
const gap = `[\s\v\p{Zs}]*`

type family struct {
	name       string
	re         *regexp.Regexp
	multiplier decimal.Decimal // zero for the plain form
}

// Parser is a compiled set of pattern families for one marker word. It is
// immutable and safe for concurrent use.
type Parser struct {
	marker   string
	families []family
}

var defaultParser = New(DefaultMarker)

// New compiles a parser for the given marker. A trailing plural "s" is dropped
// so "followers" and "follower" behave the same; an empty marker falls back to
// DefaultMarker.
func New(marker string) *Parser {
	m := strings.ToLower(strings.TrimSpace(marker))
	m = strings.TrimSuffix(m, "s")
	if m == "" {
		m = DefaultMarker
	}
	quoted := regexp.QuoteMeta(m)

	// Order matters: the plain form would otherwise match the mantissa of a
	// suffixed value.
	return &Parser{
		marker: m,
		families: []family{
			{name: "million", re: regexp.MustCompile(`([\d,.]+)` + gap + `m` + gap + quoted + `s?`), multiplier: million},
			{name: "thousand", re: regexp.MustCompile(`([\d,.]+)` + gap + `k` + gap + quoted + `s?`), multiplier: thousand},
			{name: "plain", re: regexp.MustCompile(`([\d,.]+)` + gap + quoted + `s?`)},
		},
	}
}

// Marker returns the normalized marker word.
func (p *Parser) Marker() string { return p.marker }

// Parse returns the count in text, or false when no family yields a value.
func (p *Parser) Parse(text string) (int64, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return 0, false
	}

	for _, f := range p.families {
		match := f.re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		var (
			n  int64
			ok bool
		)
		if f.multiplier.IsZero() {
			n, ok = parsePlain(match[1])
		} else {
			n, ok = parseSuffixed(match[1], f.multiplier)
		}
		if ok {
			return n, true
		}
	}
	return 0, false
}

// Contains reports whether text mentions the marker at all. The body-scan
// strategy uses it to pick candidate lines.
func (p *Parser) Contains(text string) bool {
	return strings.Contains(strings.ToLower(text), p.marker)
}

// Parse uses the default "follower" marker.
func Parse(text string) (int64, bool) {
	return defaultParser.Parse(text)
}

// parseSuffixed treats ',' as a decimal separator and truncates the product.
func parseSuffixed(mantissa string, multiplier decimal.Decimal) (int64, bool) {
	d, err := decimal.NewFromString(strings.ReplaceAll(mantissa, ",", "."))
	if err != nil || d.IsNegative() {
		return 0, false
	}
	product := d.Mul(multiplier).Truncate(0)
	if product.GreaterThan(maxInt64) {
		return 0, false
	}
	return product.IntPart(), true
}

// parsePlain treats both ',' and '.' as thousands separators.
func parsePlain(group string) (int64, bool) {
	clean := strings.NewReplacer(",", "", ".", "").Replace(group)
	if clean == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(clean, 10, 64); err == nil {
		return n, true
	}
	d, err := decimal.NewFromString(clean)
	if err != nil || d.GreaterThan(maxInt64) {
		return 0, false
	}
	return d.Truncate(0).IntPart(), true
}

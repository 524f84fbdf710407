package parser

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"SigPull/internal/domain/models"

	"github.com/shopspring/decimal"
)

// ErrEmptyMessage is returned only for a fully empty input. Whitespace-only
// text still parses (to an UNKNOWN asset) so that noisy channels produce an
// observable outcome instead of an error.
var ErrEmptyMessage = errors.New("parser: empty message")

// UnknownAsset is used when no ticker could be extracted.
const UnknownAsset = "UNKNOWN"

// Overrides carry explicit fields that always win over parsed values.
type Overrides struct {
	Asset      string
	SignalType string
	Channel    string
	Source     models.Source
	EventAt    *time.Time
}

var (
	// number tokens, for thousands/decimal separator normalization
	numTokenRe = regexp.MustCompile(`\d[\d.,]*\d|\d`)

	assetLabelRe  = regexp.MustCompile(`ATIVO\s*:?\s*([A-Z]{2,10}\d{1,3}[A-Z]?)`)
	assetTickerRe = regexp.MustCompile(`\b([A-Z]{4,}\d+[A-Z]?)\b`)
	assetWordRe   = regexp.MustCompile(`\b([A-Z]{4,})\b`)

	buyRe = regexp.MustCompile(
		`COMPRAR?\s*:?\s*(?:DE\s+|MIN\.?\s*:?\s*)?(\d+(?:\.\d+)?)` +
			`(?:\s*(?:ATÉ|A|-)\s*(?:MAX\.?\s*:?\s*)?(\d+(?:\.\d+)?))?`)

	targetIdxRe   = regexp.MustCompile(`ALVO\s*(\d+)\s*:\s*(\d+(?:\.\d+)?)`)
	targetFinalRe = regexp.MustCompile(`ALVO\s*(?:FINAL|GERAL)\s*:?\s*(\d+(?:\.\d+)?)`)
	stopRe        = regexp.MustCompile(`STOP(?:\s*LOSS)?\s*:?\s*(\d+(?:\.\d+)?)`)
)

// label words never chosen as a plain-word asset fallback
var reservedWords = map[string]struct{}{
	"ATIVO": {}, "COMPRA": {}, "COMPRAR": {}, "ALVO": {},
	"STOP": {}, "LOSS": {}, "FINAL": {}, "GERAL": {},
}

// Parse extracts a structured signal from free text. It never fails for
// non-empty input; missing fields stay nil and validation happens downstream.
func Parse(text string, ov *Overrides) (*models.ParsedSignal, error) {
	if text == "" {
		return nil, ErrEmptyMessage
	}

	raw := normalizeRaw(text)
	work := normalizeNumerals(strings.ToUpper(raw))

	now := time.Now()
	sig := &models.ParsedSignal{
		Asset:      extractAsset(work),
		SignalType: models.DefaultSignalType,
		Source:     models.SourceManual,
		RawMessage: raw,
		EventAt:    now,
		IngestedAt: now,
	}

	sig.BuyMin, sig.BuyMax = extractBuyRange(work)
	targets := extractTargets(work)
	if v, ok := targets[1]; ok {
		sig.Target1 = v
	}
	if v, ok := targets[2]; ok {
		sig.Target2 = v
	}
	sig.TargetFinal = extractFinalTarget(work, targets)
	sig.Stop = extractDecimal(stopRe, work)

	applyOverrides(sig, ov)
	return sig, nil
}

// normalizeRaw strips carriage returns, flattens newlines and trims. The
// result is the idempotency key material, preserved case and all.
func normalizeRaw(text string) string {
	s := strings.ReplaceAll(text, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

// normalizeNumerals collapses "." used as a thousands separator and converts
// "," used as a decimal separator, so "1.250,50" and "1250.50" read the same.
func normalizeNumerals(s string) string {
	return numTokenRe.ReplaceAllStringFunc(s, func(tok string) string {
		if !strings.Contains(tok, ",") {
			return tok
		}
		tok = strings.ReplaceAll(tok, ".", "")
		return strings.ReplaceAll(tok, ",", ".")
	})
}

// extractAsset applies the ticker priority chain: labelled token with
// letters+digits, then any 4+ letter run followed by digits, then any 4+
// letter run, then UNKNOWN.
func extractAsset(work string) string {
	if m := assetLabelRe.FindStringSubmatch(work); m != nil {
		return m[1]
	}
	if m := assetTickerRe.FindStringSubmatch(work); m != nil {
		return m[1]
	}
	for _, m := range assetWordRe.FindAllStringSubmatch(work, -1) {
		if _, reserved := reservedWords[m[1]]; !reserved {
			return m[1]
		}
	}
	return UnknownAsset
}

func extractBuyRange(work string) (*decimal.Decimal, *decimal.Decimal) {
	m := buyRe.FindStringSubmatch(work)
	if m == nil {
		return nil, nil
	}
	lo := parseDecimal(m[1])
	if lo == nil {
		return nil, nil
	}
	hi := parseDecimal(m[2])
	if hi == nil {
		hi = lo
	}
	if hi.LessThan(*lo) {
		lo, hi = hi, lo
	}
	return lo, hi
}

func extractTargets(work string) map[int]*decimal.Decimal {
	targets := make(map[int]*decimal.Decimal)
	for _, m := range targetIdxRe.FindAllStringSubmatch(work, -1) {
		idx := 0
		for _, c := range m[1] {
			idx = idx*10 + int(c-'0')
		}
		if v := parseDecimal(m[2]); v != nil {
			targets[idx] = v
		}
	}
	return targets
}

// extractFinalTarget prefers an explicit ALVO FINAL|GERAL label and falls
// back to the highest-indexed target found.
func extractFinalTarget(work string, targets map[int]*decimal.Decimal) *decimal.Decimal {
	if m := targetFinalRe.FindStringSubmatch(work); m != nil {
		if v := parseDecimal(m[1]); v != nil {
			return v
		}
	}
	if len(targets) == 0 {
		return nil
	}
	idxs := make([]int, 0, len(targets))
	for i := range targets {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	return targets[idxs[len(idxs)-1]]
}

func extractDecimal(re *regexp.Regexp, work string) *decimal.Decimal {
	m := re.FindStringSubmatch(work)
	if m == nil {
		return nil
	}
	return parseDecimal(m[1])
}

func parseDecimal(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

func applyOverrides(sig *models.ParsedSignal, ov *Overrides) {
	if ov == nil {
		return
	}
	if ov.Asset != "" {
		sig.Asset = strings.ToUpper(strings.TrimSpace(ov.Asset))
	}
	if ov.SignalType != "" {
		sig.SignalType = ov.SignalType
	}
	if ov.Channel != "" {
		sig.Channel = ov.Channel
	}
	if ov.Source != "" {
		sig.Source = ov.Source
	}
	if ov.EventAt != nil {
		sig.EventAt = *ov.EventAt
	}
}

package geometry

import (
	"regexp"
	"strings"
)

// DefaultSkipKeywords mark parts that keep their authored material.
var DefaultSkipKeywords = []string{
	"tire", "tyre", "wheel", "rim", "glass", "window", "windshield", "windscreen",
	"chrome", "mirror", "light", "headlight", "taillight", "lamp", "rubber",
	"plastic_black", "interior", "seat", "dashboard", "steering", "grille", "grill",
	"exhaust", "brake",
}

// DefaultBodyKeywords mark parts that take the selected paint color.
var DefaultBodyKeywords = []string{
	"body", "paint", "car", "exterior", "panel", "hood", "bonnet", "fender", "door",
	"trunk", "boot", "bumper", "roof", "quarter", "side", "metal", "frame", "cowl",
	"fairing", "tank", "fuel",
}

// genericMaterialName matches exporter default names such as "Material.001"
// or "default".
var genericMaterialName = regexp.MustCompile(`^(material|mat|default|defaultmaterial|default_material|untitled|none)?([ ._#-]*\d*)$`)

// Part is a renderable surface as seen by a classifier: its material name
// and the names of the meshes that use it.
type Part struct {
	Material string
	Meshes   []string
}

// PaintDecision is the outcome of classifying a part.
type PaintDecision struct {
	Paint   bool
	Reason  string
	Keyword string
}

// Decision reasons.
const (
	ReasonSkipKeyword = "skip_keyword"
	ReasonBodyKeyword = "body_keyword"
	ReasonGeneric     = "generic_material"
	ReasonUnmatched   = "unmatched"
)

// Classifier decides whether a part is paintable.
type Classifier interface {
	Classify(p Part) PaintDecision
}

// KeywordClassifier matches lower-cased material and mesh names against a
// skip list and a body list. The skip list is checked first and wins.
type KeywordClassifier struct {
	Skip []string
	Body []string
}

// NewKeywordClassifier returns a classifier with the default keyword lists.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{Skip: DefaultSkipKeywords, Body: DefaultBodyKeywords}
}

// Classify implements Classifier.
func (c *KeywordClassifier) Classify(p Part) PaintDecision {
	names := make([]string, 0, len(p.Meshes)+1)
	names = append(names, strings.ToLower(strings.TrimSpace(p.Material)))
	for _, m := range p.Meshes {
		names = append(names, strings.ToLower(m))
	}

	if kw, ok := firstMatch(names, c.Skip); ok {
		return PaintDecision{Paint: false, Reason: ReasonSkipKeyword, Keyword: kw}
	}
	if kw, ok := firstMatch(names, c.Body); ok {
		return PaintDecision{Paint: true, Reason: ReasonBodyKeyword, Keyword: kw}
	}
	if genericMaterialName.MatchString(names[0]) {
		return PaintDecision{Paint: true, Reason: ReasonGeneric}
	}
	return PaintDecision{Paint: false, Reason: ReasonUnmatched}
}

func firstMatch(names, keywords []string) (string, bool) {
	for _, kw := range keywords {
		for _, n := range names {
			if n != "" && strings.Contains(n, kw) {
				return kw, true
			}
		}
	}
	return "", false
}

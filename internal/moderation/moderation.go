// Package moderation gates candidate messages before submission: a denylist
// scan, a text-toxicity classifier and a per-attachment image classifier.
package moderation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charla-social/charla/internal/store"
	"go.uber.org/zap"
)

// Outcome is the result of a gate evaluation.
type Outcome string

const (
	Accepted Outcome = "accepted"
	Rejected Outcome = "rejected"
)

// CategoryScore names a triggering category with its probability. Score is 1
// for denylist hits.
type CategoryScore struct {
	Category string
	Score    float64
}

// Verdict is the ephemeral outcome of one evaluation. It is never persisted.
type Verdict struct {
	Outcome    Outcome
	Reason     string
	Categories []CategoryScore
}

// Accepted reports whether the candidate may be submitted.
func (v Verdict) Accepted() bool { return v.Outcome == Accepted }

// RejectionError carries a rejection verdict up to the submit call site. It
// is user-correctable: the submission is aborted and nothing is committed.
type RejectionError struct {
	Verdict Verdict
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("message rejected by moderation: %s", e.Verdict.Reason)
}

// Candidate is the content of a message about to be submitted.
type Candidate struct {
	Text        string
	Attachments []store.Attachment
}

// TextClassifier scores text against monitored toxicity categories,
// returning per-category probabilities in [0,1].
type TextClassifier interface {
	Classify(ctx context.Context, text string) (map[string]float64, error)
}

// ImageClassifier scores an image against NSFW categories, returning
// per-category probabilities in [0,1].
type ImageClassifier interface {
	Classify(ctx context.Context, imageURL string) (map[string]float64, error)
}

// Policy decides what a classifier failure means.
type Policy string

const (
	// FailClosed rejects the candidate when a classifier is unavailable.
	FailClosed Policy = "closed"
	// FailOpen skips the failed check and logs. The denylist is still
	// enforced: it never depends on classifier availability.
	FailOpen Policy = "open"
)

// Options tune a Gate. Zero-value fields fall back to defaults.
type Options struct {
	Denylist        []string
	TextThresholds  map[string]float64
	ImageThresholds map[string]float64
	FailPolicy      Policy
}

// DefaultTextThresholds monitor the categories the text classifier reports.
func DefaultTextThresholds() map[string]float64 {
	return map[string]float64{
		"toxicity":        0.85,
		"severe_toxicity": 0.70,
		"identity_attack": 0.80,
		"insult":          0.80,
		"threat":          0.80,
	}
}

// DefaultImageThresholds monitor the categories the image classifier reports.
func DefaultImageThresholds() map[string]float64 {
	return map[string]float64{
		"porn":   0.70,
		"hentai": 0.70,
		"sexy":   0.85,
	}
}

// Gate evaluates candidates. It holds no mutable state: evaluation is pure
// and the caller owns surfacing the verdict.
type Gate struct {
	text     TextClassifier
	image    ImageClassifier
	denylist []string
	textThr  map[string]float64
	imageThr map[string]float64
	policy   Policy
	logger   *zap.Logger
}

// NewGate creates a gate. text and image may be nil (check skipped under
// FailOpen, rejected under FailClosed when relevant content is present).
func NewGate(text TextClassifier, image ImageClassifier, opts Options, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TextThresholds == nil {
		opts.TextThresholds = DefaultTextThresholds()
	}
	if opts.ImageThresholds == nil {
		opts.ImageThresholds = DefaultImageThresholds()
	}
	if opts.FailPolicy == "" {
		opts.FailPolicy = FailClosed
	}
	denylist := make([]string, 0, len(opts.Denylist))
	for _, term := range opts.Denylist {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			denylist = append(denylist, term)
		}
	}
	return &Gate{
		text:     text,
		image:    image,
		denylist: denylist,
		textThr:  opts.TextThresholds,
		imageThr: opts.ImageThresholds,
		policy:   opts.FailPolicy,
		logger:   logger,
	}
}

// Evaluate runs every check over the candidate and returns the verdict. The
// denylist runs first (cheapest, always available); then the text classifier
// when text is present; then the image classifier per image attachment. Only
// a candidate passing everything is accepted.
func (g *Gate) Evaluate(ctx context.Context, c Candidate) Verdict {
	if c.Text != "" {
		if terms := g.denylistMatches(c.Text); len(terms) > 0 {
			cats := make([]CategoryScore, 0, len(terms))
			for _, term := range terms {
				cats = append(cats, CategoryScore{Category: "denylist:" + term, Score: 1})
			}
			return Verdict{
				Outcome:    Rejected,
				Reason:     "el mensaje contiene términos no permitidos",
				Categories: cats,
			}
		}

		if v, ok := g.checkText(ctx, c.Text); !ok {
			return v
		}
	}

	for _, att := range c.Attachments {
		if att.Kind != store.AttachmentImage {
			continue
		}
		if v, ok := g.checkImage(ctx, att); !ok {
			return v
		}
	}

	return Verdict{Outcome: Accepted}
}

func (g *Gate) checkText(ctx context.Context, text string) (Verdict, bool) {
	if g.text == nil {
		return g.unavailable("text classifier not configured")
	}
	scores, err := g.text.Classify(ctx, text)
	if err != nil {
		return g.unavailable(fmt.Sprintf("text classifier: %v", err))
	}
	if over := exceeding(scores, g.textThr); len(over) > 0 {
		return Verdict{
			Outcome:    Rejected,
			Reason:     "el texto fue marcado como inapropiado",
			Categories: over,
		}, false
	}
	return Verdict{}, true
}

func (g *Gate) checkImage(ctx context.Context, att store.Attachment) (Verdict, bool) {
	if g.image == nil {
		return g.unavailable("image classifier not configured")
	}
	scores, err := g.image.Classify(ctx, att.URL)
	if err != nil {
		return g.unavailable(fmt.Sprintf("image classifier: %v", err))
	}
	if over := exceeding(scores, g.imageThr); len(over) > 0 {
		return Verdict{
			Outcome:    Rejected,
			Reason:     fmt.Sprintf("la imagen %s fue marcada como inapropiada", att.Name),
			Categories: over,
		}, false
	}
	return Verdict{}, true
}

// unavailable applies the failure policy to a broken check.
func (g *Gate) unavailable(detail string) (Verdict, bool) {
	if g.policy == FailOpen {
		g.logger.Warn("moderation check skipped", zap.String("detail", detail))
		return Verdict{}, true
	}
	g.logger.Warn("moderation check failed closed", zap.String("detail", detail))
	return Verdict{
		Outcome: Rejected,
		Reason:  "la verificación de contenido no está disponible",
	}, false
}

func (g *Gate) denylistMatches(text string) []string {
	folded := strings.ToLower(text)
	tokens := tokenize(folded)
	var hits []string
	for _, term := range g.denylist {
		if strings.ContainsRune(term, ' ') {
			if strings.Contains(folded, term) {
				hits = append(hits, term)
			}
			continue
		}
		if _, ok := tokens[term]; ok {
			hits = append(hits, term)
		}
	}
	return hits
}

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r < 0x80
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func exceeding(scores, thresholds map[string]float64) []CategoryScore {
	var over []CategoryScore
	for cat, thr := range thresholds {
		if score, ok := scores[cat]; ok && score >= thr {
			over = append(over, CategoryScore{Category: cat, Score: score})
		}
	}
	sort.Slice(over, func(i, j int) bool { return over[i].Category < over[j].Category })
	return over
}

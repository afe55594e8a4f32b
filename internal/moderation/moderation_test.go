package moderation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charla-social/charla/internal/store"
)

type fakeClassifier struct {
	scores map[string]float64
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(_ context.Context, _ string) (map[string]float64, error) {
	f.calls++
	return f.scores, f.err
}

func cleanClassifier() *fakeClassifier {
	return &fakeClassifier{scores: map[string]float64{"toxicity": 0.01}}
}

func TestAcceptsCleanText(t *testing.T) {
	g := NewGate(cleanClassifier(), nil, Options{}, nil)
	v := g.Evaluate(context.Background(), Candidate{Text: "hola, ¿cómo estás?"})
	if !v.Accepted() {
		t.Errorf("verdict = %+v, want accepted", v)
	}
}

func TestRejectsToxicText(t *testing.T) {
	text := &fakeClassifier{scores: map[string]float64{"toxicity": 0.97, "insult": 0.91}}
	g := NewGate(text, nil, Options{}, nil)

	v := g.Evaluate(context.Background(), Candidate{Text: "..."})
	if v.Accepted() {
		t.Fatal("want rejected")
	}
	if len(v.Categories) != 2 {
		t.Errorf("categories = %+v, want insult and toxicity", v.Categories)
	}
}

func TestDenylistRejectsBeforeClassifier(t *testing.T) {
	text := cleanClassifier()
	g := NewGate(text, nil, Options{Denylist: []string{"Vendo", "mal rollo"}}, nil)

	v := g.Evaluate(context.Background(), Candidate{Text: "VENDO entradas baratas"})
	if v.Accepted() {
		t.Fatal("want rejected on denylist hit")
	}
	if text.calls != 0 {
		t.Errorf("classifier called %d times, want 0 (denylist checked first)", text.calls)
	}
}

func TestDenylistMatchesWholeWordsOnly(t *testing.T) {
	g := NewGate(cleanClassifier(), nil, Options{Denylist: []string{"ass"}}, nil)
	v := g.Evaluate(context.Background(), Candidate{Text: "passing the class"})
	if !v.Accepted() {
		t.Errorf("verdict = %+v, substring inside a word should not match", v)
	}
}

func TestDenylistPhraseMatch(t *testing.T) {
	g := NewGate(cleanClassifier(), nil, Options{Denylist: []string{"mal rollo"}}, nil)
	v := g.Evaluate(context.Background(), Candidate{Text: "qué mal rollo tienes"})
	if v.Accepted() {
		t.Error("multi-word term should match as a phrase")
	}
}

// The denylist never depends on classifier availability: a listed term is
// rejected even when every classifier is down.
func TestDenylistHoldsUnderClassifierFailure(t *testing.T) {
	broken := &fakeClassifier{err: errors.New("model failed to load")}
	for _, policy := range []Policy{FailClosed, FailOpen} {
		g := NewGate(broken, nil, Options{Denylist: []string{"vendo"}, FailPolicy: policy}, nil)
		v := g.Evaluate(context.Background(), Candidate{Text: "vendo de todo"})
		if v.Accepted() {
			t.Errorf("policy %s: want rejected on denylist despite classifier failure", policy)
		}
	}
}

func TestFailClosedRejectsOnClassifierError(t *testing.T) {
	broken := &fakeClassifier{err: errors.New("boom")}
	g := NewGate(broken, nil, Options{FailPolicy: FailClosed}, nil)

	v := g.Evaluate(context.Background(), Candidate{Text: "hola"})
	if v.Accepted() {
		t.Error("fail-closed gate should reject when the classifier errors")
	}
}

func TestFailOpenSkipsBrokenCheck(t *testing.T) {
	broken := &fakeClassifier{err: errors.New("boom")}
	g := NewGate(broken, nil, Options{FailPolicy: FailOpen}, nil)

	v := g.Evaluate(context.Background(), Candidate{Text: "hola"})
	if !v.Accepted() {
		t.Errorf("verdict = %+v, fail-open gate should accept", v)
	}
}

func TestRejectsNSFWImage(t *testing.T) {
	image := &fakeClassifier{scores: map[string]float64{"porn": 0.92}}
	g := NewGate(cleanClassifier(), image, Options{}, nil)

	v := g.Evaluate(context.Background(), Candidate{
		Text: "mira esto",
		Attachments: []store.Attachment{
			{URL: "https://cdn/a.jpg", Kind: store.AttachmentImage, Name: "a.jpg"},
		},
	})
	if v.Accepted() {
		t.Fatal("want rejected on NSFW image")
	}
	if len(v.Categories) != 1 || v.Categories[0].Category != "porn" {
		t.Errorf("categories = %+v", v.Categories)
	}
}

func TestNonImageAttachmentsSkipImageClassifier(t *testing.T) {
	image := &fakeClassifier{scores: map[string]float64{"porn": 0.99}}
	g := NewGate(cleanClassifier(), image, Options{}, nil)

	v := g.Evaluate(context.Background(), Candidate{
		Text: "te mando el documento",
		Attachments: []store.Attachment{
			{URL: "https://cdn/doc.pdf", Kind: store.AttachmentFile, Name: "doc.pdf"},
			{URL: "https://cdn/v.mp4", Kind: store.AttachmentVideo, Name: "v.mp4"},
		},
	})
	if !v.Accepted() {
		t.Errorf("verdict = %+v, want accepted", v)
	}
	if image.calls != 0 {
		t.Errorf("image classifier called %d times for non-image attachments", image.calls)
	}
}

func TestAttachmentOnlyCandidateSkipsTextChecks(t *testing.T) {
	text := &fakeClassifier{err: errors.New("should not be called")}
	image := &fakeClassifier{scores: map[string]float64{"porn": 0.01}}
	g := NewGate(text, image, Options{}, nil)

	v := g.Evaluate(context.Background(), Candidate{
		Attachments: []store.Attachment{
			{URL: "https://cdn/a.jpg", Kind: store.AttachmentImage},
		},
	})
	if !v.Accepted() {
		t.Errorf("verdict = %+v, want accepted", v)
	}
	if text.calls != 0 {
		t.Error("text classifier should not run on empty text")
	}
}

func TestHTTPTextClassifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		_, _ = w.Write([]byte(`{"scores":{"toxicity":0.93}}`))
	}))
	defer srv.Close()

	c := NewHTTPTextClassifier(srv.URL, time.Second)
	scores, err := c.Classify(context.Background(), "texto")
	if err != nil {
		t.Fatal(err)
	}
	if scores["toxicity"] != 0.93 {
		t.Errorf("scores = %v", scores)
	}
}

func TestHTTPClassifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPImageClassifier(srv.URL, time.Second)
	if _, err := c.Classify(context.Background(), "https://cdn/a.jpg"); err == nil {
		t.Error("want error on HTTP 500")
	}
}

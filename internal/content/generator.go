// Package content – daily content generation
//
// This file implements the Generator used to produce the per-day material a
// confirmed program stores ahead of delivery. The default implementation is
// retrieval-backed: it queries a Markdown passage corpus for the program topic
// combined with the day's theme and composes the category-specific sections
// (reading, prayer, declaration, meditation guide, accountability plan) from
// the best-matching passages. Generation is deterministic for a given corpus,
// topic, day and kind, so regenerating a day reproduces the same payload.
//
// Video-kind devotions are decorated with a recommendation from the video
// package; recommendation failures degrade to text-only content and never fail
// the generation itself.
package content

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dscpl/go-dscpl-backend/internal/corpus"
	"github.com/dscpl/go-dscpl-backend/internal/domain"
	"github.com/dscpl/go-dscpl-backend/internal/video"
)

// Payload keys shared with the delivery formatting layer.
const (
	KeyTitle       = "title"
	KeyScripture   = "scripture"
	KeyPrayer      = "prayer"
	KeyDeclaration = "declaration"
	KeyPrompts     = "prompts"
	KeyBreathing   = "breathing"
	KeyActionPlan  = "action_plan"
	KeyVideo       = "video_recommendation"
)

// NoVideoFound is stored when a video-kind day could not be matched to a clip.
const NoVideoFound = "No videos found for this topic"

// Generator produces the stored payload for one program day, and the
// free-form emergency support text used by the SOS detour.
type Generator interface {
	// Generate builds the payload for the given category/topic/day. The theme
	// is the day-progression label the caller resolved for the day. kind only
	// affects devotion content.
	Generate(ctx context.Context, category domain.Category, topic string, day int, theme string, kind domain.ContentKind) (domain.Payload, error)

	// SOS builds immediate support text for the given struggle topic.
	SOS(ctx context.Context, topic string) (string, error)
}

// CorpusGenerator is the retrieval-backed Generator. Videos is optional;
// when nil, video-kind devotions fall back to text with a no-video marker.
type CorpusGenerator struct {
	Library corpus.Library
	Videos  video.Recommender
}

// NewCorpusGenerator constructs a CorpusGenerator over the given library.
func NewCorpusGenerator(lib corpus.Library, vids video.Recommender) *CorpusGenerator {
	return &CorpusGenerator{Library: lib, Videos: vids}
}

// Generate composes the payload for one day. Unknown program categories
// (just_chat, view_progress) have no daily content and return an error.
func (g *CorpusGenerator) Generate(ctx context.Context, category domain.Category, topic string, day int, theme string, kind domain.ContentKind) (domain.Payload, error) {
	passages := g.retrieve(category, topic, theme)

	switch category {
	case domain.CategoryDevotion:
		return g.devotion(ctx, topic, day, theme, kind, passages), nil
	case domain.CategoryPrayer:
		return g.prayer(topic, day, theme, passages), nil
	case domain.CategoryMeditation:
		return g.meditation(topic, day, theme, passages), nil
	case domain.CategoryAccountability:
		return g.accountability(topic, day, theme, passages), nil
	default:
		return nil, fmt.Errorf("category %q has no daily content", category)
	}
}

// SOS composes emergency support for a struggle topic: encouragement,
// scripture for strength, concrete next steps and a short prayer.
func (g *CorpusGenerator) SOS(_ context.Context, topic string) (string, error) {
	passages := g.retrieve(domain.CategoryAccountability, topic, "strength in crisis")
	p := passages[0]

	var b strings.Builder
	fmt.Fprintf(&b, "You are not alone in this moment. The pull of %s is real, but it does not get the last word over you.\n\n", strings.ToLower(topic))
	fmt.Fprintf(&b, "Scripture for strength (%s): %s\n\n", p.Ref, p.Text)
	b.WriteString("Right now:\n")
	b.WriteString("1. Step away from the situation, even for two minutes.\n")
	b.WriteString("2. Read the passage above slowly, out loud if you can.\n")
	b.WriteString("3. Message someone you trust and tell them you are struggling.\n\n")
	fmt.Fprintf(&b, "Prayer: God, I need you right now. Meet me in this struggle with %s, steady me, and carry me through the next hour. Amen.", strings.ToLower(topic))
	return b.String(), nil
}

// retrieve queries the library for topic+theme and guarantees at least one
// passage by falling back to the category default.
func (g *CorpusGenerator) retrieve(category domain.Category, topic, theme string) []corpus.Passage {
	if g.Library != nil {
		if got := g.Library.TopK(topic+" "+theme, 3); len(got) > 0 {
			return got
		}
		// Retry without the theme; short corpora often match the topic alone.
		if got := g.Library.TopK(topic, 3); len(got) > 0 {
			return got
		}
	}
	return []corpus.Passage{fallbackPassage(category)}
}

func (g *CorpusGenerator) devotion(ctx context.Context, topic string, day int, theme string, kind domain.ContentKind, passages []corpus.Passage) domain.Payload {
	p := passages[0]
	out := domain.Payload{
		KeyTitle:     fmt.Sprintf("Day %d: %s", day, titleCase(theme)),
		KeyScripture: fmt.Sprintf("%s: %s", p.Ref, p.Text),
	}

	if kind != domain.ContentVideo {
		out[KeyPrayer] = composePrayer(topic, theme, p)
		out[KeyDeclaration] = fmt.Sprintf(
			"Today, on the theme of %s, I declare that %s does not define me. %s holds true for me, and I walk in it.",
			theme, strings.ToLower(topic), p.Ref)
	}
	if kind == domain.ContentVideo || kind == domain.ContentBoth {
		out[KeyVideo] = g.recommend(ctx, topic+" "+theme, p.Text)
	}
	return out
}

func (g *CorpusGenerator) prayer(topic string, day int, theme string, passages []corpus.Passage) domain.Payload {
	p := passages[0]
	var b strings.Builder
	fmt.Fprintf(&b, "Adoration: God, you are faithful beyond my circumstances around %s.\n", strings.ToLower(topic))
	fmt.Fprintf(&b, "Confession: I admit the ways I have carried %s alone instead of bringing it to you.\n", strings.ToLower(topic))
	fmt.Fprintf(&b, "Thanksgiving: Thank you for your word in %s: %s\n", p.Ref, p.Text)
	fmt.Fprintf(&b, "Supplication: On this day of %s, shape my heart around %s and lead me forward.", theme, strings.ToLower(topic))
	return domain.Payload{
		KeyTitle:     fmt.Sprintf("Day %d Prayer: %s", day, titleCase(theme)),
		KeyScripture: fmt.Sprintf("%s: %s", p.Ref, p.Text),
		KeyPrayer:    b.String(),
	}
}

func (g *CorpusGenerator) meditation(topic string, day int, theme string, passages []corpus.Passage) domain.Payload {
	p := passages[0]
	prompts := fmt.Sprintf(
		"What does %s reveal about %s? Where in your day does the theme of %s meet you? Sit with one phrase from the passage and return to it when your attention drifts.",
		p.Ref, strings.ToLower(topic), theme)
	return domain.Payload{
		KeyTitle:     fmt.Sprintf("Day %d Meditation: %s", day, titleCase(theme)),
		KeyScripture: fmt.Sprintf("%s: %s", p.Ref, p.Text),
		KeyPrompts:   prompts,
		KeyBreathing: "Inhale slowly for four counts, hold for four, exhale for four. Repeat for five cycles while holding today's passage in mind.",
	}
}

func (g *CorpusGenerator) accountability(topic string, day int, theme string, passages []corpus.Passage) domain.Payload {
	p := passages[0]
	return domain.Payload{
		KeyTitle:     fmt.Sprintf("Day %d Accountability: %s", day, titleCase(theme)),
		KeyScripture: fmt.Sprintf("%s: %s", p.Ref, p.Text),
		KeyDeclaration: fmt.Sprintf(
			"I am not a slave to %s. Freedom is mine, and today's focus on %s is one more step into it.",
			strings.ToLower(topic), theme),
		KeyActionPlan: fmt.Sprintf(
			"1. Name the moment %s is most likely to surface today and plan your exit in advance.\n2. Tell your accountability partner today's theme: %s.\n3. Before sleep, note one win from the day, however small.",
			strings.ToLower(topic), theme),
	}
}

// recommend asks the Recommender for a clip; failures degrade to no-video.
func (g *CorpusGenerator) recommend(ctx context.Context, query, passage string) string {
	if g.Videos == nil {
		return NoVideoFound
	}
	v, err := g.Videos.Best(ctx, query, passage)
	if err != nil {
		log.Warn().Err(err).Msg("video recommendation failed; degrading to text")
		return NoVideoFound
	}
	if v == nil {
		return NoVideoFound
	}
	return fmt.Sprintf("%s (%s)", v.Title, v.URL)
}

func composePrayer(topic, theme string, p corpus.Passage) string {
	return fmt.Sprintf(
		"Father, as I focus on %s today, anchor me in the truth of %s. Let the theme of %s take root in how I think and act, and keep me honest with you about where I am. Amen.",
		strings.ToLower(topic), p.Ref, theme)
}

var titleCaser = cases.Title(language.English)

// titleCase renders a lowercase theme as a display title.
func titleCase(s string) string {
	return titleCaser.String(s)
}

// fallbackPassage returns the built-in passage used when the corpus has no
// match for a topic. One per program category, defaulting to the devotion one.
func fallbackPassage(category domain.Category) corpus.Passage {
	switch category {
	case domain.CategoryPrayer:
		return corpus.Passage{
			Ref:  "Philippians 4:6",
			Text: "Do not be anxious about anything, but in every situation, by prayer and petition, with thanksgiving, present your requests to God.",
		}
	case domain.CategoryMeditation:
		return corpus.Passage{
			Ref:  "Psalm 46:10",
			Text: "Be still, and know that I am God.",
		}
	case domain.CategoryAccountability:
		return corpus.Passage{
			Ref:  "James 5:16",
			Text: "Therefore confess your sins to each other and pray for each other so that you may be healed.",
		}
	default:
		return corpus.Passage{
			Ref:  "Proverbs 3:5-6",
			Text: "Trust in the LORD with all your heart and lean not on your own understanding; in all your ways submit to him, and he will make your paths straight.",
		}
	}
}

// Package video – SocialVerse recommendation client
//
// This file implements a thin client for the SocialVerse posts API used to
// attach a video recommendation to generated daily content. Posts are fetched
// in one page, filtered down to entries that actually carry a video link, and
// ranked by keyword overlap with the requested topic and the passage the
// content was built from. When nothing overlaps a random post is chosen so a
// video-kind program still gets a recommendation, matching the upstream
// service's permissive behavior.
//
// The client never fails a caller's request path: transport and decode errors
// are returned for logging, and callers are expected to degrade to
// text-only content.
package video

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Video is a single recommendable item extracted from a SocialVerse post.
type Video struct {
	Title     string
	URL       string
	Thumbnail string
	Topics    []string
}

// Recommender selects at most one video for a topic/passage pair.
// Implementations return (nil, nil) when no candidate exists.
type Recommender interface {
	Best(ctx context.Context, topic, passage string) (*Video, error)
}

// Client fetches and ranks posts from the SocialVerse summary endpoint.
type Client struct {
	http     *resty.Client
	pageSize int

	// pick selects a fallback index when no post scores above zero.
	// Seam for deterministic tests.
	pick func(n int) int
}

// Option configures a Client.
type Option func(*Client)

// WithPageSize overrides how many posts are requested per fetch.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithPicker replaces the random fallback selector.
func WithPicker(pick func(n int) int) Option {
	return func(c *Client) {
		if pick != nil {
			c.pick = pick
		}
	}
}

// NewClient constructs a Client for the given API base URL and Flic token.
func NewClient(baseURL, token string, opts ...Option) *Client {
	httpc := resty.New()
	httpc.SetBaseURL(baseURL)
	httpc.SetTimeout(15 * time.Second)
	httpc.SetHeader("Flic-Token", token)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	c := &Client{
		http:     httpc,
		pageSize: 1000,
		pick:     rng.Intn,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// post mirrors the subset of the SocialVerse post payload we consume.
type post struct {
	Title        string `json:"title"`
	VideoLink    string `json:"video_link"`
	ThumbnailURL string `json:"thumbnail_url"`
	PostSummary  struct {
		Description string `json:"description"`
		Keywords    []struct {
			Keyword string `json:"keyword"`
		} `json:"keywords"`
	} `json:"post_summary"`
}

type postsResponse struct {
	Status string `json:"status"`
	Posts  []post `json:"posts"`
}

// Best returns the highest-ranked video for the topic/passage pair, or
// (nil, nil) when the API has no posts with a video link. Passage-term hits
// weigh double topic hits; a zero top score falls back to a random candidate.
func (c *Client) Best(ctx context.Context, topic, passage string) (*Video, error) {
	candidates, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	type scored struct {
		score int
		idx   int
	}
	topicTerms := terms(topic)
	passageTerms := terms(passage)

	ranked := make([]scored, 0, len(candidates))
	for i, v := range candidates {
		s := overlapScore(v, passageTerms)*2 + overlapScore(v, topicTerms)
		ranked = append(ranked, scored{score: s, idx: i})
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })

	if ranked[0].score == 0 {
		return &candidates[c.pick(len(candidates))], nil
	}
	return &candidates[ranked[0].idx], nil
}

// fetch retrieves one page of posts and keeps only entries with a video link.
func (c *Client) fetch(ctx context.Context) ([]Video, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"page":      "1",
			"page_size": fmt.Sprint(c.pageSize),
		}).
		SetResult(&postsResponse{}).
		Get("/posts/summary/get")
	if err != nil {
		return nil, fmt.Errorf("fetch posts: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("posts API status %d", resp.StatusCode())
	}
	body, ok := resp.Result().(*postsResponse)
	if !ok || body.Status != "success" {
		return nil, nil
	}

	out := make([]Video, 0, len(body.Posts))
	for _, p := range body.Posts {
		if strings.TrimSpace(p.VideoLink) == "" {
			continue
		}
		v := Video{
			Title:     p.Title,
			URL:       p.VideoLink,
			Thumbnail: p.ThumbnailURL,
		}
		if v.Title == "" {
			v.Title = "Untitled"
		}
		for _, kw := range p.PostSummary.Keywords {
			if k := strings.ToLower(strings.TrimSpace(kw.Keyword)); k != "" {
				v.Topics = append(v.Topics, k)
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// overlapScore counts query terms appearing in the video's title or keywords.
func overlapScore(v Video, query []string) int {
	title := strings.ToLower(v.Title)
	score := 0
	for _, t := range query {
		if strings.Contains(title, t) {
			score++
			continue
		}
		for _, kw := range v.Topics {
			if strings.Contains(kw, t) {
				score++
				break
			}
		}
	}
	return score
}

// terms lowercases and splits free text, dropping very short tokens.
func terms(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `.,;:!?"'()[]`)
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

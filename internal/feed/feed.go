// Package feed talks to the community feed service where the engine
// posts its questions and harvests the answers. The transport is a plain
// REST surface; everything the engine needs from it fits in three calls.
package feed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ouroboros/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Comment is one reply on a solicitation post.
type Comment struct {
	ID      string `json:"id"`
	Author  string `json:"author"`
	Content string `json:"content"`
}

// Post is a summary of one of our own feed posts.
type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Service is what the community orchestrator needs from the feed. The
// production implementation is Client; tests substitute a stub.
type Service interface {
	// CreatePost publishes a post into group and returns its ID.
	CreatePost(ctx context.Context, group, title, content string) (string, error)
	// Comments returns the current replies on the given post.
	Comments(ctx context.Context, postID string) ([]Comment, error)
	// OwnRecentPosts returns our most recent posts, newest first.
	OwnRecentPosts(ctx context.Context, limit int) ([]Post, error)
}

// Client is the HTTP implementation of Service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient validates the feed configuration and returns a Client.
func NewClient(cfg config.FeedConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("feed base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("feed API key is required; set OUROBOROS_FEED_API_KEY")
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("feed"),
	}, nil
}

// wire types; the service wraps payloads in named envelopes.

type createPostRequest struct {
	Group   string `json:"group"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type createPostResponse struct {
	ID string `json:"id"`
}

type commentEnvelope struct {
	Comments []wireComment `json:"comments"`
}

type wireComment struct {
	ID      string `json:"id"`
	Author  struct {
		Name string `json:"name"`
	} `json:"author"`
	Content string `json:"content"`
}

type postsEnvelope struct {
	Posts []Post `json:"posts"`
}

// CreatePost publishes a post and returns the service-assigned ID.
func (c *Client) CreatePost(ctx context.Context, group, title, content string) (string, error) {
	var resp createPostResponse
	err := c.do(ctx, http.MethodPost, "/posts", createPostRequest{
		Group:   group,
		Title:   title,
		Content: content,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("feed returned a post without an ID")
	}
	c.logger.Info("Community post created", zap.String("post_id", resp.ID), zap.String("title", title))
	return resp.ID, nil
}

// Comments returns the replies on postID in the order the service
// reports them.
func (c *Client) Comments(ctx context.Context, postID string) ([]Comment, error) {
	var envelope commentEnvelope
	path := fmt.Sprintf("/posts/%s/comments", url.PathEscape(postID))
	if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, err
	}
	comments := make([]Comment, 0, len(envelope.Comments))
	for _, wc := range envelope.Comments {
		comments = append(comments, Comment{
			ID:      wc.ID,
			Author:  wc.Author.Name,
			Content: wc.Content,
		})
	}
	return comments, nil
}

// OwnRecentPosts returns up to limit of our own posts, newest first.
func (c *Client) OwnRecentPosts(ctx context.Context, limit int) ([]Post, error) {
	if limit <= 0 {
		limit = 10
	}
	var envelope postsEnvelope
	path := fmt.Sprintf("/agents/me/posts?sort=new&limit=%d", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Posts, nil
}

// do performs one authenticated request and decodes the JSON response
// into out. Any non-2xx status is an error carrying the body's lead-in
// for diagnosis.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode feed request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read feed response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("feed returned %s for %s %s: %s",
			resp.Status, method, path, lead(raw, 200))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode feed response for %s %s: %w", method, path, err)
	}
	return nil
}

func lead(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

package forum

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/forumbridge/chatbridge/internal/domain"
	"github.com/forumbridge/chatbridge/internal/logging"
)

// Ensure Client implements domain.ForumLookup
var _ domain.ForumLookup = (*Client)(nil)

// Config contains forum API client settings
type Config struct {
	// Base URL of the forum
	BaseURL string

	// Admin API credentials
	APIKey      string
	APIUsername string

	// Size of the category and tag lookup caches
	CacheSize int

	// Per-request timeout
	Timeout time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://localhost:3000",
		CacheSize: 512,
		Timeout:   10 * time.Second,
	}
}

// Client resolves categories and tags against the forum's REST API.
// Successful lookups are cached; a miss refetches the full listing once
// before the name is reported unknown.
type Client struct {
	config           Config
	http             *http.Client
	categoriesByName *lru.Cache
	categoriesByID   *lru.Cache
	tags             *lru.Cache
	logger           zerolog.Logger
}

// NewClient creates a forum lookup client
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.CacheSize == 0 {
		config.CacheSize = DefaultConfig().CacheSize
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	byName, err := lru.New(config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create category cache: %w", err)
	}
	byID, err := lru.New(config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create category cache: %w", err)
	}
	tags, err := lru.New(config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create tag cache: %w", err)
	}

	return &Client{
		config:           config,
		http:             &http.Client{Timeout: config.Timeout},
		categoriesByName: byName,
		categoriesByID:   byID,
		tags:             tags,
		logger:           logging.Component("forum"),
	}, nil
}

// CategoryByName resolves a category by its display name.
func (c *Client) CategoryByName(ctx context.Context, name string) (domain.Category, bool, error) {
	if v, ok := c.categoriesByName.Get(name); ok {
		return v.(domain.Category), true, nil
	}

	categories, err := c.fetchCategories(ctx)
	if err != nil {
		return domain.Category{}, false, err
	}

	var match domain.Category
	found := false
	for _, cat := range categories {
		c.categoriesByName.Add(cat.Name, cat)
		c.categoriesByID.Add(cat.ID, cat)
		if cat.Name == name {
			match = cat
			found = true
		}
	}
	return match, found, nil
}

// CategoryByID resolves a category by id.
func (c *Client) CategoryByID(ctx context.Context, id int64) (domain.Category, bool, error) {
	if v, ok := c.categoriesByID.Get(id); ok {
		return v.(domain.Category), true, nil
	}

	categories, err := c.fetchCategories(ctx)
	if err != nil {
		return domain.Category{}, false, err
	}

	var match domain.Category
	found := false
	for _, cat := range categories {
		c.categoriesByName.Add(cat.Name, cat)
		c.categoriesByID.Add(cat.ID, cat)
		if cat.ID == id {
			match = cat
			found = true
		}
	}
	return match, found, nil
}

// TagsByName splits names into tags the forum knows and tags it does not,
// preserving input order.
func (c *Client) TagsByName(ctx context.Context, names []string) (found, missing []string, err error) {
	allCached := true
	for _, name := range names {
		if _, ok := c.tags.Get(name); !ok {
			allCached = false
			break
		}
	}
	if allCached {
		return names, nil, nil
	}

	fetched, err := c.fetchTags(ctx)
	if err != nil {
		return nil, nil, err
	}
	for tag := range fetched {
		c.tags.Add(tag, struct{}{})
	}

	for _, name := range names {
		if _, ok := fetched[name]; ok {
			found = append(found, name)
			continue
		}
		if _, ok := c.tags.Get(name); ok {
			found = append(found, name)
			continue
		}
		missing = append(missing, name)
	}
	return found, missing, nil
}

func (c *Client) fetchCategories(ctx context.Context) ([]domain.Category, error) {
	var payload struct {
		CategoryList struct {
			Categories []domain.Category `json:"categories"`
		} `json:"category_list"`
	}
	if err := c.get(ctx, "/categories.json", &payload); err != nil {
		return nil, fmt.Errorf("failed to fetch categories: %w", err)
	}
	return payload.CategoryList.Categories, nil
}

func (c *Client) fetchTags(ctx context.Context) (map[string]struct{}, error) {
	var payload struct {
		Tags []struct {
			ID string `json:"id"`
		} `json:"tags"`
	}
	if err := c.get(ctx, "/tags.json", &payload); err != nil {
		return nil, fmt.Errorf("failed to fetch tags: %w", err)
	}

	tags := make(map[string]struct{}, len(payload.Tags))
	for _, tag := range payload.Tags {
		tags[tag.ID] = struct{}{}
	}
	return tags, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Api-Key", c.config.APIKey)
		req.Header.Set("Api-Username", c.config.APIUsername)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("forum returned status %d for %s", resp.StatusCode, path)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

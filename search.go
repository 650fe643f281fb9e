package imagepick

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultSearchURL is the Google Custom Search JSON API endpoint.
	DefaultSearchURL = "https://www.googleapis.com/customsearch/v1"

	// MaxSearchResults is the provider ceiling for one query across all pages.
	MaxSearchResults = 100

	// PageSize is the provider ceiling for a single request.
	PageSize = 10

	defaultPageDelay = 300 * time.Millisecond
	searchErrorBody  = 512
)

// ErrSearchStatus reports a non-200 answer from the search provider.
var ErrSearchStatus = errors.New("search: unexpected status")

var dateRestrictRe = regexp.MustCompile(`^[dwmy][1-9][0-9]*$`)

// SearchResult is one image hit. It is consumed by the fetcher and never persisted.
type SearchResult struct {
	SourceURL    string `json:"source_url"`    // direct image URL
	ThumbnailURL string `json:"thumbnail_url"` // provider thumbnail
	Title        string `json:"title"`
	OriginSite   string `json:"origin_site"` // display host of the page
}

// Filters are the provider filter parameters applied to every page.
type Filters struct {
	ImgSize          string // huge, icon, large, medium, small, xlarge, xxlarge
	ImgType          string // clipart, face, lineart, photo, animated
	ColorType        string // optional: color, gray, mono, trans
	DominantColor    string // optional: black, blue, brown, ...
	FileType         string // optional: jpg, gif, png, bmp, svg, webp, ico
	DateRestrict     string // optional: d7, w2, m6, y1
	SortByDate       bool
	ExcludeWatermark bool
}

// Validate checks fields with a fixed syntax.
func (f Filters) Validate() error {
	if f.DateRestrict != "" && !dateRestrictRe.MatchString(f.DateRestrict) {
		return fmt.Errorf("date restrict %q: want d|w|m|y followed by a count", f.DateRestrict)
	}
	return nil
}

// cacheKey identifies a search by everything that changes its answer.
func (f Filters) cacheKey(query string, count int) string {
	return strings.Join([]string{
		query, strconv.Itoa(count), f.ImgSize, f.ImgType, f.ColorType,
		f.DominantColor, f.FileType, f.DateRestrict, strconv.FormatBool(f.SortByDate),
	}, "|")
}

// PageCount returns how many requests are needed for count results.
func PageCount(count int) int {
	count = min(count, MaxSearchResults)
	if count <= 0 {
		return 0
	}
	return (count + PageSize - 1) / PageSize
}

// SearchClient queries the Google Custom Search JSON API for images.
type SearchClient struct {
	APIKey     string
	EngineID   string
	Endpoint   string        // default: DefaultSearchURL
	HTTPClient *http.Client  // default: http.DefaultClient
	UserAgent  string
	PageDelay  time.Duration // pause between pages (default: 300ms)
	Cache      Cache         // optional

	// OnError receives page failures. The client itself never returns them.
	OnError func(keyword string, page int, err error)
}

// NewSearchClient builds a client from cfg.
func NewSearchClient(cfg *Config) *SearchClient {
	cfg.defaults()
	return &SearchClient{
		APIKey:     cfg.APIKey,
		EngineID:   cfg.EngineID,
		Endpoint:   cfg.SearchURL,
		HTTPClient: cfg.HTTPClient,
		UserAgent:  cfg.UserAgent,
		PageDelay:  cfg.PageDelay,
		Cache:      cfg.Cache,
		OnError:    cfg.OnSearchError,
	}
}

func (c *SearchClient) defaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultSearchURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.PageDelay <= 0 {
		c.PageDelay = defaultPageDelay
	}
}

// Search returns up to count results for keyword, in provider order.
// count is clamped to MaxSearchResults and fetched in pages of PageSize.
// Pagination stops at the first empty page or the first failed page; results
// gathered so far are returned. Failures are reported through OnError and slog.
func (c *SearchClient) Search(ctx context.Context, keyword string, count int, f Filters) []SearchResult {
	c.defaults()

	query := BuildQuery(keyword, f.ExcludeWatermark)
	count = min(count, MaxSearchResults)
	if query == "" || count <= 0 {
		return nil
	}

	var cacheKey string
	if c.Cache != nil {
		cacheKey = c.Cache.Key("cse", f.cacheKey(query, count))
		var cached []SearchResult
		if c.Cache.Get(ctx, cacheKey, &cached) && len(cached) > 0 {
			slog.Debug("imagepick: search cache hit", "keyword", keyword, "results", len(cached))
			return cached
		}
	}

	pages := PageCount(count)
	limiter := rate.NewLimiter(rate.Every(c.PageDelay), 1)
	var all []SearchResult
	complete := true

	for page := range pages {
		need := min(PageSize, count-len(all))
		if need <= 0 {
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			complete = false
			break
		}

		items, err := c.fetchPage(ctx, query, page*PageSize+1, need, f)
		if err != nil {
			c.reportError(keyword, page+1, err)
			complete = false
			break
		}
		if len(items) == 0 {
			break
		}
		all = append(all, items...)
	}

	if len(all) > count {
		all = all[:count]
	}
	if c.Cache != nil && complete && len(all) > 0 {
		c.Cache.Set(ctx, cacheKey, all)
	}
	return all
}

func (c *SearchClient) reportError(keyword string, page int, err error) {
	slog.Warn("imagepick: search page failed", "keyword", keyword, "page", page, "error", err.Error())
	if c.OnError != nil {
		c.OnError(keyword, page, err)
	}
}

// cseResponse is the subset of the Custom Search response we read.
type cseResponse struct {
	Items []struct {
		Link        string `json:"link"`
		Title       string `json:"title"`
		DisplayLink string `json:"displayLink"`
		Image       struct {
			ThumbnailLink string `json:"thumbnailLink"`
		} `json:"image"`
	} `json:"items"`
}

func (c *SearchClient) pageParams(query string, start, num int, f Filters) url.Values {
	params := url.Values{}
	params.Set("key", c.APIKey)
	params.Set("cx", c.EngineID)
	params.Set("q", query)
	params.Set("searchType", "image")
	params.Set("num", strconv.Itoa(num))
	params.Set("start", strconv.Itoa(start))
	params.Set("safe", "off")
	if f.ImgSize != "" {
		params.Set("imgSize", f.ImgSize)
	}
	if f.ImgType != "" {
		params.Set("imgType", f.ImgType)
	}
	if f.ColorType != "" {
		params.Set("imgColorType", f.ColorType)
	}
	if f.DominantColor != "" {
		params.Set("imgDominantColor", f.DominantColor)
	}
	if f.FileType != "" {
		params.Set("fileType", f.FileType)
	}
	if f.DateRestrict != "" {
		params.Set("dateRestrict", f.DateRestrict)
	}
	if f.SortByDate {
		params.Set("sort", "date")
	}
	return params
}

// redact strips the query, and with it the API key, from a *url.Error.
func (c *SearchClient) redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = c.Endpoint
	}
	return err
}

func (c *SearchClient) fetchPage(ctx context.Context, query string, start, num int, f Filters) ([]SearchResult, error) {
	reqURL := c.Endpoint + "?" + c.pageParams(query, start, num, f).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("search: create request: %w", c.redact(err))
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: request: %w", c.redact(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, searchErrorBody))
		return nil, fmt.Errorf("%w %d: %s", ErrSearchStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed cseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}

	results := make([]SearchResult, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		results = append(results, SearchResult{
			SourceURL:    it.Link,
			ThumbnailURL: it.Image.ThumbnailLink,
			Title:        it.Title,
			OriginSite:   it.DisplayLink,
		})
	}
	return results, nil
}

package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/xhad/deptbot/internal/logger"
	"github.com/xhad/deptbot/internal/models"
	"github.com/xhad/deptbot/pkg/processor"
	"golang.org/x/time/rate"
)

// Crawl bounds used by New.
const (
	DefaultMaxDepth  = 2
	DefaultRateLimit = 2.0
)

type ScraperConfig struct {
	BaseURL string
	// Links followed from the start page; 0 fetches the start page only.
	MaxDepth          int
	RateLimit         float64 // requests per second, 0 for unpaced
	IgnorePatterns    []string
	AllowedExtensions []string
	Timeout           time.Duration
	Chunking          processor.ProcessorConfig
	OnProgress        func(url string)
}

type Scraper struct {
	config    ScraperConfig
	client    *http.Client
	visited   map[string]bool
	limiter   *rate.Limiter
	baseHost  string
	processor processor.Processor
	logger    *slog.Logger
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth < 0 {
		return nil, fmt.Errorf("max depth must not be negative: %d", config.MaxDepth)
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", ".php", "/", ""}
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, err
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("base URL must be absolute: %q", config.BaseURL)
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		visited:   make(map[string]bool),
		limiter:   newLimiter(config.RateLimit),
		baseHost:  parsedURL.Host,
		processor: processor.NewWithConfig(config.Chunking),
		logger:    logger.Component("scraper"),
	}, nil
}

// New crawls two links deep at two requests per second.
func New(baseURL string) (*Scraper, error) {
	return NewWithConfig(ScraperConfig{
		BaseURL:   baseURL,
		MaxDepth:  DefaultMaxDepth,
		RateLimit: DefaultRateLimit,
	})
}

// newLimiter paces requests; a non-positive rate disables pacing.
func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

func (s *Scraper) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	// Check if URL is from the same host
	if parsedURL.Host != s.baseHost {
		return false
	}

	// Check extensions; an extensionless path counts as a page
	path := strings.ToLower(parsedURL.Path)
	validExt := false
	for _, allowedExt := range s.config.AllowedExtensions {
		if allowedExt == "" {
			if last := path[strings.LastIndex(path, "/")+1:]; !strings.Contains(last, ".") {
				validExt = true
				break
			}
			continue
		}
		if strings.HasSuffix(path, allowedExt) {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	// Check ignore patterns
	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

func (s *Scraper) cleanContent(content string) string {
	// Remove extra whitespace
	content = strings.Join(strings.Fields(content), " ")

	// Remove common noise
	noisePatterns := []string{
		"Cookie Policy",
		"Accept Cookies",
		"Privacy Policy",
		"Terms of Service",
	}

	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}

	return strings.TrimSpace(content)
}

// extractTables returns the outer HTML of every table in the main content
// and removes them so their text is not indexed twice.
func (s *Scraper) extractTables(main *goquery.Selection) []string {
	var tables []string
	main.Find("table").Each(func(_ int, table *goquery.Selection) {
		// Nested tables are kept inside their parent.
		if table.ParentsFiltered("table").Length() > 0 {
			return
		}
		html, err := goquery.OuterHtml(table)
		if err != nil || strings.TrimSpace(table.Text()) == "" {
			return
		}
		tables = append(tables, strings.TrimSpace(html))
	})
	main.Find("table").Remove()
	return tables
}

func (s *Scraper) mainSelection(doc *goquery.Document) *goquery.Selection {
	// Try to find main content area
	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".entry-content",
		"#main",
	}

	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			return selected.First()
		}
	}

	// Fallback to body if no main content found
	return doc.Find("body")
}

// Scrape crawls from startURL and returns table and text elements in page
// order.
func (s *Scraper) Scrape(ctx context.Context, startURL string) ([]models.Element, error) {
	var elements []models.Element
	if err := s.scrapeRecursive(ctx, startURL, 0, &elements); err != nil {
		return elements, err
	}
	return elements, nil
}

func (s *Scraper) scrapeRecursive(ctx context.Context, urlStr string, depth int, elements *[]models.Element) error {
	if depth > s.config.MaxDepth || s.visited[urlStr] {
		return nil
	}

	if !s.shouldProcessURL(urlStr) {
		return nil
	}

	s.visited[urlStr] = true
	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}

	// Apply rate limiting
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return err
	}

	// Links are collected before tables are removed from the tree.
	var links []string
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		if link, ok := s.resolve(urlStr, href); ok {
			links = append(links, link)
		}
	})

	main := s.mainSelection(doc)
	for _, table := range s.extractTables(main) {
		*elements = append(*elements, models.Element{
			Type:    models.ElementTable,
			Content: table,
			Source:  urlStr,
		})
	}
	for _, chunk := range s.processor.Process(s.cleanContent(main.Text())) {
		*elements = append(*elements, models.Element{
			Type:    models.ElementText,
			Content: chunk,
			Source:  urlStr,
		})
	}

	s.logger.Debug("page scraped", "url", urlStr, "depth", depth, "links", len(links))

	for _, link := range links {
		if err := s.scrapeRecursive(ctx, link, depth+1, elements); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("error scraping URL", "url", link, "error", err)
		}
	}

	return nil
}

func (s *Scraper) resolve(base, href string) (string, bool) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		s.logger.Debug("error parsing URL", "href", href, "error", err)
		return "", false
	}

	// Make sure the URL is absolute
	if !ref.IsAbs() {
		b, err := url.Parse(base)
		if err != nil {
			return "", false
		}
		ref = b.ResolveReference(ref)
	}
	ref.Fragment = ""
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", false
	}
	return ref.String(), true
}

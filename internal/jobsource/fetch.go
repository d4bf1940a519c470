package jobsource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultTimeout is the HTTP request timeout for job pages.
	DefaultTimeout = 30 * time.Second
	// DefaultUserAgent is sent with every page request.
	DefaultUserAgent = "Mozilla/5.0 (compatible; CVCustomizer/1.0)"
	// maxPageBytes caps how much of a job page is read.
	maxPageBytes = 5 << 20
)

// RenderFunc renders a page with JavaScript executed and returns its HTML.
type RenderFunc func(ctx context.Context, pageURL string, timeout time.Duration) (string, error)

// Fetcher downloads job postings and extracts their description text.
type Fetcher struct {
	Client    *http.Client
	UserAgent string
	Timeout   time.Duration
	// UseBrowser forces headless rendering instead of trying a plain GET first.
	UseBrowser bool
	// Render is used for SPA pages. Defaults to RenderWithBrowser.
	Render RenderFunc
	Logger *logrus.Logger
}

// NewFetcher returns a Fetcher with default client settings.
func NewFetcher(logger *logrus.Logger, useBrowser bool) *Fetcher {
	return &Fetcher{
		Client:     &http.Client{Timeout: DefaultTimeout},
		UserAgent:  DefaultUserAgent,
		Timeout:    DefaultTimeout,
		UseBrowser: useBrowser,
		Render:     RenderWithBrowser,
		Logger:     logger,
	}
}

// FromURL fetches a job posting and returns its description text.
// Pages that yield too little text over plain HTTP are re-rendered in a headless browser.
func (f *Fetcher) FromURL(ctx context.Context, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", &Error{Source: pageURL, Message: "invalid URL", Cause: err}
	}

	platform := DetectPlatform(pageURL)
	log := f.logger().WithFields(logrus.Fields{"url": pageURL, "platform": platform})

	var text string
	if !f.UseBrowser {
		html, err := f.get(ctx, pageURL)
		if err != nil {
			return "", err
		}
		text, err = extractJobText(html, platform)
		if err != nil {
			return "", &Error{Source: pageURL, Message: "failed to parse page", Cause: err}
		}
		if !ShouldUseBrowser(text) {
			log.WithField("chars", len(text)).Debug("job description fetched")
			return text, nil
		}
		log.WithField("chars", len(text)).Debug("page text too short, falling back to browser")
	}

	if f.Render == nil {
		if text == "" {
			return "", &Error{Source: pageURL, Message: "no job description text found"}
		}
		return text, nil
	}

	html, err := f.Render(ctx, pageURL, f.timeout())
	if err != nil {
		if text != "" {
			log.WithError(err).Warn("browser rendering failed, using plain fetch text")
			return text, nil
		}
		return "", &Error{Source: pageURL, Message: "browser rendering failed", Cause: err}
	}

	rendered, err := extractJobText(html, platform)
	if err != nil {
		return "", &Error{Source: pageURL, Message: "failed to parse rendered page", Cause: err}
	}
	if len(rendered) < len(text) {
		rendered = text
	}
	if rendered == "" {
		return "", &Error{Source: pageURL, Message: "no job description text found"}
	}
	log.WithField("chars", len(rendered)).Debug("job description rendered")
	return rendered, nil
}

func (f *Fetcher) get(ctx context.Context, pageURL string) (string, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: f.timeout()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", &Error{Source: pageURL, Message: "failed to create request", Cause: err}
	}
	userAgent := f.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := client.Do(req)
	if err != nil {
		return "", &Error{Source: pageURL, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", &Error{Source: pageURL, Message: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", &Error{Source: pageURL, Message: "failed to read response body", Cause: err}
	}
	return string(body), nil
}

func (f *Fetcher) timeout() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout
	}
	return DefaultTimeout
}

func (f *Fetcher) logger() *logrus.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return logrus.StandardLogger()
}

func extractJobText(html string, platform Platform) (string, error) {
	return ExtractMainText(html, PlatformContentSelectors(platform), PlatformNoiseSelectors(platform)...)
}

// ExtractMainText parses HTML and returns the main body text.
// Noise elements are removed first, then the first matching content selector wins.
// If no content selector matches, the body element is used.
func ExtractMainText(html string, contentSelectors []string, noiseSelectors ...string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("nav, footer, header, script, style, noscript, .ad, .advertisement, .sidebar, .cookie-banner, .popup").Remove()
	if len(noiseSelectors) > 0 {
		doc.Find(strings.Join(noiseSelectors, ", ")).Remove()
	}

	content := doc.Find("body")
	for _, selector := range contentSelectors {
		if selection := doc.Find(selector); selection.Length() > 0 {
			content = selection.First()
			break
		}
	}

	// Block elements are separated so list items do not run together.
	content.Find("p, li, h1, h2, h3, h4, br, div").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	return cleanWhitespace(content.Text()), nil
}

// cleanWhitespace trims every line and drops blank ones.
func cleanWhitespace(text string) string {
	var cleaned []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}

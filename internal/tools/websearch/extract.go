package websearch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ContentExtractor fetches a page and reduces it to readable text.
type ContentExtractor struct {
	httpClient    *http.Client
	skipSSRFCheck bool
}

// NewContentExtractor creates an extractor with SSRF protection enabled.
func NewContentExtractor() *ContentExtractor {
	return &ContentExtractor{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// NewContentExtractorForTesting creates an extractor that allows localhost
// URLs. Tests only.
func NewContentExtractorForTesting() *ContentExtractor {
	e := NewContentExtractor()
	e.skipSSRFCheck = true
	return e
}

func isPrivateOrReservedIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip.IsPrivate() || ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}
	// Cloud metadata endpoint.
	return ip.Equal(net.ParseIP("169.254.169.254"))
}

// ValidateURL rejects URLs that could reach internal services: non-HTTP
// schemes, localhost, and hostnames resolving to private or reserved
// address space.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", parsed.Scheme)
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("URL must have a hostname")
	}

	lowerHost := strings.ToLower(hostname)
	if lowerHost == "localhost" || strings.HasSuffix(lowerHost, ".localhost") {
		return fmt.Errorf("localhost URLs are not allowed")
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// Unresolvable here may still resolve through a proxy.
		return nil
	}
	for _, ip := range ips {
		if isPrivateOrReservedIP(ip) {
			return fmt.Errorf("URL resolves to private or reserved IP address")
		}
	}

	return nil
}

// Extract fetches targetURL and returns its readable text content.
func (e *ContentExtractor) Extract(ctx context.Context, targetURL string) (string, error) {
	if !e.skipSSRFCheck {
		if err := ValidateURL(targetURL); err != nil {
			return "", fmt.Errorf("URL validation failed: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "text/plain") {
		return "", fmt.Errorf("unsupported content type: %s", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}

	if strings.Contains(contentType, "text/plain") {
		return cleanText(string(body)), nil
	}
	return e.extractReadableContent(string(body)), nil
}

// extractReadableContent implements a simplified readability pass: strip
// chrome tags, pull the title and meta description, then flatten the main
// content container to text.
func (e *ContentExtractor) extractReadableContent(html string) string {
	for _, tag := range []string{"script", "style", "noscript", "iframe", "nav", "header", "footer", "aside"} {
		html = removeTag(html, tag)
	}

	title := extractTitle(html)
	description := extractMetaDescription(html)

	content := extractMainContent(html)
	if content == "" {
		content = extractFromBody(html)
	}
	content = cleanText(content)

	var result strings.Builder
	if title != "" {
		result.WriteString("Title: ")
		result.WriteString(title)
		result.WriteString("\n\n")
	}
	if description != "" {
		result.WriteString("Description: ")
		result.WriteString(description)
		result.WriteString("\n\n")
	}
	result.WriteString(content)

	return result.String()
}

func removeTag(html, tag string) string {
	re := regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
	return re.ReplaceAllString(html, "")
}

func extractTitle(html string) string {
	re := regexp.MustCompile(`(?i)<title[^>]*>(.*?)</title>`)
	if matches := re.FindStringSubmatch(html); len(matches) > 1 {
		return cleanText(matches[1])
	}

	re = regexp.MustCompile(`(?i)<meta[^>]*property=["']og:title["'][^>]*content=["']([^"']*)["']`)
	if matches := re.FindStringSubmatch(html); len(matches) > 1 {
		return cleanText(matches[1])
	}

	re = regexp.MustCompile(`(?i)<h1[^>]*>(.*?)</h1>`)
	if matches := re.FindStringSubmatch(html); len(matches) > 1 {
		return cleanText(matches[1])
	}

	return ""
}

func extractMetaDescription(html string) string {
	re := regexp.MustCompile(`(?i)<meta[^>]*name=["']description["'][^>]*content=["']([^"']*)["']`)
	if matches := re.FindStringSubmatch(html); len(matches) > 1 {
		return cleanText(matches[1])
	}

	re = regexp.MustCompile(`(?i)<meta[^>]*property=["']og:description["'][^>]*content=["']([^"']*)["']`)
	if matches := re.FindStringSubmatch(html); len(matches) > 1 {
		return cleanText(matches[1])
	}

	return ""
}

func extractMainContent(html string) string {
	patterns := []string{
		`(?is)<main[^>]*>(.*?)</main>`,
		`(?is)<article[^>]*>(.*?)</article>`,
		`(?is)<div[^>]*class=["'][^"']*content[^"']*["'][^>]*>(.*?)</div>`,
		`(?is)<div[^>]*id=["']content["'][^>]*>(.*?)</div>`,
		`(?is)<div[^>]*id=["']main["'][^>]*>(.*?)</div>`,
		`(?is)<div[^>]*role=["']main["'][^>]*>(.*?)</div>`,
	}

	for _, pattern := range patterns {
		re := regexp.MustCompile(pattern)
		if matches := re.FindStringSubmatch(html); len(matches) > 1 {
			text := extractText(matches[1])
			if len(strings.TrimSpace(text)) > 200 {
				return text
			}
		}
	}

	return ""
}

func extractFromBody(html string) string {
	re := regexp.MustCompile(`(?is)<body[^>]*>(.*?)</body>`)
	if matches := re.FindStringSubmatch(html); len(matches) > 1 {
		return extractText(matches[1])
	}
	return ""
}

// extractText flattens HTML to plain text, keeping paragraph breaks.
func extractText(html string) string {
	for _, tag := range []string{"p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "li", "br"} {
		re := regexp.MustCompile(`(?i)</?` + tag + `[^>]*>`)
		html = re.ReplaceAllString(html, "\n")
	}

	re := regexp.MustCompile(`<[^>]*>`)
	return re.ReplaceAllString(html, "")
}

func cleanText(text string) string {
	replacer := strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&apos;", "'",
	)
	text = replacer.Replace(text)

	spaceRe := regexp.MustCompile(`[^\S\n]+`)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")

	text = regexp.MustCompile(`\n{3,}`).ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

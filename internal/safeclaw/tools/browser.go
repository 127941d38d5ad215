package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/safeclaw/safeclaw/common/version"
)

const (
	// maxPageBytes bounds how much of a response body is read.
	maxPageBytes = 2 * 1024 * 1024
	// maxPageChars bounds the extracted text handed back as a tool result.
	maxPageChars = 15000
)

func (r *Runner) browseWeb(ctx context.Context, params map[string]any) (string, error) {
	raw, err := requireString(params, "url")
	if err != nil {
		return "", err
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("invalid url %q: only http and https are supported", raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "SafeClaw/"+version.Version)

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", raw, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: HTTP %d %s", raw, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", raw, err)
	}

	ctype := resp.Header.Get("Content-Type")
	if ctype != "" && !strings.Contains(ctype, "text/html") {
		return capPage(string(body)), nil
	}
	text, err := htmlToText(string(body))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", raw, err)
	}
	return text, nil
}

// htmlToText reduces an HTML document to readable markdown-ish text: title,
// headings, long paragraphs and list items, with script/style/chrome removed.
func htmlToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, nav, footer, header, aside, iframe").Remove()

	var content strings.Builder

	if title := strings.TrimSpace(doc.Find("title").Text()); title != "" {
		content.WriteString("# " + title + "\n\n")
	}

	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		level := int(s.Get(0).Data[1] - '0')
		content.WriteString(strings.Repeat("#", level) + " " + text + "\n\n")
	})

	doc.Find("p, div.content, article, section").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); len(text) > 30 {
			content.WriteString(text + "\n\n")
		}
	})

	doc.Find("ul, ol").Each(func(_ int, s *goquery.Selection) {
		s.Find("li").Each(func(_ int, li *goquery.Selection) {
			if text := strings.TrimSpace(li.Text()); text != "" {
				content.WriteString("• " + text + "\n")
			}
		})
		content.WriteString("\n")
	})

	return capPage(content.String()), nil
}

func capPage(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxPageChars {
		return s[:maxPageChars] + "\n\n[Content truncated...]"
	}
	return s
}

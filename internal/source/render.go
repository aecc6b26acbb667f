package source

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// RenderedFetcher loads pages in headless Chromium so listings that are built
// client-side can be scraped. Each call starts its own browser tab.
type RenderedFetcher struct {
	// Settle is the extra wait after the body is ready.
	Settle  time.Duration
	Timeout time.Duration
}

func NewRenderedFetcher(timeout time.Duration) *RenderedFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RenderedFetcher{Settle: 1500 * time.Millisecond, Timeout: timeout}
}

// FetchPage navigates to url and returns the rendered document HTML.
func (r *RenderedFetcher) FetchPage(parent context.Context, url string) ([]byte, error) {
	ctx, cancel := chromedp.NewContext(parent)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, r.Timeout)
	defer timeoutCancel()

	var html string
	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.Settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("render: chromedp run failed: %w", err)
	}
	return []byte(html), nil
}

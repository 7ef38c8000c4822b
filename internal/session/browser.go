package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// PageOpener opens the capture page in the user's browser and closes it
// when the session ends.
type PageOpener interface {
	Open(ctx context.Context, url string) error
	Close()
}

// ChromeOpener drives a headful Chrome window via the DevTools protocol.
// Mic permission is pre-granted through a flag; tab-audio capture still
// prompts the user on the page itself.
type ChromeOpener struct {
	ExtraFlags map[string]interface{}

	mu      sync.Mutex
	cancels []context.CancelFunc
}

func (o *ChromeOpener) Open(ctx context.Context, url string) error {
	opts := append([]chromedp.ExecAllocatorOption{},
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("headless", false),
		chromedp.Flag("use-fake-ui-for-media-stream", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
	)
	for name, value := range o.ExtraFlags {
		opts = append(opts, chromedp.Flag(name, value))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	navCtx, cancelNav := context.WithTimeout(browserCtx, 30*time.Second)
	defer cancelNav()

	// Confirm the page actually booted before handing control to the user.
	var readyState string
	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(`document.readyState`, &readyState, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true)
		}),
	)
	if err != nil {
		cancelBrowser()
		cancelAlloc()
		return fmt.Errorf("failed to open capture page: %w", err)
	}

	log.Printf("Capture page opened (%s, readyState=%s)", url, readyState)

	o.mu.Lock()
	o.cancels = append(o.cancels, cancelBrowser, cancelAlloc)
	o.mu.Unlock()
	return nil
}

// Close tears down any browser windows opened by this opener.
func (o *ChromeOpener) Close() {
	o.mu.Lock()
	cancels := o.cancels
	o.cancels = nil
	o.mu.Unlock()

	for i := len(cancels) - 1; i >= 0; i-- {
		cancels[i]()
	}
}

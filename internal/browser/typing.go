package browser

import (
	"context"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/census/internal/wait"
)

// simulateTyping sends text one key at a time with a randomized delay between
// keystrokes, the way a person types into a login form.
func simulateTyping(ctx context.Context, text string, delay wait.Range) error {
	runes := []rune(text)
	for i, r := range runes {
		if err := chromedp.Run(ctx, chromedp.KeyEvent(string(r))); err != nil {
			return err
		}
		// Don't delay after the very last character.
		if i == len(runes)-1 {
			break
		}
		if err := wait.Settle(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

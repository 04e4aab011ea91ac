package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/census/api/schemas"
)

// cookieParams converts normalized session records into CDP cookie params.
// Records without an expiry become session cookies; optional flags are only
// set when present.
func cookieParams(state *schemas.SessionState) []*network.CookieParam {
	if state.Len() == 0 {
		return nil
	}
	params := make([]*network.CookieParam, 0, len(state.Records))
	for _, rec := range state.Records {
		p := &network.CookieParam{
			Name:   rec.Name,
			Value:  rec.Value,
			Domain: rec.Domain,
			Path:   rec.Path,
		}
		if rec.Expires != nil && *rec.Expires > 0 {
			sec, frac := math.Modf(*rec.Expires)
			ts := cdp.TimeSinceEpoch(time.Unix(int64(sec), int64(frac*1e9)))
			p.Expires = &ts
		}
		if rec.Secure != nil {
			p.Secure = *rec.Secure
		}
		if rec.HTTPOnly != nil {
			p.HTTPOnly = *rec.HTTPOnly
		}
		params = append(params, p)
	}
	return params
}

// importSession loads the session into the browser cookie jar.
func importSession(state *schemas.SessionState) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		params := cookieParams(state)
		if len(params) == 0 {
			return nil
		}
		if err := network.SetCookies(params).Do(ctx); err != nil {
			return fmt.Errorf("failed to import %d session cookies: %w", len(params), err)
		}
		return nil
	})
}

// exportSession dumps the cookies visible to the current page in CDP's own
// JSON representation.
func exportSession(out *[]byte) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to read cookies: %w", err)
		}
		data, err := json.Marshal(cookies)
		if err != nil {
			return fmt.Errorf("failed to encode cookies: %w", err)
		}
		*out = data
		return nil
	})
}

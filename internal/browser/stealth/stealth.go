package stealth

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// EvasionsJS holds the embedded JavaScript used for browser fingerprint evasion.
//
//go:embed evasions.js
var EvasionsJS string

// Persona is the identity presented to the remote site.
type Persona struct {
	UserAgent string   `json:"userAgent"`
	Platform  string   `json:"platform"`
	Languages []string `json:"languages"`
	Width     int64    `json:"width"`
	Height    int64    `json:"height"`
}

// DefaultPersona is a common desktop profile.
var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	Platform:  "Win32",
	Languages: []string{"en-US", "en"},
	Width:     1366,
	Height:    900,
}

// Script returns the evasion source prefixed with the persona it reads.
func Script(persona Persona) (string, error) {
	data, err := json.Marshal(persona)
	if err != nil {
		return "", fmt.Errorf("failed to encode persona: %w", err)
	}
	return fmt.Sprintf("window.__censusPersona = %s;\n%s", data, EvasionsJS), nil
}

// Apply returns an action that overrides the user agent and viewport and
// installs the evasion script on every new document of the target.
func Apply(persona Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if logger != nil {
			logger.Debug("Applying stealth configuration.", zap.String("user_agent", persona.UserAgent))
		}

		if persona.UserAgent != "" {
			override := emulation.SetUserAgentOverride(persona.UserAgent)
			if persona.Platform != "" {
				override = override.WithPlatform(persona.Platform)
			}
			if len(persona.Languages) > 0 {
				override = override.WithAcceptLanguage(persona.Languages[0])
			}
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("failed to override user agent: %w", err)
			}
		}

		if persona.Width > 0 && persona.Height > 0 {
			if err := emulation.SetDeviceMetricsOverride(persona.Width, persona.Height, 1, false).Do(ctx); err != nil {
				return fmt.Errorf("failed to set viewport: %w", err)
			}
		}

		if EvasionsJS == "" {
			return nil
		}
		script, err := Script(persona)
		if err != nil {
			return err
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
			return fmt.Errorf("failed to install evasion script: %w", err)
		}
		return nil
	})
}

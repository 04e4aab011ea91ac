// Package auth performs the scripted login that turns a fresh browser page
// into an authenticated session.
package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/census/api/schemas"
	"github.com/xkilldash9x/census/internal/config"
	"github.com/xkilldash9x/census/internal/locate"
	"github.com/xkilldash9x/census/internal/wait"
)

// Authenticator logs a page in with a username and password.
type Authenticator struct {
	logger *zap.Logger
	cfg    config.AuthConfig
}

// New creates an Authenticator.
func New(logger *zap.Logger, cfg config.AuthConfig) *Authenticator {
	return &Authenticator{
		logger: logger.Named("auth"),
		cfg:    cfg,
	}
}

// Authenticate runs the login flow on page. A missing login element or a
// visible rejection yields schemas.ErrAuthenticationFailure. Not seeing the
// logged-in marker afterwards is only a warning; the directory lookup will
// fail soon enough if the session is not usable.
func (a *Authenticator) Authenticate(ctx context.Context, page schemas.Page, creds schemas.Credentials) error {
	a.logger.Info("Starting login", zap.String("url", a.cfg.LoginURL))

	if err := page.Navigate(ctx, a.cfg.LoginURL); err != nil {
		return fmt.Errorf("%w: failed to open login page: %v", schemas.ErrAuthenticationFailure, err)
	}
	if err := wait.Settle(ctx, a.cfg.LoadSettle); err != nil {
		return err
	}

	if err := a.acceptConsent(ctx, page); err != nil {
		return err
	}

	if err := a.fillForm(ctx, page, creds); err != nil {
		return err
	}

	if err := locate.Present(ctx, a.logger, page, a.cfg.SubmitButton, a.cfg.SubmitTimeout); err != nil {
		return a.missing(err, "submit button")
	}
	if err := page.Click(ctx, a.cfg.SubmitButton); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: failed to submit login form: %v", schemas.ErrAuthenticationFailure, err)
	}
	a.logger.Debug("Login form submitted")
	if err := wait.Settle(ctx, a.cfg.SubmitSettle); err != nil {
		return err
	}

	if err := a.checkRejected(ctx, page); err != nil {
		return err
	}

	if _, err := locate.Any(ctx, a.logger, page, a.cfg.LoggedIn, a.cfg.ConfirmTimeout); err != nil {
		if !errors.Is(err, wait.ErrTimedOut) {
			return err
		}
		a.logger.Warn("Could not confirm login, continuing anyway")
	} else {
		a.logger.Info("Login confirmed")
	}

	return a.dismissDialogs(ctx, page)
}

// acceptConsent clicks the first consent button that shows up. A page without
// a consent dialog is fine.
func (a *Authenticator) acceptConsent(ctx context.Context, page schemas.Page) error {
	for _, loc := range a.cfg.ConsentButtons {
		err := locate.Present(ctx, a.logger, page, loc, a.cfg.ConsentTimeout)
		if errors.Is(err, wait.ErrTimedOut) {
			continue
		}
		if err != nil {
			return err
		}
		if err := page.Click(ctx, loc); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Debug("Consent button could not be clicked", zap.Stringer("locator", loc), zap.Error(err))
			continue
		}
		a.logger.Info("Cookie consent accepted", zap.Stringer("locator", loc))
		return wait.Settle(ctx, a.cfg.DismissSettle)
	}
	a.logger.Debug("No consent dialog found")
	return nil
}

func (a *Authenticator) fillForm(ctx context.Context, page schemas.Page, creds schemas.Credentials) error {
	if err := locate.Present(ctx, a.logger, page, a.cfg.UsernameField, a.cfg.FieldTimeout); err != nil {
		return a.missing(err, "username field")
	}
	if err := locate.Present(ctx, a.logger, page, a.cfg.PasswordField, 0); err != nil {
		return a.missing(err, "password field")
	}

	if err := page.Type(ctx, a.cfg.UsernameField, creds.Username); err != nil {
		return a.typingFailed(ctx, err, "username")
	}
	if err := wait.Settle(ctx, a.cfg.FieldPause); err != nil {
		return err
	}
	if err := page.Type(ctx, a.cfg.PasswordField, creds.Password); err != nil {
		return a.typingFailed(ctx, err, "password")
	}
	a.logger.Debug("Credentials entered")
	return wait.Settle(ctx, a.cfg.FieldPause)
}

func (a *Authenticator) checkRejected(ctx context.Context, page schemas.Page) error {
	idx, err := locate.Any(ctx, a.logger, page, a.cfg.Rejected, a.cfg.RejectedTimeout)
	switch {
	case errors.Is(err, wait.ErrTimedOut):
		return nil
	case err != nil:
		return err
	}
	loc := a.cfg.Rejected[idx]
	msg, _, _ := page.QueryText(ctx, loc)
	a.logger.Error("Login rejected", zap.Stringer("locator", loc), zap.String("message", msg))
	return fmt.Errorf("%w: credentials rejected: %s", schemas.ErrAuthenticationFailure, msg)
}

// dismissDialogs closes the "save login" and notification prompts that follow
// a fresh login. Nothing here is fatal.
func (a *Authenticator) dismissDialogs(ctx context.Context, page schemas.Page) error {
	for round := 1; round <= a.cfg.DismissRounds; round++ {
		idx, err := locate.Any(ctx, a.logger, page, a.cfg.DismissButtons, a.cfg.DismissTimeout)
		if errors.Is(err, wait.ErrTimedOut) {
			a.logger.Debug("No dialog to dismiss", zap.Int("round", round))
			continue
		}
		if err != nil {
			return err
		}
		loc := a.cfg.DismissButtons[idx]
		if err := page.Click(ctx, loc); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Debug("Dialog could not be dismissed", zap.Stringer("locator", loc), zap.Error(err))
			continue
		}
		a.logger.Info("Dialog dismissed", zap.Int("round", round), zap.Stringer("locator", loc))
		if err := wait.Settle(ctx, a.cfg.DismissSettle); err != nil {
			return err
		}
	}
	return nil
}

func (a *Authenticator) missing(err error, what string) error {
	if errors.Is(err, wait.ErrTimedOut) {
		a.logger.Error("Login element not found", zap.String("element", what))
		return fmt.Errorf("%w: %s not found", schemas.ErrAuthenticationFailure, what)
	}
	return err
}

func (a *Authenticator) typingFailed(ctx context.Context, err error, what string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: failed to enter %s: %v", schemas.ErrAuthenticationFailure, what, err)
}

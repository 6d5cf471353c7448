package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/domain/listing"
	"marketbot/internal/errs"
	"marketbot/internal/ports"
)

var errLoginNotVerified = errors.New("login not verified")

// loginIndicator is one independent signal that the session is authenticated.
type loginIndicator struct {
	name  string
	check func(ctx context.Context, session ports.Session) (bool, error)
}

func (o *Orchestrator) login(ctx context.Context, session ports.Session, cfg RunConfig) error {
	ctx = logging.WithComponent(ctx, "login")

	result := o.retry.Execute(ctx, ClassLogin, func(ctx context.Context, attempt int) Attempt {
		logging.Info(ctx, "submitting credentials", slog.Int("attempt", attempt))
		if err := o.submitCredentials(ctx, session, cfg); err != nil {
			return Classify(err)
		}

		verified, err := o.verifyLogin(ctx, session)
		if err != nil {
			return Classify(err)
		}
		if !verified {
			return Recoverable(errLoginNotVerified)
		}
		return Succeeded()
	})
	if !result.OK() {
		return errs.Wrap(result.Err, "login")
	}
	return nil
}

func (o *Orchestrator) submitCredentials(ctx context.Context, session ports.Session, cfg RunConfig) error {
	if err := session.Navigate(ctx, o.playbook.URLs.Login); err != nil {
		return err
	}
	if err := o.pause(ctx, DelayNormal); err != nil {
		return err
	}

	email, err := o.resolve(ctx, session, TargetEmail)
	if err != nil {
		return err
	}
	if err := email.TypeText(ctx, cfg.Email); err != nil {
		return err
	}

	password, err := o.resolve(ctx, session, TargetPassword)
	if err != nil {
		return err
	}
	if err := password.TypeText(ctx, cfg.Password); err != nil {
		return err
	}

	button, err := o.resolve(ctx, session, TargetLoginButton)
	if err != nil {
		return err
	}
	if err := button.Click(ctx); err != nil {
		return err
	}
	return o.pause(ctx, DelaySlow)
}

// verifyLogin evaluates every indicator and requires the login quorum. An
// indicator that errors counts as disagreeing unless the error is fatal.
func (o *Orchestrator) verifyLogin(ctx context.Context, session ports.Session) (bool, error) {
	indicators := o.loginIndicators()
	signals := make([]bool, 0, len(indicators))
	for _, indicator := range indicators {
		ok, err := indicator.check(ctx, session)
		if err != nil {
			if Classify(err).Outcome == AttemptFatal {
				return false, err
			}
			logging.Debug(ctx, "login indicator errored", slog.String("indicator", indicator.name), slog.Any("err", errs.Loggable(err)))
			ok = false
		}
		signals = append(signals, ok)
	}

	agreement := listing.Agreement(signals)
	verified := listing.QuorumReached(signals, listing.LoginQuorum)
	logging.Info(ctx, "login verification", slog.Float64("agreement", agreement), slog.Bool("verified", verified))
	return verified, nil
}

// loginIndicators are ordered so the URL is read before the marketplace
// check navigates away.
func (o *Orchestrator) loginIndicators() []loginIndicator {
	cfg := o.playbook.Login
	return []loginIndicator{
		{name: "url_shape", check: func(ctx context.Context, session ports.Session) (bool, error) {
			current, err := session.CurrentURL(ctx)
			if err != nil {
				return false, err
			}
			return urlLooksAuthenticated(current, cfg.SuccessURL, cfg.FailureURL), nil
		}},
		{name: "landmarks", check: func(ctx context.Context, session ports.Session) (bool, error) {
			present, err := countPresent(ctx, session, parseLocators(cfg.Landmarks))
			if err != nil {
				return false, err
			}
			need := cfg.MinLandmarks
			if need < 1 {
				need = 1
			}
			return present >= need, nil
		}},
		{name: "profile_marker", check: func(ctx context.Context, session ports.Session) (bool, error) {
			present, err := countPresent(ctx, session, parseLocators(cfg.ProfileMarkers))
			if err != nil {
				return false, err
			}
			return present > 0, nil
		}},
		{name: "marketplace_access", check: func(ctx context.Context, session ports.Session) (bool, error) {
			if err := session.Navigate(ctx, o.playbook.URLs.Marketplace); err != nil {
				return false, err
			}
			if err := o.pause(ctx, DelayNormal); err != nil {
				return false, err
			}
			current, err := session.CurrentURL(ctx)
			if err != nil {
				return false, err
			}
			marker := strings.ToLower(strings.TrimSpace(cfg.MarketplaceMarker))
			return marker != "" && strings.Contains(strings.ToLower(current), marker), nil
		}},
	}
}

// urlLooksAuthenticated is true when more success fragments than failure
// fragments appear in the URL.
func urlLooksAuthenticated(rawURL string, success []string, failure []string) bool {
	current := strings.ToLower(rawURL)
	score := 0
	for _, fragment := range success {
		if f := strings.ToLower(strings.TrimSpace(fragment)); f != "" && strings.Contains(current, f) {
			score++
		}
	}
	for _, fragment := range failure {
		if f := strings.ToLower(strings.TrimSpace(fragment)); f != "" && strings.Contains(current, f) {
			score--
		}
	}
	return score > 0
}

func countPresent(ctx context.Context, session ports.Session, locators []ports.Locator) (int, error) {
	present := 0
	for _, locator := range locators {
		handles, err := session.FindAll(ctx, locator)
		if err != nil {
			if Classify(err).Outcome == AttemptFatal {
				return 0, err
			}
			continue
		}
		if len(handles) > 0 {
			present++
		}
	}
	return present, nil
}

func (o *Orchestrator) resolve(ctx context.Context, session ports.Session, target string) (ports.Handle, error) {
	return o.resolver.Resolve(ctx, session, o.playbook.Candidates(target), target)
}

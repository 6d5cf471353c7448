package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"marketbot/internal/ports"
)

const playbookVersion = 1

// Targets the orchestrator resolves. Each maps to a locator list and,
// optionally, intent keywords for the fallback scan.
const (
	TargetEmail            = "email"
	TargetPassword         = "password"
	TargetLoginButton      = "login_button"
	TargetEditButton       = "edit_button"
	TargetAudienceSettings = "audience_settings"
	TargetPublicOption     = "public_option"
	TargetSaveButton       = "save_button"
	TargetListingLink      = "listing_link"
)

const (
	ClassLogin      = "login"
	ClassNavigation = "navigation"
	ClassListing    = "listing"
)

const (
	BackoffLinear = "linear"
	BackoffFixed  = "fixed"
)

type Target struct {
	Locators []string `toml:"locators"`
	Intent   []string `toml:"intent"`
}

type RetryPolicy struct {
	MaxAttempts int    `toml:"max_attempts"`
	Backoff     string `toml:"backoff"`
	BaseMillis  int    `toml:"base_ms"`
}

// Delay is the sleep before attempt+1, for attempt >= 1. It never returns
// less than a millisecond.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := time.Duration(p.BaseMillis) * time.Millisecond
	delay := base
	if strings.EqualFold(p.Backoff, BackoffLinear) {
		delay = base * time.Duration(attempt)
	}
	if delay < time.Millisecond {
		delay = time.Millisecond
	}
	return delay
}

type DelayRange struct {
	MinMillis int `toml:"min_ms"`
	MaxMillis int `toml:"max_ms"`
}

type URLs struct {
	Login       string `toml:"login"`
	Marketplace string `toml:"marketplace"`
	Selling     string `toml:"selling"`
}

type LoginIndicators struct {
	SuccessURL        []string `toml:"success_url"`
	FailureURL        []string `toml:"failure_url"`
	Landmarks         []string `toml:"landmarks"`
	MinLandmarks      int      `toml:"min_landmarks"`
	ProfileMarkers    []string `toml:"profile_markers"`
	MarketplaceMarker string   `toml:"marketplace_marker"`
}

type ResolveSettings struct {
	ProbeTimeoutMillis int    `toml:"probe_timeout_ms"`
	PollMillis         int    `toml:"poll_ms"`
	FallbackPattern    string `toml:"fallback_pattern"`
}

func (r ResolveSettings) probeTimeout() time.Duration {
	return time.Duration(r.ProbeTimeoutMillis) * time.Millisecond
}

func (r ResolveSettings) poll() time.Duration {
	return time.Duration(r.PollMillis) * time.Millisecond
}

// ProblemIndicator names a page condition worth reporting when a listing
// fails, such as an error banner or a stuck spinner.
type ProblemIndicator struct {
	Name    string `toml:"name"`
	Locator string `toml:"locator"`
}

// PriceRule pulls a price out of a listing card's text. The first capture
// group is kept when the pattern has one, else the whole match.
type PriceRule struct {
	Pattern string `toml:"pattern"`
}

type CategoryRule struct {
	Name    string `toml:"name"`
	Pattern string `toml:"pattern"`
}

// Playbook is the editable policy data for one marketplace: where things are,
// how hard to retry, and how long to pause.
type Playbook struct {
	Version    int                    `toml:"version"`
	URLs       URLs                   `toml:"urls"`
	Targets    map[string]Target      `toml:"targets"`
	Retry      map[string]RetryPolicy `toml:"retry"`
	Delays     map[string]DelayRange  `toml:"delays"`
	Login      LoginIndicators        `toml:"login"`
	Resolve    ResolveSettings        `toml:"resolve"`
	Categories []CategoryRule         `toml:"categories"`
	Price      PriceRule              `toml:"price"`
	Problems   []ProblemIndicator     `toml:"problems"`
}

func DefaultPlaybook() Playbook {
	return Playbook{
		Version: playbookVersion,
		URLs: URLs{
			Login:       "https://www.facebook.com/login",
			Marketplace: "https://www.facebook.com/marketplace",
			Selling:     "https://www.facebook.com/marketplace/you/selling",
		},
		Targets: map[string]Target{
			TargetEmail: {
				Locators: []string{"id:email", "name:email", "//input[@type='email']", "//input[contains(@placeholder, 'email')]"},
			},
			TargetPassword: {
				Locators: []string{"id:pass", "name:pass", "//input[@type='password']"},
			},
			TargetLoginButton: {
				Locators: []string{"name:login", "//button[contains(text(), 'Log In')]", "id:loginbutton"},
				Intent:   []string{"log in", "login"},
			},
			TargetEditButton: {
				Locators: []string{"//span[contains(text(), 'Edit')]", "//button[contains(text(), 'Edit')]", "//div[contains(text(), 'Edit')]"},
				Intent:   []string{"edit"},
			},
			TargetAudienceSettings: {
				Locators: []string{"//span[contains(text(), 'Audience')]", "//div[contains(text(), 'Who can see')]"},
				Intent:   []string{"audience", "who can see"},
			},
			TargetPublicOption: {
				Locators: []string{"//span[contains(text(), 'Public')]", "//div[contains(text(), 'Public')]"},
				Intent:   []string{"public"},
			},
			TargetSaveButton: {
				Locators: []string{"//span[contains(text(), 'Save')]", "//button[contains(text(), 'Save')]", "//div[contains(text(), 'Save')]"},
				Intent:   []string{"save", "update", "publish"},
			},
			TargetListingLink: {
				Locators: []string{"a[href*='/marketplace/item/']"},
			},
		},
		Retry: map[string]RetryPolicy{
			ClassLogin:      {MaxAttempts: 3, Backoff: BackoffLinear, BaseMillis: 10000},
			ClassNavigation: {MaxAttempts: 5, Backoff: BackoffFixed, BaseMillis: 5000},
			ClassListing:    {MaxAttempts: 2, Backoff: BackoffFixed, BaseMillis: 3000},
		},
		Delays: map[string]DelayRange{
			string(DelayFast):   {MinMillis: 1000, MaxMillis: 2000},
			string(DelayNormal): {MinMillis: 2000, MaxMillis: 4000},
			string(DelaySlow):   {MinMillis: 5000, MaxMillis: 8000},
		},
		Login: LoginIndicators{
			SuccessURL:        []string{"facebook.com/home", "facebook.com/?", "facebook.com/groups"},
			FailureURL:        []string{"login", "auth", "checkpoint"},
			Landmarks:         []string{"//div[@aria-label='Facebook']", "//div[contains(@aria-label, 'Menu')]", "//span[contains(text(), 'Marketplace')]"},
			MinLandmarks:      2,
			ProfileMarkers:    []string{"//a[contains(@href, '/me/')]", "//div[contains(@aria-label, 'Profile')]"},
			MarketplaceMarker: "marketplace",
		},
		Resolve: ResolveSettings{
			ProbeTimeoutMillis: 10000,
			PollMillis:         500,
			FallbackPattern:    "button, a, [role='button'], input[type='submit']",
		},
		Categories: []CategoryRule{
			{Name: "vehicle", Pattern: `\b(car|bike|scooter|motorcycle|vehicle|auto)\b`},
			{Name: "electronics", Pattern: `\b(phone|laptop|tv|computer|electronic|mobile)\b`},
			{Name: "furniture", Pattern: `\b(sofa|bed|table|chair|furniture|almirah)\b`},
			{Name: "property", Pattern: `\b(house|apartment|room|flat|property|rent)\b`},
		},
		Price: PriceRule{Pattern: `(?i)(?:\brs\.?|₹|\$|€|£)\s*(\d[\d,]*(?:\.\d+)?)`},
		Problems: []ProblemIndicator{
			{Name: "error_message", Locator: "//div[contains(text(), 'error')]"},
			{Name: "error_message", Locator: "//div[contains(text(), 'failed')]"},
			{Name: "error_message", Locator: "//div[contains(text(), 'wrong')]"},
			{Name: "error_message", Locator: "//div[contains(text(), 'invalid')]"},
			{Name: "slow_loading", Locator: "//div[contains(@class, 'loading')]"},
			{Name: "slow_loading", Locator: "//div[contains(@class, 'spinner')]"},
		},
	}
}

// LoadPlaybook overlays the TOML file at path on the default playbook. Tables
// present in the file replace the matching default entry as a whole.
func LoadPlaybook(path string) (Playbook, error) {
	playbook := DefaultPlaybook()

	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return playbook, nil
	}

	raw, err := os.ReadFile(trimmed)
	if err != nil {
		return Playbook{}, err
	}

	var overlay Playbook
	if err := toml.Unmarshal(raw, &overlay); err != nil {
		return Playbook{}, fmt.Errorf("parse playbook %s: %w", trimmed, err)
	}
	if overlay.Version != 0 && overlay.Version != playbookVersion {
		return Playbook{}, fmt.Errorf("unsupported playbook version %d: expected version = %d", overlay.Version, playbookVersion)
	}

	playbook = mergePlaybook(playbook, overlay)
	if err := playbook.Validate(); err != nil {
		return Playbook{}, err
	}
	return playbook, nil
}

func mergePlaybook(base Playbook, overlay Playbook) Playbook {
	if overlay.URLs.Login != "" {
		base.URLs.Login = overlay.URLs.Login
	}
	if overlay.URLs.Marketplace != "" {
		base.URLs.Marketplace = overlay.URLs.Marketplace
	}
	if overlay.URLs.Selling != "" {
		base.URLs.Selling = overlay.URLs.Selling
	}

	for name, target := range overlay.Targets {
		base.Targets[name] = target
	}
	for class, policy := range overlay.Retry {
		base.Retry[class] = policy
	}
	for kind, delay := range overlay.Delays {
		base.Delays[kind] = delay
	}

	if len(overlay.Login.SuccessURL) > 0 {
		base.Login.SuccessURL = overlay.Login.SuccessURL
	}
	if len(overlay.Login.FailureURL) > 0 {
		base.Login.FailureURL = overlay.Login.FailureURL
	}
	if len(overlay.Login.Landmarks) > 0 {
		base.Login.Landmarks = overlay.Login.Landmarks
	}
	if overlay.Login.MinLandmarks > 0 {
		base.Login.MinLandmarks = overlay.Login.MinLandmarks
	}
	if len(overlay.Login.ProfileMarkers) > 0 {
		base.Login.ProfileMarkers = overlay.Login.ProfileMarkers
	}
	if overlay.Login.MarketplaceMarker != "" {
		base.Login.MarketplaceMarker = overlay.Login.MarketplaceMarker
	}

	if overlay.Resolve.ProbeTimeoutMillis > 0 {
		base.Resolve.ProbeTimeoutMillis = overlay.Resolve.ProbeTimeoutMillis
	}
	if overlay.Resolve.PollMillis > 0 {
		base.Resolve.PollMillis = overlay.Resolve.PollMillis
	}
	if overlay.Resolve.FallbackPattern != "" {
		base.Resolve.FallbackPattern = overlay.Resolve.FallbackPattern
	}

	if len(overlay.Categories) > 0 {
		base.Categories = overlay.Categories
	}
	if strings.TrimSpace(overlay.Price.Pattern) != "" {
		base.Price = overlay.Price
	}
	if len(overlay.Problems) > 0 {
		base.Problems = overlay.Problems
	}
	return base
}

func (p Playbook) Validate() error {
	for name, target := range p.Targets {
		if len(target.Locators) == 0 {
			return errors.New("targets." + name + ".locators is required")
		}
		for _, raw := range target.Locators {
			if _, err := ports.ParseLocator(raw); err != nil {
				return fmt.Errorf("targets.%s: %w", name, err)
			}
		}
	}

	for class, policy := range p.Retry {
		if policy.MaxAttempts < 1 {
			return errors.New("retry." + class + ".max_attempts must be >= 1")
		}
		backoff := strings.ToLower(strings.TrimSpace(policy.Backoff))
		if backoff != BackoffLinear && backoff != BackoffFixed {
			return errors.New("retry." + class + ".backoff must be linear or fixed")
		}
		if policy.BaseMillis < 0 {
			return errors.New("retry." + class + ".base_ms must not be negative")
		}
	}

	for kind, delay := range p.Delays {
		if delay.MinMillis < 0 || delay.MaxMillis < delay.MinMillis {
			return errors.New("delays." + kind + " needs 0 <= min_ms <= max_ms")
		}
	}

	if p.Resolve.PollMillis <= 0 || p.Resolve.ProbeTimeoutMillis <= 0 {
		return errors.New("resolve.probe_timeout_ms and resolve.poll_ms must be positive")
	}
	if strings.TrimSpace(p.Resolve.FallbackPattern) != "" {
		if _, err := ports.ParseLocator(p.Resolve.FallbackPattern); err != nil {
			return fmt.Errorf("resolve.fallback_pattern: %w", err)
		}
	}

	for _, indicator := range p.Problems {
		if strings.TrimSpace(indicator.Name) == "" {
			return errors.New("problems.name is required")
		}
		if _, err := ports.ParseLocator(indicator.Locator); err != nil {
			return fmt.Errorf("problems.%s: %w", indicator.Name, err)
		}
	}

	for _, rule := range p.Categories {
		if strings.TrimSpace(rule.Name) == "" {
			return errors.New("categories.name is required")
		}
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("categories.%s: %w", rule.Name, err)
		}
	}

	if _, err := compilePrice(p.Price); err != nil {
		return err
	}

	for _, raw := range append(append([]string{}, p.Login.Landmarks...), p.Login.ProfileMarkers...) {
		if _, err := ports.ParseLocator(raw); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}
	return nil
}

// Candidates returns the parsed locators for target. Validate has already
// rejected malformed entries, so parse errors are skipped here.
func (p Playbook) Candidates(target string) []ports.Locator {
	return parseLocators(p.Targets[target].Locators)
}

func (p Playbook) Intent(target string) []string {
	return p.Targets[target].Intent
}

func (p Playbook) Policy(class string) (RetryPolicy, bool) {
	policy, ok := p.Retry[class]
	return policy, ok
}

func parseLocators(raw []string) []ports.Locator {
	out := make([]ports.Locator, 0, len(raw))
	for _, item := range raw {
		locator, err := ports.ParseLocator(item)
		if err != nil {
			continue
		}
		out = append(out, locator)
	}
	return out
}

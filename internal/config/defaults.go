package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/census/api/schemas"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "CENSUS"

// DefaultUserAgent is sent when browser.user_agent is empty.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// SetDefaults sets default values so the app can run with a minimal config.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "census")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", DefaultUserAgent)
	v.SetDefault("browser.viewport.width", 1366)
	v.SetDefault("browser.viewport.height", 900)
	v.SetDefault("browser.action_timeout", 10*time.Second)
	v.SetDefault("browser.typing.key_delay.min", 50*time.Millisecond)
	v.SetDefault("browser.typing.key_delay.max", 150*time.Millisecond)
	v.SetDefault("browser.pointer.enabled", true)
	v.SetDefault("browser.pointer.min_steps", 12)
	v.SetDefault("browser.pointer.drift", 3.0)
	setRange(v, "browser.pointer.step_delay", 8*time.Millisecond, 20*time.Millisecond)
	v.SetDefault("browser.blocked_urls", []string{
		"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg",
		"*.mp4", "*.webm", "*.woff", "*.woff2", "*.ttf", "*/static/*",
	})

	// -- Auth --
	v.SetDefault("auth.login_url", "https://www.instagram.com/")
	v.SetDefault("auth.consent_buttons", []schemas.Locator{
		schemas.XPath("//button[contains(text(),'Allow essential and optional cookies')]"),
		schemas.XPath("//button[contains(text(),'Accept')]"),
	})
	setLocator(v, "auth.username_field", schemas.CSS("input[name='username']"))
	setLocator(v, "auth.password_field", schemas.CSS("input[name='password']"))
	setLocator(v, "auth.submit_button", schemas.XPath("//button[@type='submit']"))
	v.SetDefault("auth.rejected", []schemas.Locator{
		schemas.CSS("#slfErrorAlert"),
		schemas.XPath("//div[@role='alert']"),
	})
	v.SetDefault("auth.logged_in", []schemas.Locator{
		schemas.XPath("//input[@placeholder='Search' or @aria-label='Search input']"),
		schemas.CSS("svg[aria-label='Home']"),
	})
	v.SetDefault("auth.dismiss_buttons", []schemas.Locator{
		schemas.XPath("//button[contains(text(),'Not Now')]"),
		schemas.XPath("//button[contains(text(),'Ahora no')]"),
	})
	v.SetDefault("auth.dismiss_rounds", 2)
	v.SetDefault("auth.consent_timeout", 3*time.Second)
	v.SetDefault("auth.field_timeout", 15*time.Second)
	v.SetDefault("auth.submit_timeout", 10*time.Second)
	v.SetDefault("auth.rejected_timeout", 3*time.Second)
	v.SetDefault("auth.confirm_timeout", 10*time.Second)
	v.SetDefault("auth.dismiss_timeout", 5*time.Second)
	setRange(v, "auth.load_settle", 5*time.Second, 7*time.Second)
	setRange(v, "auth.field_pause", 500*time.Millisecond, 1500*time.Millisecond)
	setRange(v, "auth.submit_settle", 10*time.Second, 15*time.Second)
	setRange(v, "auth.dismiss_settle", 2*time.Second, 3*time.Second)

	// -- Target --
	v.SetDefault("target.base_url", "https://www.instagram.com")
	v.SetDefault("target.directory", DirectoryFollowers)
	v.SetDefault("target.count", 100)

	// -- Extraction --
	v.SetDefault("extraction.max_no_progress", 10)
	v.SetDefault("extraction.max_attempts", 200)
	v.SetDefault("extraction.reserved_prefixes", []string{"explore", "p", "direct", "reel", "reels", "stories", "accounts"})
	v.SetDefault("extraction.panel_locators", []schemas.Locator{
		schemas.CSS("div[role='dialog']"),
		schemas.XPath("//div[@role='dialog']"),
	})
	v.SetDefault("extraction.not_found", []schemas.Locator{
		schemas.XPath("//h2[contains(text(), 'Sorry')]"),
	})
	v.SetDefault("extraction.link_timeout", 10*time.Second)
	v.SetDefault("extraction.panel_timeout", 10*time.Second)
	v.SetDefault("extraction.diagnostics_every", 5)
	setRange(v, "extraction.profile_settle", 5*time.Second, 7*time.Second)
	setRange(v, "extraction.open_settle", 6*time.Second, 8*time.Second)
	setRange(v, "extraction.initial_settle", 2*time.Second, 3*time.Second)
	setRange(v, "extraction.page_settle", 1500*time.Millisecond, 2500*time.Millisecond)

	// -- Pool --
	v.SetDefault("pool.workers", 3)
	v.SetDefault("pool.navigate_timeout", 15*time.Second)
	v.SetDefault("pool.item_timeout", 45*time.Second)
	v.SetDefault("pool.primary_timeout", 5*time.Second)
	v.SetDefault("pool.content_settle", 2*time.Second)
	v.SetDefault("pool.requests_per_second", 0.0)
	v.SetDefault("pool.burst", 1)
	v.SetDefault("pool.not_found", []schemas.Locator{
		schemas.XPath("//h2[contains(text(), 'Sorry')]"),
	})
	setRange(v, "pool.pacing", 500*time.Millisecond, 1500*time.Millisecond)

	// -- Run --
	v.SetDefault("run.deadline", time.Duration(0))
	v.SetDefault("run.output_dir", "results")
	v.SetDefault("run.cookie_dump", false)
	v.SetDefault("run.write_csv", true)
	v.SetDefault("run.write_text", true)
	v.SetDefault("run.write_json", true)

	v.SetDefault("postgres.url", "")
}

// BindEnvironment wires CENSUS_* variables, including the short credential
// names, into v.
func BindEnvironment(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("auth.username", EnvPrefix+"_USERNAME", EnvPrefix+"_AUTH_USERNAME")
	_ = v.BindEnv("auth.password", EnvPrefix+"_PASSWORD", EnvPrefix+"_AUTH_PASSWORD")
	_ = v.BindEnv("postgres.url", EnvPrefix+"_DATABASE_URL", EnvPrefix+"_POSTGRES_URL")
}

func setLocator(v *viper.Viper, key string, loc schemas.Locator) {
	v.SetDefault(key+".strategy", string(loc.Strategy))
	v.SetDefault(key+".expr", loc.Expr)
}

func setRange(v *viper.Viper, key string, lo, hi time.Duration) {
	v.SetDefault(key+".min", lo)
	v.SetDefault(key+".max", hi)
}

package adapter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/filter"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(viper.New(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 20, cfg.Cache.PageSize)
	assert.Equal(t, 5*time.Minute, cfg.Cache.IdleTimeout)
	assert.Equal(t, domain.LanguageEnglish, cfg.Language())
	assert.False(t, cfg.IsConfigured())
	assert.False(t, cfg.IsSignedIn())
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
backend:
  url: https://example.supabase.co
  anon_key: anon
  timeout: 5s
cache:
  page_size: 50
ui:
  language: spanish
  default_filter: "languages=spanish&sortBy=upvotes"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := loadConfig(viper.New(), dir)
	require.NoError(t, err)

	assert.True(t, cfg.IsConfigured())
	assert.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 50, cfg.Cache.PageSize)
	assert.Equal(t, domain.LanguageSpanish, cfg.Language())

	f := cfg.DefaultFilter()
	assert.Equal(t, []string{"spanish"}, f.Languages)
	assert.Equal(t, filter.SortUpvotes, f.Sort)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("VERDAD_BACKEND_URL", "https://env.supabase.co")
	t.Setenv("VERDAD_CACHE_PAGE_SIZE", "7")

	cfg, err := loadConfig(viper.New(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "https://env.supabase.co", cfg.Backend.URL)
	assert.Equal(t, 7, cfg.Cache.PageSize)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Backend.URL = "https://example.supabase.co"
	cfg.Backend.AnonKey = "anon"
	cfg.Session = SessionConfig{AccessToken: "tok", UserID: "u1", Email: "a@b.c"}

	require.NoError(t, saveConfig(viper.New(), dir, cfg))

	got, err := loadConfig(viper.New(), dir)
	require.NoError(t, err)
	assert.True(t, got.IsConfigured())
	assert.True(t, got.IsSignedIn())
	assert.Equal(t, "a@b.c", got.Session.Email)
	assert.Equal(t, cfg.Cache.IdleTimeout, got.Cache.IdleTimeout)
}

func TestClearCache(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "verdad.db"), []byte("x"), 0644))

	require.NoError(t, ClearCache(&Config{Cache: CacheConfig{Dir: dir}}))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, ClearCache(&Config{}))
}

func TestSetupLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "verdad.log")
	logger, closer, err := SetupLogger(&LoggingConfig{File: path, Level: "debug"})
	require.NoError(t, err)

	logger.Debug("cache hit", "key", "snippet:abc")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"cache hit"`)
	assert.Contains(t, string(data), `"key":"snippet:abc"`)
}

func TestSetupLoggerEmptyPathDiscards(t *testing.T) {
	logger, closer, err := SetupLogger(&LoggingConfig{})
	require.NoError(t, err)
	logger.Info("dropped")
	assert.NoError(t, closer.Close())
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLogLevel("debug").String())
	assert.Equal(t, "WARN", parseLogLevel("warning").String())
	assert.Equal(t, "ERROR", parseLogLevel(" ERROR ").String())
	assert.Equal(t, "INFO", parseLogLevel("bogus").String())
}

type launch struct {
	name string
	args []string
}

func fakePlayer(cfg PlayerConfig, available ...string) (*AudioPlayer, *[]launch) {
	p := NewAudioPlayer(cfg, NullLogger())
	var launched []launch
	p.lookPath = func(file string) (string, error) {
		for _, a := range available {
			if a == file {
				return "/usr/bin/" + file, nil
			}
		}
		return "", os.ErrNotExist
	}
	p.start = func(name string, args ...string) error {
		launched = append(launched, launch{name, args})
		return nil
	}
	return p, &launched
}

func TestAudioURL(t *testing.T) {
	p := NewAudioPlayer(PlayerConfig{AudioBaseURL: "https://cdn.example.com/audio/"}, nil)

	got, err := p.AudioURL("/2024/clip.mp3")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/audio/2024/clip.mp3", got)

	got, err = p.AudioURL("https://other.example.com/x.mp3")
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.com/x.mp3", got)

	_, err = p.AudioURL("")
	assert.Error(t, err)

	_, err = NewAudioPlayer(PlayerConfig{}, nil).AudioURL("clip.mp3")
	assert.Error(t, err)
}

func TestPlayConfiguredPlayer(t *testing.T) {
	p, launched := fakePlayer(PlayerConfig{Command: "/opt/bin/mpv", AudioBaseURL: "https://cdn"})
	require.NoError(t, p.Play("a.mp3"))

	require.Len(t, *launched, 1)
	l := (*launched)[0]
	assert.Equal(t, "/opt/bin/mpv", l.name)
	assert.Equal(t, "https://cdn/a.mp3", l.args[len(l.args)-1])
	assert.Contains(t, l.args, "--no-video")
}

func TestPlayDetectsCandidate(t *testing.T) {
	p, launched := fakePlayer(PlayerConfig{AudioBaseURL: "https://cdn"}, "vlc")
	require.NoError(t, p.Play("a.mp3"))

	require.Len(t, *launched, 1)
	assert.Equal(t, "vlc", (*launched)[0].name)
}

func TestPlayFallsBackToSystemDefault(t *testing.T) {
	p, launched := fakePlayer(PlayerConfig{AudioBaseURL: "https://cdn"})
	require.NoError(t, p.Play("a.mp3"))

	require.Len(t, *launched, 1)
	l := (*launched)[0]
	assert.True(t, strings.Contains("open xdg-open cmd", l.name))
	assert.Equal(t, "https://cdn/a.mp3", l.args[len(l.args)-1])
}

package adapter

import "strings"

// Nested keys map to VERDAD_SECTION_KEY
var envKeyReplacer = strings.NewReplacer(".", "_")

// AutomaticEnv only sees keys viper already knows; bind the rest explicitly
var envKeys = []string{
	"backend.url", "backend.anon_key", "backend.timeout",
	"session.access_token", "session.refresh_token", "session.user_id", "session.email", "session.expires_at",
	"cache.dir", "cache.persist", "cache.idle_timeout", "cache.page_size",
	"ui.language", "ui.default_filter",
	"player.command", "player.audio_base_url",
	"logging.file", "logging.level",
}

package adapter

import (
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// AudioPlayer plays snippet audio in an external player
type AudioPlayer struct {
	command string   // configured player command, empty to auto-detect
	args    []string // additional arguments for the player
	baseURL string   // prefix for relative audio paths
	logger  *slog.Logger

	// Overridable for tests
	lookPath func(file string) (string, error)
	start    func(name string, args ...string) error
}

// audioPlayer defines how to launch one known player
type audioPlayer struct {
	args []string // Flags that keep the player headless or quiet
}

// players registry of known audio-capable players
var players = map[string]audioPlayer{
	"mpv":    {args: []string{"--no-video", "--really-quiet"}},
	"ffplay": {args: []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}},
	"vlc":    {args: []string{"--play-and-exit"}},
	"afplay": {},
	"mpg123": {args: []string{"-q"}},
}

// candidatePlayers defines the preferred player order for each platform
var candidatePlayers = map[string][]string{
	"darwin":  {"mpv", "afplay", "vlc"},
	"linux":   {"mpv", "ffplay", "mpg123", "vlc"},
	"windows": {"mpv", "vlc", "ffplay"},
}

// NewAudioPlayer creates an AudioPlayer. Relative audio paths are resolved
// against baseURL.
func NewAudioPlayer(cfg PlayerConfig, logger *slog.Logger) *AudioPlayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioPlayer{
		command:  cfg.Command,
		args:     cfg.Args,
		baseURL:  cfg.AudioBaseURL,
		logger:   logger,
		lookPath: exec.LookPath,
		start: func(name string, args ...string) error {
			return exec.Command(name, args...).Start() // Async, don't wait
		},
	}
}

// AudioURL resolves a snippet's audio path to something a player can open
func (p *AudioPlayer) AudioURL(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("snippet has no audio")
	}
	if u, err := url.Parse(path); err == nil && u.Scheme != "" {
		return path, nil
	}
	if p.baseURL == "" {
		return "", fmt.Errorf("no audio base url configured for %q", path)
	}
	return strings.TrimRight(p.baseURL, "/") + "/" + strings.TrimLeft(path, "/"), nil
}

// Play opens the audio at path in the configured player, an auto-detected
// one, or the system default
func (p *AudioPlayer) Play(path string) error {
	target, err := p.AudioURL(path)
	if err != nil {
		return err
	}

	// Tier 1: User configured a specific player
	if p.command != "" {
		args := append([]string{}, p.args...)
		if known, ok := players[playerName(p.command)]; ok && len(p.args) == 0 {
			args = append(args, known.args...)
		}
		p.logger.Info("launching configured player", "command", p.command, "url", target)
		return p.start(p.command, append(args, target)...)
	}

	// Tier 2: Try candidate chain
	if name, err := p.detectAndPlay(target); err == nil {
		p.logger.Info("launched with detected player", "player", name)
		return nil
	}

	// Tier 3: Fall back to system default
	p.logger.Info("no candidate players found, using system default")
	return p.playDefault(target)
}

// detectAndPlay tries candidate players in order and returns the one that started
func (p *AudioPlayer) detectAndPlay(target string) (string, error) {
	candidates, ok := candidatePlayers[runtime.GOOS]
	if !ok {
		candidates = candidatePlayers["linux"]
	}

	for _, name := range candidates {
		if _, err := p.lookPath(name); err != nil {
			p.logger.Debug("player not in path", "player", name)
			continue
		}
		args := append(append([]string{}, players[name].args...), target)
		if err := p.start(name, args...); err != nil {
			p.logger.Debug("player failed to start", "player", name, "error", err)
			continue
		}
		return name, nil
	}
	return "", fmt.Errorf("no candidate players found")
}

// playDefault opens the URL using the system default handler
func (p *AudioPlayer) playDefault(target string) error {
	switch runtime.GOOS {
	case "darwin":
		return p.start("open", target)
	case "windows":
		return p.start("cmd", "/c", "start", "", target)
	default:
		return p.start("xdg-open", target)
	}
}

func playerName(command string) string {
	base := filepath.Base(command)
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}

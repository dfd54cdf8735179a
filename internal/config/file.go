package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// fileLayout mirrors Config with durations as strings so the written file
// reads "10s" rather than nanoseconds.
type fileLayout struct {
	DB struct {
		Path string `toml:"path"`
	} `toml:"db"`
	Accounts struct {
		Path string `toml:"path"`
	} `toml:"accounts"`
	Peer struct {
		Listen      string `toml:"listen"`
		Advertise   string `toml:"advertise"`
		DialTimeout string `toml:"dial_timeout"`
	} `toml:"peer"`
	Rendezvous struct {
		URL    string `toml:"url"`
		Listen string `toml:"listen"`
	} `toml:"rendezvous"`
	Feed struct {
		Listen string `toml:"listen"`
	} `toml:"feed"`
	Spool struct {
		Inbox    string `toml:"inbox"`
		Debounce string `toml:"debounce"`
	} `toml:"spool"`
	Log struct {
		Level string `toml:"level"`
		File  string `toml:"file"`
	} `toml:"log"`
}

const fileHeader = `# gather configuration.
#
# Every key can be overridden with a GATHER_* environment variable, e.g.
# GATHER_PEER_LISTEN or GATHER_RENDEZVOUS_URL. Relative paths are resolved
# against the gather home directory.

`

// WriteDefault writes a config file holding the default values. It refuses
// to overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
	}

	v := New()
	var layout fileLayout
	layout.DB.Path = v.GetString(KeyDBPath)
	layout.Accounts.Path = v.GetString(KeyAccountsPath)
	layout.Peer.Listen = v.GetString(KeyPeerListen)
	layout.Peer.Advertise = v.GetString(KeyPeerAdvertise)
	layout.Peer.DialTimeout = v.GetDuration(KeyPeerDialTimeout).String()
	layout.Rendezvous.URL = v.GetString(KeyRendezvousURL)
	layout.Rendezvous.Listen = v.GetString(KeyRendezvousListen)
	layout.Feed.Listen = v.GetString(KeyFeedListen)
	layout.Spool.Inbox = v.GetString(KeySpoolInbox)
	layout.Spool.Debounce = v.GetDuration(KeySpoolDebounce).String()
	layout.Log.Level = v.GetString(KeyLogLevel)
	layout.Log.File = v.GetString(KeyLogFile)

	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	if err := toml.NewEncoder(&buf).Encode(layout); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

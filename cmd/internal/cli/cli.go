package cli

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"golang.org/x/term"
)

const Description = `ferry relays uploaded files into size-capped carrier storage and serves
them back over stable download and stream URLs. Objects over the carrier
ceiling are split into ordered segments and stitched back together on the
way out.

Configuration is read from a TOML file. Unless --config is given, the
first existing file wins:

    /etc/ferry.toml
    $XDG_CONFIG_HOME/ferry.toml

Run with --dev for a local filesystem carrier and registry, no config
file needed.
`

// DiscoverConfigPath returns the first config file that exists on disk, or
// "" when none does.
func DiscoverConfigPath() string {
	for _, p := range []string{
		"/etc/ferry.toml",
		filepath.Join(xdg.ConfigHome, "ferry.toml"),
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func Bold(s string) string {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return "\x1b[1m" + s + "\x1b[0m"
	} else {
		return s
	}
}

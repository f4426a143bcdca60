package watcher

import (
	"strings"
	"time"
)

// Container labels read by the Docker watcher
const (
	LabelWatch        = "fleetwatch.watch"
	LabelWatchDigest  = "fleetwatch.watch.digest"
	LabelTagInclude   = "fleetwatch.tag.include"
	LabelTagExclude   = "fleetwatch.tag.exclude"
	LabelTagTransform = "fleetwatch.tag.transform"
	LabelLinkTemplate = "fleetwatch.link.template"
	LabelDisplayName  = "fleetwatch.display.name"
	LabelDisplayIcon  = "fleetwatch.display.icon"
)

// Defaults
const (
	DefaultCron      = "0 * * * *"
	DefaultStatsCron = "*/1 * * * *"

	DefaultStartupDelay   = 1 * time.Second
	DefaultDebounceWindow = 5 * time.Second
	DefaultEventsRetry    = 10 * time.Second

	pingTimeout  = 10 * time.Second
	statsTimeout = 10 * time.Second

	// resolveConcurrency bounds the registry lookups of one scan
	resolveConcurrency = 8
)

// Configuration is the Docker watcher configuration.
type Configuration struct {
	DeviceID string `cfg:"deviceid" json:"deviceid" valid:"required"`

	// Socket selects a local unix socket instead of the SSH tunnel
	Socket string `cfg:"socket" json:"socket"`

	// Host selects a TCP daemon instead of the SSH tunnel
	Host     string `cfg:"host" json:"host" valid:"host"`
	Port     int    `cfg:"port" json:"port"`
	Username string `cfg:"username" json:"username"`
	Password string `cfg:"password" json:"password"`
	CAFile   string `cfg:"cafile" json:"cafile"`
	CertFile string `cfg:"certfile" json:"certfile"`
	KeyFile  string `cfg:"keyfile" json:"keyfile"`

	Cron           string `cfg:"cron" json:"cron" valid:"cron"`
	StatsCron      string `cfg:"statscron" json:"statscron" valid:"cron"`
	WatchByDefault bool   `cfg:"watchbydefault" json:"watchbydefault"`
	WatchAll       bool   `cfg:"watchall" json:"watchall"`
	WatchEvents    bool   `cfg:"watchevents" json:"watchevents"`
}

func defaultConfiguration() Configuration {
	return Configuration{
		Cron:           DefaultCron,
		StatsCron:      DefaultStatsCron,
		WatchByDefault: true,
		WatchAll:       false,
		WatchEvents:    true,
	}
}

// parseBoolLabel returns the explicit value of a "true"/"false" label, or
// fallback for anything else.
func parseBoolLabel(value string, fallback bool) bool {
	switch strings.TrimSpace(value) {
	case "true":
		return true
	case "false":
		return false
	default:
		return fallback
	}
}

// isWatched reports whether a container is scanned.
func isWatched(labels map[string]string, watchByDefault bool) bool {
	return parseBoolLabel(labels[LabelWatch], watchByDefault)
}

// isDigestWatched reports whether a container's digest is watched. Without
// a label the digest is watched unless the tag is semver.
func isDigestWatched(labels map[string]string, semver bool) bool {
	return parseBoolLabel(labels[LabelWatchDigest], !semver)
}

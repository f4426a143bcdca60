package model

// Device is a remote host monitored by a Docker watcher.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	IP   string `json:"ip"`

	// Watch marks the device for watcher registration
	Watch bool `json:"watch"`

	DockerWatcherCron string `json:"dockerWatcherCron,omitempty"`
	StatsCron         string `json:"statsCron,omitempty"`
	WatchAll          bool   `json:"watchAll"`
	WatchEvents       bool   `json:"watchEvents"`
	WatchByDefault    bool   `json:"watchByDefault"`

	// UseCustomDockerSSH selects the dedicated Docker SSH identity
	UseCustomDockerSSH bool `json:"useCustomDockerSSH"`
}

// SSHCredentials are the decrypted connection parameters of a device.
type SSHCredentials struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey string
	Passphrase string
}

// RegistryAccount is a registry with stored credentials.
type RegistryAccount struct {
	Name           string            `json:"name"`
	Provider       string            `json:"provider"`
	Authentication map[string]string `json:"authentication"`
}

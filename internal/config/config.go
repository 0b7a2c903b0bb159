package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	Port         int    `envconfig:"PORT" default:"8080"`
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	DatabasePath string `envconfig:"DATABASE_PATH" default:""`

	// Default credentials used when a handshake carries none. Intended for
	// demo deployments; production clients present their own credentials.
	AblyAPIKey      string `envconfig:"ABLY_API_KEY" default:""`
	AblyAccessToken string `envconfig:"ABLY_ACCESS_TOKEN" default:""`

	ControlAPIURL string `envconfig:"CONTROL_API_URL" default:"https://control.ably.net/v1"`
	AuthDisabled  bool   `envconfig:"AUTH_DISABLED" default:"false"`
	PolicyPath    string `envconfig:"POLICY_PATH" default:""`

	// Shell runner settings
	RunnerBackend  string `envconfig:"RUNNER_BACKEND" default:"docker"`
	DockerHost     string `envconfig:"DOCKER_HOST" default:""`
	ContainerImage string `envconfig:"CONTAINER_IMAGE" default:"ablylabs/cli-sandbox:latest"`
	CPULimit       string `envconfig:"CPU_LIMIT" default:"1"`
	MemoryLimit    string `envconfig:"MEMORY_LIMIT" default:"256M"`

	// Session lifecycle settings
	MaxSessions        int           `envconfig:"MAX_SESSIONS" default:"50"`
	MaxShells          int           `envconfig:"MAX_SHELLS" default:"50"`
	CapacityWait       time.Duration `envconfig:"CAPACITY_WAIT" default:"2s"`
	IdleTimeout        time.Duration `envconfig:"IDLE_TIMEOUT" default:"5m"`
	MaxSessionDuration time.Duration `envconfig:"MAX_SESSION_DURATION" default:"30m"`
	GracePeriod        time.Duration `envconfig:"GRACE_PERIOD" default:"2m"`
	OutputBufferBytes  int           `envconfig:"OUTPUT_BUFFER_BYTES" default:"262144"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if Cfg.DatabasePath == "" {
		Cfg.DatabasePath = filepath.Join(Cfg.DataPath, "termbridge.db")
	}
	if Cfg.LogPath == "" {
		Cfg.LogPath = filepath.Join(Cfg.DataPath, "termbridge.log")
	}
}

package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr    string `envconfig:"LISTEN_ADDR" default:":8000"`
	DataPath      string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath  string `envconfig:"DATABASE_PATH" default:"/app/data/nsosync.db"`
	LogPath       string `envconfig:"LOG_PATH" default:"/app/data/nsosync.log"`
	InventoryPath string `envconfig:"INVENTORY_PATH" default:"/app/data/instances.yaml"`

	// APIToken, when non-empty, requires a matching bearer token on all
	// /api/v1 requests.
	APIToken string `envconfig:"API_TOKEN" default:""`

	// APIClient selects the NSO client implementation: "http" or "curl".
	APIClient string `envconfig:"API_CLIENT" default:"http"`

	// Prober selects the reachability prober: "exec" (system ssh binary,
	// honors ~/.ssh/config) or "native" (in-process SSH with key auth).
	Prober     string `envconfig:"PROBER" default:"exec"`
	SSHKeyPath string `envconfig:"SSH_KEY_PATH" default:""`
	SSHBinary  string `envconfig:"SSH_BINARY" default:"ssh"`
	ControlDir string `envconfig:"CONTROL_DIR" default:""`

	// DirectMarker marks hosts with direct NSO reachability: when the local
	// hostname contains this substring, non-production instances skip the
	// tunnel entirely.
	DirectMarker string `envconfig:"DIRECT_MARKER" default:"dev-vm"`

	SyncWorkers   int `envconfig:"SYNC_WORKERS" default:"10"`
	RetentionDays int `envconfig:"RETENTION_DAYS" default:"90"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("NSOSYNC", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

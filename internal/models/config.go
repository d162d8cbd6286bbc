package models

// ServerConfig is the top-level YAML-configured process settings.
type ServerConfig struct {
	Name     string         `yaml:"name"`
	Host     string         `yaml:"host"`
	Port     int            `yaml:"port"`
	LogLevel string         `yaml:"log_level"`
	GrpcHost string         `yaml:"grpc_host"`
	GrpcPort int            `yaml:"grpc_port"`
	Storage  StorageConfig  `yaml:"storage"`
	Replay   ReplayDefaults `yaml:"replay"`
}

// StorageConfig selects and configures the DataSource backend.
type StorageConfig struct {
	DBType             string `yaml:"db_type"` // "sqlite" or "postgres"
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
	// Timezone is the IANA zone name used to interpret table timestamps
	// absent any per-table override, e.g. "America/New_York".
	Timezone string `yaml:"timezone"`
	// EpochUnit is one of "s", "ms", "us" describing the unit stored in
	// the backing table's timestamp column.
	EpochUnit string `yaml:"epoch_unit"`
}

// ReplayDefaults holds server-wide fallbacks applied when a replay
// request omits an optional field.
type ReplayDefaults struct {
	DefaultReplayIntervalMS int `yaml:"default_replay_interval_ms"`
}

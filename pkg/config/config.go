package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the whole application configuration.
type Config struct {
	Server  ServerConfig
	DB      DBConfig
	Session SessionConfig
	Room    RoomConfig
	Log     LogConfig
}

type ServerConfig struct {
	Address        string
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// PublicURL is what players type (or scan) to reach the join page.
	PublicURL string `mapstructure:"public_url"`
}

type DBConfig struct {
	Driver   string // "postgres" or "memory"
	Host     string
	User     string
	Password string
	Name     string
	Port     int
}

type SessionConfig struct {
	Secret   string
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type RoomConfig struct {
	MaxPlayers         int           `mapstructure:"max_players"`
	CodeLength         int           `mapstructure:"code_length"`
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	DisconnectAfter    time.Duration `mapstructure:"disconnect_after"`
	BootAfter          time.Duration `mapstructure:"boot_after"`
	CountdownSeconds   int           `mapstructure:"countdown_seconds"`
	ResultsDuration    time.Duration `mapstructure:"results_duration"`
	IdleRoomTTL        time.Duration `mapstructure:"idle_room_ttl"`
	AdminSuffix        string        `mapstructure:"admin_suffix"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":3001")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.public_url", "http://localhost:3000")

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.user", "jkbox")
	v.SetDefault("db.password", "jkbox")
	v.SetDefault("db.name", "jkbox")
	v.SetDefault("db.port", 5432)

	v.SetDefault("session.secret", "change-me")
	v.SetDefault("session.token_ttl", 24*time.Hour)

	v.SetDefault("room.max_players", 12)
	v.SetDefault("room.code_length", 4)
	v.SetDefault("room.staleness_threshold", 5*time.Minute)
	v.SetDefault("room.heartbeat_interval", time.Second)
	v.SetDefault("room.disconnect_after", 5*time.Second)
	v.SetDefault("room.boot_after", 60*time.Second)
	v.SetDefault("room.countdown_seconds", 5)
	v.SetDefault("room.results_duration", 15*time.Second)
	v.SetDefault("room.idle_room_ttl", 30*time.Minute)
	v.SetDefault("room.admin_suffix", "~")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

// Load reads config.yaml from the given search paths (the file is optional)
// and applies JKBOX_* environment overrides on top of the defaults.
func Load(paths ...string) (*Config, error) {
	// .env is a convenience for local runs; a missing file is not an error.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./pkg/config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("jkbox")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

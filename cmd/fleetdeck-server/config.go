package main

import (
	"strings"
	"time"

	"github.com/fleetdeck/fleetdeck/internal/api/http"
	"github.com/fleetdeck/fleetdeck/internal/db"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log       LogConfig
	Http      http.Config
	Db        db.Config
	Auth      AuthConfig      `mapstructure:"auth"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Terminal  TerminalConfig  `mapstructure:"terminal"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
}

type AuthConfig struct {
	JwtSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type VaultConfig struct {
	MasterSecret string `mapstructure:"master_secret"`
	Salt         string `mapstructure:"salt"`
	Iterations   int    `mapstructure:"iterations"`
}

type PoolConfig struct {
	MaxPerKey      int           `mapstructure:"max_per_key"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxRetries     uint64        `mapstructure:"max_retries"`
}

type LifecycleConfig struct {
	CommandTimeout  time.Duration `mapstructure:"command_timeout"`
	HeartbeatWindow time.Duration `mapstructure:"heartbeat_window"`
	PayloadPath     string        `mapstructure:"payload_path"`
}

type TerminalConfig struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// BootstrapConfig seeds the first admin account on an empty database.
type BootstrapConfig struct {
	AdminUsername string `mapstructure:"admin_username"`
	AdminPassword string `mapstructure:"admin_password"`
}

var config Config

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/fleetdeck-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("db.url", "DATABASE_URL")
	_ = viper.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("vault.master_secret", "VAULT_MASTER_SECRET")
	_ = viper.BindEnv("bootstrap.admin_password", "BOOTSTRAP_ADMIN_PASSWORD")

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}

	initLogger(config.Log.Level)
}

package http

type Config struct {
	Port           uint     `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

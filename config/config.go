// Package config loads the server process configuration from an optional
// .env file, the environment and an optional YAML file, in that order of
// increasing precedence for the environment.
package config

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	authcore "github.com/Bidiche49/art-des-jardins-sub001"
	"github.com/Bidiche49/art-des-jardins-sub001/geoip"
	"github.com/Bidiche49/art-des-jardins-sub001/mail"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Server struct {
	Environment string   `mapstructure:"environment"`
	LogLevel    string   `mapstructure:"log_level"`
	HTTP        HTTP     `mapstructure:"http"`
	Database    Database `mapstructure:"database"`
	Redis       Redis    `mapstructure:"redis"`
	SMTP        SMTP     `mapstructure:"smtp"`
	Auth        Auth     `mapstructure:"auth"`
	WebAuthn    WebAuthn `mapstructure:"webauthn"`
	Devices     Devices  `mapstructure:"devices"`
	GeoIP       GeoIP    `mapstructure:"geoip"`
}

type HTTP struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type Database struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SMTP struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
}

type Auth struct {
	JWTSecret        string        `mapstructure:"jwt_secret"`
	AccessTTL        time.Duration `mapstructure:"access_ttl"`
	RefreshExpiresIn string        `mapstructure:"refresh_expires_in"`
	EncryptionKey    string        `mapstructure:"encryption_key"`
	JanitorInterval  time.Duration `mapstructure:"janitor_interval"`
	TwoFactorIssuer  string        `mapstructure:"two_factor_issuer"`
}

type WebAuthn struct {
	RPID     string `mapstructure:"rp_id"`
	RPName   string `mapstructure:"rp_name"`
	RPOrigin string `mapstructure:"rp_origin"`
}

type Devices struct {
	AppName       string `mapstructure:"app_name"`
	ActionBaseURL string `mapstructure:"action_base_url"`
	FrontendURL   string `mapstructure:"frontend_url"`
}

type GeoIP struct {
	Endpoint          string `mapstructure:"endpoint"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

var defaults = map[string]any{
	"environment":               "development",
	"log_level":                 "info",
	"http.addr":                 ":8080",
	"http.shutdown_timeout":     "15s",
	"database.url":              "",
	"database.max_conns":        10,
	"redis.addr":                "localhost:6379",
	"redis.password":            "",
	"redis.db":                  0,
	"smtp.host":                 "",
	"smtp.port":                 587,
	"smtp.user":                 "",
	"smtp.password":             "",
	"smtp.from":                 "",
	"smtp.from_name":            "Art des Jardins",
	"auth.jwt_secret":           "",
	"auth.access_ttl":           "15m",
	"auth.refresh_expires_in":   "7d",
	"auth.encryption_key":       "",
	"auth.janitor_interval":     "1h",
	"auth.two_factor_issuer":    "Art des Jardins",
	"webauthn.rp_id":            "localhost",
	"webauthn.rp_name":          "Art des Jardins",
	"webauthn.rp_origin":        "http://localhost:3000",
	"devices.app_name":          "Art des Jardins",
	"devices.action_base_url":   "",
	"devices.frontend_url":      "http://localhost:3000",
	"geoip.endpoint":            geoip.DefaultEndpoint,
	"geoip.requests_per_minute": 45,
}

// Load reads configuration. Environment variables use the upper-cased key
// with dots replaced by underscores (DATABASE_URL, AUTH_JWT_SECRET). file
// may be empty.
func Load(file string) (*Server, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var s Server
	if err := v.Unmarshal(&s); err != nil {
		slog.Error("unable to decode config", "err", err)
		return nil, err
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Server) validate() error {
	if s.Database.URL == "" {
		return errors.New("config: database.url is required")
	}
	if len(s.Auth.JWTSecret) < 32 {
		return errors.New("config: auth.jwt_secret must be at least 32 characters")
	}
	if s.Auth.EncryptionKey == "" {
		return errors.New("config: auth.encryption_key is required")
	}
	return nil
}

func (s *Server) Production() bool {
	return strings.EqualFold(s.Environment, "production")
}

// SlogLevel maps log_level onto slog; unknown values mean info.
func (s *Server) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Engine maps the process configuration onto the library defaults.
func (s *Server) Engine() authcore.Config {
	cfg := authcore.DefaultConfig()

	cfg.Tokens.PrivateKey = []byte(s.Auth.JWTSecret)
	if s.Auth.AccessTTL > 0 {
		cfg.Tokens.AccessTTL = s.Auth.AccessTTL
	}
	cfg.Tokens.RefreshExpiresIn = s.Auth.RefreshExpiresIn

	cfg.TwoFactor.EncryptionKey = s.Auth.EncryptionKey
	cfg.TwoFactor.Issuer = s.Auth.TwoFactorIssuer

	cfg.Devices.AppName = s.Devices.AppName
	cfg.Devices.ActionBaseURL = s.Devices.ActionBaseURL
	cfg.Devices.FrontendURL = s.Devices.FrontendURL

	cfg.WebAuthn.RPID = s.WebAuthn.RPID
	cfg.WebAuthn.RPDisplayName = s.WebAuthn.RPName
	cfg.WebAuthn.RPOrigin = s.WebAuthn.RPOrigin

	cfg.Security.ProductionMode = s.Production()
	return cfg
}

// Mail returns the relay settings, or false when no relay is configured.
func (s *Server) Mail() (mail.SMTPConfig, bool) {
	if s.SMTP.Host == "" {
		return mail.SMTPConfig{}, false
	}
	return mail.SMTPConfig{
		Host:     s.SMTP.Host,
		Port:     s.SMTP.Port,
		Username: s.SMTP.User,
		Password: s.SMTP.Password,
		From:     s.SMTP.From,
		FromName: s.SMTP.FromName,
	}, true
}

func (s *Server) GeoIPConfig() geoip.Config {
	return geoip.Config{
		Endpoint:          s.GeoIP.Endpoint,
		RequestsPerMinute: s.GeoIP.RequestsPerMinute,
	}
}

package configs

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     string
		Env      string
		LogLevel string
	}
	Database struct {
		Driver   string // postgres, sqlite or memory
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		Path     string // sqlite file
	}
	WebSocket struct {
		PingInterval   time.Duration
		MaxMessageSize int64
		RateLimit      float64
		RateBurst      int
	}
	Engine struct {
		TriggerWindow     time.Duration
		ExtensionWindow   time.Duration
		TieBreakIncrement int64
		MinPositiveRatio  float64
		MaxRetries        uint64
		RetryInterval     time.Duration
	}
	Scheduler struct {
		Interval       time.Duration
		AuctionTimeout time.Duration
		Concurrency    int
		BatchSize      int
	}
	Notifications struct {
		QueueSize       int
		Workers         int
		DeliveryTimeout time.Duration
		KafkaBrokers    []string
		KafkaTopic      string
	}
	Features struct {
		EnableLogging    bool
		AllowCrossOrigin bool
		Console          bool
	}
}

// Defaults returns a configuration with every tunable set.
func Defaults() *Config {
	var config Config
	config.Server.Port = "8080"
	config.Server.Env = "dev"
	config.Server.LogLevel = "info"
	config.Database.Driver = "postgres"
	config.Database.SSLMode = "disable"
	config.Database.Path = "./jewelbid.db"
	config.WebSocket.PingInterval = 30 * time.Second
	config.WebSocket.MaxMessageSize = 4096
	config.WebSocket.RateLimit = 1
	config.WebSocket.RateBurst = 3
	config.Engine.TriggerWindow = 5 * time.Minute
	config.Engine.ExtensionWindow = 10 * time.Minute
	config.Engine.TieBreakIncrement = 1
	config.Engine.MinPositiveRatio = 0.80
	config.Engine.MaxRetries = 5
	config.Engine.RetryInterval = 20 * time.Millisecond
	config.Scheduler.Interval = time.Minute
	config.Scheduler.AuctionTimeout = 15 * time.Second
	config.Scheduler.Concurrency = 8
	config.Scheduler.BatchSize = 500
	config.Notifications.QueueSize = 1024
	config.Notifications.Workers = 4
	config.Notifications.DeliveryTimeout = 5 * time.Second
	config.Notifications.KafkaTopic = "auction-notifications"
	config.Features.EnableLogging = true
	return &config
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.env", d.Server.Env)
	v.SetDefault("server.loglevel", d.Server.LogLevel)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.sslmode", d.Database.SSLMode)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("websocket.pinginterval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.maxmessagesize", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.ratelimit", d.WebSocket.RateLimit)
	v.SetDefault("websocket.rateburst", d.WebSocket.RateBurst)
	v.SetDefault("engine.triggerwindow", d.Engine.TriggerWindow)
	v.SetDefault("engine.extensionwindow", d.Engine.ExtensionWindow)
	v.SetDefault("engine.tiebreakincrement", d.Engine.TieBreakIncrement)
	v.SetDefault("engine.minpositiveratio", d.Engine.MinPositiveRatio)
	v.SetDefault("engine.maxretries", d.Engine.MaxRetries)
	v.SetDefault("engine.retryinterval", d.Engine.RetryInterval)
	v.SetDefault("scheduler.interval", d.Scheduler.Interval)
	v.SetDefault("scheduler.auctiontimeout", d.Scheduler.AuctionTimeout)
	v.SetDefault("scheduler.concurrency", d.Scheduler.Concurrency)
	v.SetDefault("scheduler.batchsize", d.Scheduler.BatchSize)
	v.SetDefault("notifications.queuesize", d.Notifications.QueueSize)
	v.SetDefault("notifications.workers", d.Notifications.Workers)
	v.SetDefault("notifications.deliverytimeout", d.Notifications.DeliveryTimeout)
	v.SetDefault("notifications.kafkatopic", d.Notifications.KafkaTopic)
	v.SetDefault("features.enablelogging", d.Features.EnableLogging)
}

// LoadConfig reads ./configs/config.yaml (optional) overlaid with the
// environment.
func LoadConfig() (*Config, error) {
	return Load("./configs")
}

// Load reads config.yaml from dir.
func Load(dir string) (*Config, error) {
	// Load .env file
	if err := godotenv.Load(dir + "/.env"); err != nil {
		log.Info("No .env file found")
	}

	v := viper.New()
	v.SetConfigName("config") // Name of the config file (without extension)
	v.SetConfigType("yaml")   // Config file type
	v.AddConfigPath(dir)      // Path to look for the config file
	v.AutomaticEnv()          // Automatically map environment variables

	// Allow dots in environment variables to map to nested keys
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("No config file found, using defaults")
	}

	// Manually substitute environment variables in the config
	substituteEnvVarsInConfig(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Helper function to manually replace environment variables in config file values
func substituteEnvVarsInConfig(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		value, ok := v.Get(key).(string)
		if !ok {
			continue
		}

		// Check if the value contains environment variable syntax (e.g., ${PORT})
		if strings.Contains(value, "${") {
			v.Set(key, os.ExpandEnv(value))
		}
	}
}

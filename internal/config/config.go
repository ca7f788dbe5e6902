package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env         string `mapstructure:"ENV"`
	Port        string `mapstructure:"PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	NATSURL     string `mapstructure:"NATS_URL"`
	AdminKey    string `mapstructure:"ADMIN_KEY"`
	CORSAllowed string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	// Sweeper cadence and deadlines.
	SweepInterval          time.Duration `mapstructure:"SWEEP_INTERVAL"`
	PendingUnattendedAfter time.Duration `mapstructure:"PENDING_UNATTENDED_AFTER"`
	UnattendedExpireAfter  time.Duration `mapstructure:"UNATTENDED_EXPIRE_AFTER"`
	AcceptedReconcileAfter time.Duration `mapstructure:"ACCEPTED_RECONCILE_AFTER"`
	ScheduledGrace         time.Duration `mapstructure:"SCHEDULED_GRACE"`
	AbandonedAfter         time.Duration `mapstructure:"ABANDONED_AFTER"`
	MaxSessionDuration     time.Duration `mapstructure:"MAX_SESSION_DURATION"`
	WaiverReminderLead     time.Duration `mapstructure:"WAIVER_REMINDER_LEAD"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("PENDING_UNATTENDED_AFTER", "5m")
	v.SetDefault("UNATTENDED_EXPIRE_AFTER", "15m")
	v.SetDefault("ACCEPTED_RECONCILE_AFTER", "2m")
	v.SetDefault("SCHEDULED_GRACE", "10m")
	v.SetDefault("ABANDONED_AFTER", "60m")
	v.SetDefault("MAX_SESSION_DURATION", "4h")
	v.SetDefault("WAIVER_REMINDER_LEAD", "15m")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	Backup struct {
		RedisURL string `yaml:"redis_url"`
	} `yaml:"backup"`
	Trial struct {
		DefaultDays int `yaml:"default_days"`
	} `yaml:"trial"`
	Sweep struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"sweep"`
	Refresh struct {
		Interval    time.Duration `yaml:"interval"`
		WarmupDelay time.Duration `yaml:"warmup_delay"`
		Window      time.Duration `yaml:"window"`
		UserDelay   time.Duration `yaml:"user_delay"`
	} `yaml:"refresh"`
	Admin struct {
		Emails []string `yaml:"emails"`
	} `yaml:"admin"`
	Identity struct {
		TokenURL     string `yaml:"token_url"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
	} `yaml:"identity"`
	Billing struct {
		PeriodDays int `yaml:"period_days"`
	} `yaml:"billing"`
	Security struct {
		TokenSigningKey string `yaml:"token_signing_key"`
	} `yaml:"security"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func Default() Config {
	var cfg Config
	cfg.HTTP.Addr = ":8090"
	cfg.Trial.DefaultDays = 7
	cfg.Sweep.Interval = time.Hour
	cfg.Refresh.Interval = 30 * time.Minute
	cfg.Refresh.WarmupDelay = 15 * time.Second
	cfg.Refresh.Window = 30 * time.Minute
	cfg.Refresh.UserDelay = 500 * time.Millisecond
	cfg.Identity.TokenURL = "https://oauth2.googleapis.com/token"
	cfg.Billing.PeriodDays = 30
	cfg.Log.Level = "info"
	return cfg
}

func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	applyEnv(&cfg)

	if cfg.Database.DSN == "" {
		return cfg, errors.New("missing database.dsn (or RF_DB_DSN)")
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RF_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("RF_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("RF_BACKUP_REDIS_URL"); v != "" {
		cfg.Backup.RedisURL = v
	}
	if v := os.Getenv("RF_TRIAL_DEFAULT_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.Trial.DefaultDays = days
		}
	}
	if v := os.Getenv("RF_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sweep.Interval = d
		}
	}
	if v := os.Getenv("RF_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Refresh.Interval = d
		}
	}
	if v := os.Getenv("RF_REFRESH_WARMUP_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Refresh.WarmupDelay = d
		}
	}
	if v := os.Getenv("RF_REFRESH_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Refresh.Window = d
		}
	}
	if v := os.Getenv("RF_REFRESH_USER_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Refresh.UserDelay = d
		}
	}
	if v := os.Getenv("RF_ADMIN_EMAILS"); v != "" {
		cfg.Admin.Emails = splitCSV(v)
	}
	if v := os.Getenv("RF_IDENTITY_TOKEN_URL"); v != "" {
		cfg.Identity.TokenURL = v
	}
	if v := os.Getenv("RF_IDENTITY_CLIENT_ID"); v != "" {
		cfg.Identity.ClientID = v
	}
	if v := os.Getenv("RF_IDENTITY_CLIENT_SECRET"); v != "" {
		cfg.Identity.ClientSecret = v
	}
	if v := os.Getenv("RF_BILLING_PERIOD_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.Billing.PeriodDays = days
		}
	}
	if v := os.Getenv("RF_TOKEN_SIGNING_KEY"); v != "" {
		cfg.Security.TokenSigningKey = v
	}
	if v := os.Getenv("RF_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func splitCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		val := strings.TrimSpace(part)
		if val == "" {
			continue
		}
		out = append(out, val)
	}
	return out
}

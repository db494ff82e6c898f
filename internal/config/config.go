package config

import (
	"log"
	"sync"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	IsDebug        bool   `yaml:"is_debug" env:"IS_DEBUG" env-default:"false"`
	TimeZone       string `yaml:"time_zone" env-default:"UTC"`
	RecoveryPolicy string `yaml:"recovery_policy" env-default:"always-clear"`
	Listen         struct {
		BindIP   string `yaml:"bind_ip" env-default:"0.0.0.0"`
		Port     string `yaml:"port" env-default:"9000"`
		TLS      bool   `yaml:"tls_enabled" env-default:"false"`
		CertFile string `yaml:"cert_file" env-default:""`
		KeyFile  string `yaml:"key_file" env-default:""`
	} `yaml:"listen"`
	Api struct {
		Enabled bool   `yaml:"enabled" env-default:"true"`
		BindIP  string `yaml:"bind_ip" env-default:"0.0.0.0"`
		Port    string `yaml:"port" env-default:"9001"`
	} `yaml:"api"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		BindIP  string `yaml:"bind_ip" env-default:"0.0.0.0"`
		Port    string `yaml:"port" env-default:"9100"`
	} `yaml:"metrics"`
	Mongo struct {
		Enabled  bool   `yaml:"enabled" env-default:"false"`
		Host     string `yaml:"host" env-default:"localhost"`
		Port     string `yaml:"port" env-default:"27017"`
		User     string `yaml:"user" env-default:""`
		Password string `yaml:"password" env-default:""`
		Database string `yaml:"database" env-default:"ocpp"`
	} `yaml:"mongo"`
	Pusher struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		AppID   string `yaml:"app_id" env-default:""`
		Key     string `yaml:"key" env-default:""`
		Secret  string `yaml:"secret" env-default:""`
		Cluster string `yaml:"cluster" env-default:""`
	} `yaml:"pusher"`
	Telegram struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		ApiKey  string `yaml:"api_key" env:"TELEGRAM_API_KEY" env-default:""`
	} `yaml:"telegram"`
	Dlb struct {
		MainFuseAmps      float64 `yaml:"main_fuse_amps" env-default:"60"`
		MinChargeAmps     float64 `yaml:"min_charge_amps" env-default:"6"`
		MaxChargeAmps     float64 `yaml:"max_charge_amps" env-default:"32"`
		SafetyMarginAmps  float64 `yaml:"safety_margin_amps" env-default:"1"`
		NightStartHour    int     `yaml:"night_start_hour" env-default:"22"`
		NightEndHour      int     `yaml:"night_end_hour" env-default:"6"`
		PvDynamicBalance  bool    `yaml:"pv_dynamic_balance" env-default:"true"`
		ExtremeMode       bool    `yaml:"extreme_mode" env-default:"false"`
		NightFullSpeed    bool    `yaml:"night_full_speed" env-default:"false"`
		AntiOverload      bool    `yaml:"anti_overload" env-default:"true"`
		AllocateIntervalS int     `yaml:"allocate_interval_seconds" env-default:"15"`
	} `yaml:"dlb"`
}

var instance *Config
var once sync.Once

func GetConfig() (*Config, error) {
	var err error
	once.Do(func() {
		log.Println("reading config")
		instance = &Config{}
		if err = cleanenv.ReadConfig("config.yml", instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			log.Println(desc)
			log.Println(err)
			instance = nil
		}
	})
	return instance, err
}

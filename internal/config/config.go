package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var Conf ServerConfiguration

// ServerConfiguration 游戏节点配置
type ServerConfiguration struct {
	ID         string      `mapstructure:"id"`
	ServerType string      `mapstructure:"serverType"`
	HttpPort   int         `mapstructure:"httpPort"`
	LogConf    LogConf     `mapstructure:"log"`
	JwtConf    JwtConf     `mapstructure:"jwt"`
	RedisConf  RedisConf   `mapstructure:"redis"`
	MongoConf  MongoConf   `mapstructure:"mongo"`
	NatsConf   NatsConf    `mapstructure:"nats"`
	GameConf   GameConf    `mapstructure:"game"`
	SessionCfg SessionConf `mapstructure:"session"`
	RoomConf   RoomConf    `mapstructure:"room"`
	StoreConf  StoreConf   `mapstructure:"store"`
}

type LogConf struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

type JwtConf struct {
	Secret string `mapstructure:"secret"`
	Exp    int    `mapstructure:"exp"`
}

type RedisConf struct {
	Addr         string   `mapstructure:"addr"`
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	Password     string   `mapstructure:"password"`
	PoolSize     int      `mapstructure:"poolSize"`
	MinIdleConns int      `mapstructure:"minIdleConns"`
	ClusterAddrs []string `mapstructure:"clusterAddrs"`
}

type MongoConf struct {
	Url         string `mapstructure:"url"`
	Db          string `mapstructure:"db"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	MinPoolSize int    `mapstructure:"minPoolSize"`
	MaxPoolSize int    `mapstructure:"maxPoolSize"`
}

type NatsConf struct {
	Url     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// GameConf 对局默认参数（可被房间规则覆盖）
type GameConf struct {
	TurnTimeLimitSeconds   int  `mapstructure:"turnTimeLimitSeconds"`
	ActionTimeLimitSeconds int  `mapstructure:"actionTimeLimitSeconds"`
	AutoTrustee            bool `mapstructure:"autoTrustee"`
}

type SessionConf struct {
	GracePeriodSeconds       int `mapstructure:"gracePeriodSeconds"`
	MaxDisconnectionMinutes  int `mapstructure:"maxDisconnectionMinutes"`
	HeartbeatIntervalSeconds int `mapstructure:"heartbeatIntervalSeconds"`
}

type RoomConf struct {
	MaxActiveRoomsPerOwner     int `mapstructure:"maxActiveRoomsPerOwner"`
	InactivityThresholdMinutes int `mapstructure:"inactivityThresholdMinutes"`
}

type StoreConf struct {
	WriteBudgetMs int `mapstructure:"writeBudgetMs"`
	TtlHours      int `mapstructure:"ttlHours"`
}

func (c *SessionConf) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

func (c *SessionConf) MaxDisconnection() time.Duration {
	return time.Duration(c.MaxDisconnectionMinutes) * time.Minute
}

func (c *RoomConf) InactivityThreshold() time.Duration {
	return time.Duration(c.InactivityThresholdMinutes) * time.Minute
}

func (c *StoreConf) WriteBudget() time.Duration {
	return time.Duration(c.WriteBudgetMs) * time.Millisecond
}

func (c *StoreConf) Ttl() time.Duration {
	return time.Duration(c.TtlHours) * time.Hour
}

// InitConfig 加载配置文件并监听变更
func InitConfig(configFile string) {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := v.Unmarshal(&Conf); err != nil {
			fmt.Println(fmt.Sprintf("配置重载失败: %v", err))
		}
	})

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Println(fmt.Sprintf("读取配置失败: %v", err))
		os.Exit(1)
	}
	if err := v.Unmarshal(&Conf); err != nil {
		fmt.Println(fmt.Sprintf("解析配置失败: %v", err))
		os.Exit(1)
	}

	if strings.TrimSpace(Conf.ID) == "" {
		Conf.ID = "game-1"
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("game.turnTimeLimitSeconds", 15)
	v.SetDefault("game.actionTimeLimitSeconds", 2)
	v.SetDefault("game.autoTrustee", true)
	v.SetDefault("session.gracePeriodSeconds", 60)
	v.SetDefault("session.maxDisconnectionMinutes", 5)
	v.SetDefault("session.heartbeatIntervalSeconds", 30)
	v.SetDefault("room.maxActiveRoomsPerOwner", 3)
	v.SetDefault("room.inactivityThresholdMinutes", 30)
	v.SetDefault("store.writeBudgetMs", 100)
	v.SetDefault("store.ttlHours", 24)
	v.SetDefault("log.level", "info")
}

// Defaults 返回带默认值的配置（测试与未初始化场景使用）
func Defaults() ServerConfiguration {
	return ServerConfiguration{
		ID: "game-1",
		GameConf: GameConf{
			TurnTimeLimitSeconds:   15,
			ActionTimeLimitSeconds: 2,
			AutoTrustee:            true,
		},
		SessionCfg: SessionConf{
			GracePeriodSeconds:       60,
			MaxDisconnectionMinutes:  5,
			HeartbeatIntervalSeconds: 30,
		},
		RoomConf: RoomConf{
			MaxActiveRoomsPerOwner:     3,
			InactivityThresholdMinutes: 30,
		},
		StoreConf: StoreConf{
			WriteBudgetMs: 100,
			TtlHours:      24,
		},
		LogConf: LogConf{Level: "info"},
	}
}

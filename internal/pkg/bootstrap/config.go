// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"nexus/internal/pkg/logger"
)

// Duration 让 yaml 配置可以直接写 "1s"、"500ms" 这样的时长。
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config 是服务的完整配置树。yaml 文件提供基础值，
// 关键的基础设施地址允许用环境变量覆盖，方便容器化部署。
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Infra struct {
		Mysql struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Kafka struct {
			Brokers string `yaml:"brokers"`
		} `yaml:"kafka"`
		Redis struct {
			Addrs string `yaml:"addrs"`
		} `yaml:"redis"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Zookeeper struct {
			Enabled bool   `yaml:"enabled"`
			Servers string `yaml:"servers"`
		} `yaml:"zookeeper"`
		Nacos struct {
			Enabled     bool   `yaml:"enabled"`
			ServerAddrs string `yaml:"serverAddrs"`
			Namespace   string `yaml:"namespace"`
			Group       string `yaml:"group"`
		} `yaml:"nacos"`
	} `yaml:"infra"`

	App struct {
		Outbox struct {
			PollInterval   Duration `yaml:"pollInterval"`
			BatchSize      int      `yaml:"batchSize"`
			PublishTimeout Duration `yaml:"publishTimeout"`
		} `yaml:"outbox"`
		Consumer struct {
			OrdersTopic   string `yaml:"ordersTopic"`
			PaymentsTopic string `yaml:"paymentsTopic"`
			GroupID       string `yaml:"groupId"`
		} `yaml:"consumer"`
		Idempotency struct {
			TTL Duration `yaml:"ttl"`
		} `yaml:"idempotency"`
	} `yaml:"app"`
}

var currentConfig atomic.Pointer[Config]

// Init 加载配置并初始化全局日志器。必须在服务启动最先调用。
func Init() {
	// 本地开发时从 .env 读环境变量，文件不存在则忽略
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path := getEnv("CONFIG_PATH", "configs/config.yaml"); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				logger.Logger.Fatal().Err(err).Str("path", path).Msg("invalid config file")
			}
		}
	}

	applyEnvOverrides(cfg)
	currentConfig.Store(cfg)

	logger.Init("product-service", cfg.Logging.Level)
}

// GetCurrentConfig 返回当前生效的配置。Init 之前调用会返回默认值。
func GetCurrentConfig() *Config {
	if cfg := currentConfig.Load(); cfg != nil {
		return cfg
	}
	cfg := defaultConfig()
	currentConfig.Store(cfg)
	return cfg
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8084
	cfg.Logging.Level = "info"
	cfg.Infra.Mysql.DSN = "root:root@tcp(localhost:3306)/ecommerce?charset=utf8mb4&parseTime=True&loc=Local"
	cfg.Infra.Kafka.Brokers = "localhost:9092"
	cfg.Infra.Redis.Addrs = "localhost:6379"
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Infra.Zookeeper.Servers = "localhost:2181"
	cfg.Infra.Nacos.ServerAddrs = "localhost:8848"
	cfg.Infra.Nacos.Group = "DEFAULT_GROUP"
	cfg.App.Outbox.PollInterval = Duration(time.Second)
	cfg.App.Outbox.BatchSize = 100
	cfg.App.Outbox.PublishTimeout = Duration(5 * time.Second)
	cfg.App.Consumer.OrdersTopic = "orders"
	cfg.App.Consumer.PaymentsTopic = "payments"
	cfg.App.Consumer.GroupID = "product-service"
	cfg.App.Idempotency.TTL = Duration(24 * time.Hour)
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	cfg.Infra.Mysql.DSN = getEnv("MYSQL_DSN", cfg.Infra.Mysql.DSN)
	cfg.Infra.Kafka.Brokers = getEnv("KAFKA_BROKERS", cfg.Infra.Kafka.Brokers)
	cfg.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", cfg.Infra.Redis.Addrs)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	cfg.Infra.Zookeeper.Servers = getEnv("ZK_SERVERS", cfg.Infra.Zookeeper.Servers)
	cfg.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", cfg.Infra.Nacos.ServerAddrs)
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", cfg.Infra.Nacos.Group)
}

// getEnv 从环境变量中读取配置，缺省时返回 fallback。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

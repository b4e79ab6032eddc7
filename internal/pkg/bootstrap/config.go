package bootstrap

import (
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config 是所有服务共享的基础设施配置。
// 各服务只取自己关心的部分，业务配置不放在这里。
type Config struct {
	Infra InfraConfig `yaml:"infra"`
}

type InfraConfig struct {
	Mysql struct {
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Database string `yaml:"database"`
	} `yaml:"mysql"`

	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`

	Kafka struct {
		Brokers []string `yaml:"brokers"`
	} `yaml:"kafka"`

	Jaeger struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"jaeger"`

	Zookeeper struct {
		Servers []string `yaml:"servers"`
	} `yaml:"zookeeper"`

	Nacos struct {
		ServerAddrs string `yaml:"serverAddrs"`
		Namespace   string `yaml:"namespace"`
		Group       string `yaml:"group"`
	} `yaml:"nacos"`
}

var (
	currentConfig Config
	configOnce    sync.Once
)

// Init 加载配置文件并应用环境变量覆盖。必须在 StartService 之前调用。
func Init() {
	configOnce.Do(func() {
		currentConfig = defaultConfig()

		path := getEnv("CONFIG_FILE", "config.yaml")
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, &currentConfig); err != nil {
				panic("bootstrap: invalid config file " + path + ": " + err.Error())
			}
		}

		applyEnvOverrides(&currentConfig)
	})
}

// GetCurrentConfig 返回进程级配置。Init 未调用时返回默认值。
func GetCurrentConfig() Config {
	Init()
	return currentConfig
}

func defaultConfig() Config {
	var c Config
	c.Infra.Mysql.User = "root"
	c.Infra.Mysql.Host = "localhost"
	c.Infra.Mysql.Port = 3306
	c.Infra.Mysql.Database = "scm"
	c.Infra.Redis.Addr = "localhost:6379"
	c.Infra.Kafka.Brokers = []string{"localhost:9092"}
	c.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	c.Infra.Zookeeper.Servers = []string{"localhost:2181"}
	c.Infra.Nacos.ServerAddrs = "localhost:8848"
	c.Infra.Nacos.Group = "DEFAULT_GROUP"
	return c
}

// 环境变量优先于文件，方便容器环境下逐项覆盖。
func applyEnvOverrides(c *Config) {
	if v, ok := os.LookupEnv("MYSQL_USER"); ok {
		c.Infra.Mysql.User = v
	}
	if v, ok := os.LookupEnv("MYSQL_PASSWORD"); ok {
		c.Infra.Mysql.Password = v
	}
	if v, ok := os.LookupEnv("MYSQL_HOST"); ok {
		c.Infra.Mysql.Host = v
	}
	if v, ok := os.LookupEnv("MYSQL_DATABASE"); ok {
		c.Infra.Mysql.Database = v
	}
	if v, ok := os.LookupEnv("REDIS_ADDR"); ok {
		c.Infra.Redis.Addr = v
	}
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		c.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("JAEGER_ENDPOINT"); ok {
		c.Infra.Jaeger.Endpoint = v
	}
	if v, ok := os.LookupEnv("ZOOKEEPER_SERVERS"); ok {
		c.Infra.Zookeeper.Servers = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("NACOS_SERVER_ADDRS"); ok {
		c.Infra.Nacos.ServerAddrs = v
	}
	if v, ok := os.LookupEnv("NACOS_NAMESPACE"); ok {
		c.Infra.Nacos.Namespace = v
	}
	if v, ok := os.LookupEnv("NACOS_GROUP"); ok {
		c.Infra.Nacos.Group = v
	}
}

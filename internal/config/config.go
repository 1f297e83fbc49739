package config

import (
	"log"
	"os"

	"github.com/BurntSushi/toml"
)

type MainConfig struct {
	AppName string `toml:"appName"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

type MysqlConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
}

type LogConfig struct {
	LogPath string `toml:"logPath"`
}

type MilvusConfig struct {
	Address  string `toml:"address"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	DBName   string `toml:"dbName"`
}

// StorageConfig 上传文件与生成产物的落盘目录
type StorageConfig struct {
	UploadDir  string `toml:"uploadDir"`
	SummaryDir string `toml:"summaryDir"`
	GraphDir   string `toml:"graphDir"`
	TempDir    string `toml:"tempDir"`
}

// IngestConfig 切片与向量化参数
type IngestConfig struct {
	ChunkSize        int `toml:"chunkSize"`
	ChunkOverlap     int `toml:"chunkOverlap"`
	CodeChunkLines   int `toml:"codeChunkLines"`
	CodeChunkOverlap int `toml:"codeChunkOverlap"`
	CodeMaxChars     int `toml:"codeMaxChars"`
	EmbedBatchSize   int `toml:"embedBatchSize"`
}

// RAGConfig 检索与生成参数
type RAGConfig struct {
	DefaultTopK          int   `toml:"defaultTopK"`
	SummaryTopK          int   `toml:"summaryTopK"`
	SummarySizeThreshold int64 `toml:"summarySizeThreshold"`
}

type Config struct {
	MainConfig    `toml:"mainConfig"`
	MysqlConfig   `toml:"mysqlConfig"`
	MilvusConfig  `toml:"milvusConfig"`
	LogConfig     `toml:"logConfig"`
	StorageConfig `toml:"storageConfig"`
	IngestConfig  `toml:"ingestConfig"`
	RAGConfig     `toml:"ragConfig"`
}

var config *Config

func LoadConfig() error {
	configPath := os.Getenv("KNOWBASE_CONFIG")
	if configPath == "" {
		configPath = "configs/config_local.toml"
	}
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		log.Printf("加载配置文件失败: %v, 尝试使用默认设置", err)
		return err
	}
	return nil
}

func GetConfig() *Config {
	if config == nil {
		config = new(Config)
		_ = LoadConfig()
		config.applyDefaults()
	}
	return config
}

func (c *Config) applyDefaults() {
	if c.StorageConfig.UploadDir == "" {
		c.StorageConfig.UploadDir = "uploads"
	}
	if c.StorageConfig.SummaryDir == "" {
		c.StorageConfig.SummaryDir = "uploads/summaries"
	}
	if c.StorageConfig.GraphDir == "" {
		c.StorageConfig.GraphDir = "uploads/graphs"
	}
	if c.StorageConfig.TempDir == "" {
		c.StorageConfig.TempDir = os.TempDir()
	}
	if c.IngestConfig.ChunkSize <= 0 {
		c.IngestConfig.ChunkSize = 1024
	}
	if c.IngestConfig.ChunkOverlap < 0 || c.IngestConfig.ChunkOverlap >= c.IngestConfig.ChunkSize {
		c.IngestConfig.ChunkOverlap = 100
	}
	if c.IngestConfig.CodeChunkLines <= 0 {
		c.IngestConfig.CodeChunkLines = 100
	}
	if c.IngestConfig.CodeChunkOverlap < 0 {
		c.IngestConfig.CodeChunkOverlap = 20
	}
	if c.IngestConfig.CodeMaxChars <= 0 {
		c.IngestConfig.CodeMaxChars = 4000
	}
	if c.IngestConfig.EmbedBatchSize <= 0 {
		// DashScope 向量 API 限制 input 数组大小，保守取 10
		c.IngestConfig.EmbedBatchSize = 10
	}
	if c.RAGConfig.DefaultTopK <= 0 {
		c.RAGConfig.DefaultTopK = 5
	}
	if c.RAGConfig.SummaryTopK <= 0 {
		c.RAGConfig.SummaryTopK = 30
	}
	if c.RAGConfig.SummarySizeThreshold <= 0 {
		c.RAGConfig.SummarySizeThreshold = 100 * 1024
	}
}

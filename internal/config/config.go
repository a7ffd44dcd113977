// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"github.com/multi-agent/go-console-v2/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// Orchestrator 后端
	OrchestratorBaseURL string `env:"ORCHESTRATOR_BASE_URL" default:"http://127.0.0.1:8600"`
	ProtocolMode        string `env:"PROTOCOL_MODE" default:"multi-agent"` // legacy-single-stream | basic-agent | multi-agent
	HTTPTimeoutSec      int    `env:"HTTP_TIMEOUT_SEC" default:"10" min:"1"`
	InjectPriority      string `env:"INJECT_PRIORITY" default:"normal"`

	// PostgreSQL (历史持久化, 可选 — 为空则不落库)
	PostgresConnStr        string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema         string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize    int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize    int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`
	PostgresPoolTimeoutSec int    `env:"POSTGRES_POOL_TIMEOUT_SEC" default:"10" min:"1"`

	// Mock orchestrator (本地开发)
	MockListenAddr    string `env:"MOCK_LISTEN_ADDR" default:":8600"`
	MockChunkDelayMS  int    `env:"MOCK_CHUNK_DELAY_MS" default:"20" min:"0"`
	MockScenario      string `env:"MOCK_SCENARIO" default:"multi_agent_basic"`
	MockWSTapEnabled  bool   `env:"MOCK_WS_TAP_ENABLED" default:"true"`
	MockInjectQueue   int    `env:"MOCK_INJECT_QUEUE" default:"16" min:"1"`
	HistoryPageLimit  int    `env:"HISTORY_PAGE_LIMIT" default:"100" min:"1"`
	TranscriptMaxMsgs int    `env:"TRANSCRIPT_MAX_MSGS" default:"500" min:"1"`

	// 日志
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
	LogDir   string `env:"LOG_DIR" default:".console/logs"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}

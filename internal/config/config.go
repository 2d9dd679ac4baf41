package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	Labeling    LabelingConfig    `yaml:"labeling"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint"`
	Convergence ConvergenceConfig `yaml:"convergence"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// gin 运行模式：debug/release/test
	Mode string `yaml:"mode"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	Charset  string `yaml:"charset"`
}

// Enabled host 为空时不启用数据库（任务记录不可用，同步标注仍可用）
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

type WorkspaceConfig struct {
	// runs_web/ 所在的根目录
	Root string `yaml:"root"`
}

type LabelingConfig struct {
	// 解释器，例如 python3 或虚拟环境里的 python
	Python string `yaml:"python"`
	// 标注脚本路径（作为第一个参数传给解释器）
	Script string `yaml:"script"`
	// 子进程工作目录，为空则继承当前目录
	WorkDir string `yaml:"workdir"`
	// 同时运行的标注进程上限
	MaxConcurrent int `yaml:"max_concurrent"`
	// 0 表示不设超时（QE 可能跑几个小时）
	Timeout time.Duration `yaml:"timeout"`
	// 退出码为 0 后是否再检查输出文件存在且非空
	VerifyOutput *bool `yaml:"verify_output"`
}

type CheckpointConfig struct {
	BestName       string        `yaml:"best_name"`
	Extension      string        `yaml:"extension"`
	DefaultRunName string        `yaml:"default_run_name"`
	WatchDebounce  time.Duration `yaml:"watch_debounce"`
}

// ConvergenceConfig 阈值单位：分歧 meV/Å，能量 meV/atom，力 meV/Å
type ConvergenceConfig struct {
	DisagreementMax      float64 `yaml:"disagreement_max"`
	DisagreementMean     float64 `yaml:"disagreement_mean"`
	MAEEnergy            float64 `yaml:"mae_energy"`
	MAEForce             float64 `yaml:"mae_force"`
	PoolExhaustionCutoff float64 `yaml:"pool_exhaustion_cutoff"`
	CommitteeSize        int     `yaml:"committee_size"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// Default 不读文件时使用的配置（CLI 离线命令、测试）
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Charset == "" {
		c.Database.Charset = "utf8mb4"
	}
	if c.Workspace.Root == "" {
		c.Workspace.Root = "."
	}
	if c.Labeling.Python == "" {
		c.Labeling.Python = "python3"
	}
	if c.Labeling.Script == "" {
		c.Labeling.Script = "label_with_reference.py"
	}
	if c.Labeling.MaxConcurrent <= 0 {
		c.Labeling.MaxConcurrent = 2
	}
	if c.Labeling.VerifyOutput == nil {
		v := true
		c.Labeling.VerifyOutput = &v
	}
	if c.Checkpoint.BestName == "" {
		c.Checkpoint.BestName = "best.pt"
	}
	if c.Checkpoint.Extension == "" {
		c.Checkpoint.Extension = "pt"
	}
	if c.Checkpoint.DefaultRunName == "" {
		c.Checkpoint.DefaultRunName = "c0"
	}
	if c.Checkpoint.WatchDebounce <= 0 {
		c.Checkpoint.WatchDebounce = 500 * time.Millisecond
	}
	cv := &c.Convergence
	if cv.DisagreementMax == 0 {
		cv.DisagreementMax = 10.0
	}
	if cv.DisagreementMean == 0 {
		cv.DisagreementMean = 5.0
	}
	if cv.MAEEnergy == 0 {
		cv.MAEEnergy = 50.0
	}
	if cv.MAEForce == 0 {
		cv.MAEForce = 50.0
	}
	if cv.PoolExhaustionCutoff == 0 {
		cv.PoolExhaustionCutoff = 1.0
	}
	if cv.CommitteeSize <= 0 {
		cv.CommitteeSize = 2
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

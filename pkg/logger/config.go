package logger

import (
	"path/filepath"

	"github.com/rs/zerolog"
)

const (
	DEBUG = "debug"
	INFO  = "info"
	WARN  = "warn"
	ERROR = "error"
	FATAL = "fatal"
)

// 默认日志目录和文件名
const (
	DefaultDir    = "logs"
	infoFileName  = "copy_trader.log"
	errorFileName = "copy_trader.err.log"
)

func setLogLevel(level string) {
	zerolog.SetGlobalLevel(parseLevel(level))
}

// LevelFileEntry 单个级别的日志文件，写入该级别及以上的日志
type LevelFileEntry struct {
	Level string
	Path  string
}

type LevelFiles []LevelFileEntry

func (lf LevelFiles) IsEmpty() bool {
	return len(lf) == 0
}

func (lf LevelFiles) GetPaths() []string {
	paths := make([]string, 0, len(lf))
	for _, entry := range lf {
		paths = append(paths, entry.Path)
	}
	return paths
}

// dirLevelFiles 目录下的 info 和 error 两个文件
func dirLevelFiles(dir string) LevelFiles {
	return LevelFiles{
		{Level: ERROR, Path: filepath.Join(dir, errorFileName)},
		{Level: INFO, Path: filepath.Join(dir, infoFileName)},
	}
}

type Config struct {
	LevelFiles LevelFiles
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // 天
	Level      string
	Compress   bool
	Console    bool // 同时输出到 stdout
}

func DefaultConfig() Config {
	return Config{
		LevelFiles: dirLevelFiles(DefaultDir),
		MaxSize:    10,
		MaxBackups: 100,
		MaxAge:     5,
		Level:      INFO,
	}
}

type Builder struct {
	config Config
}

func NewBuilder() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// SetDir 把日志文件放到指定目录，空字符串保持默认
func (b *Builder) SetDir(dir string) *Builder {
	if dir != "" {
		b.config.LevelFiles = dirLevelFiles(dir)
	}
	return b
}

func (b *Builder) SetMaxSize(size int) *Builder {
	b.config.MaxSize = size
	return b
}

func (b *Builder) SetMaxBackups(backups int) *Builder {
	b.config.MaxBackups = backups
	return b
}

func (b *Builder) SetMaxAge(days int) *Builder {
	b.config.MaxAge = days
	return b
}

func (b *Builder) SetLevel(level string) *Builder {
	b.config.Level = level
	return b
}

func (b *Builder) EnableCompression(enable bool) *Builder {
	b.config.Compress = enable
	return b
}

func (b *Builder) EnableConsoleOutput(enable bool) *Builder {
	b.config.Console = enable
	return b
}

func (b *Builder) SetLevelFiles(files LevelFiles) *Builder {
	b.config.LevelFiles = files
	return b
}

func (b *Builder) Build() error {
	return initLogger(b.config)
}

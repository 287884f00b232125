package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

var TimeFormat = "2006-01-02 15:04:05"

var (
	logMu   sync.Mutex
	writers []*lumberjack.Logger
	stopDay chan struct{}
)

func initLogger(config Config) error {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	setLogLevel(config.Level)

	if config.LevelFiles.IsEmpty() {
		config.LevelFiles = LevelFiles{{Level: INFO, Path: filepath.Join(DefaultDir, infoFileName)}}
	}
	for _, path := range config.LevelFiles.GetPaths() {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
	}

	logMu.Lock()
	defer logMu.Unlock()

	stopRotatorLocked()
	closeWritersLocked()

	var configured levelSet
	for _, entry := range config.LevelFiles {
		configured = configured.with(parseLevel(entry.Level))
	}

	outputs := make([]io.Writer, 0, len(config.LevelFiles)+1)
	for _, entry := range config.LevelFiles {
		lj := &lumberjack.Logger{
			Filename:   entry.Path,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
		writers = append(writers, lj)
		outputs = append(outputs, &levelFilterWriter{
			level:      parseLevel(entry.Level),
			configured: configured,
			Writer:     &zerolog.ConsoleWriter{Out: lj, TimeFormat: TimeFormat, NoColor: true},
		})
	}
	if config.Console {
		outputs = append(outputs, &zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: TimeFormat})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(outputs...)).With().Timestamp().Caller().Logger()

	stopDay = make(chan struct{})
	go rotateDaily(stopDay)
	return nil
}

// levelSet 已配置文件的级别集合
type levelSet uint16

func (s levelSet) with(l zerolog.Level) levelSet {
	if l < 0 {
		return s
	}
	return s | 1<<uint(l)
}

func (s levelSet) has(l zerolog.Level) bool {
	return l >= 0 && s&(1<<uint(l)) != 0
}

// levelFilterWriter 只写本级别。
// info 文件兜底所有没有单独文件的级别，error 文件兜底 fatal。
type levelFilterWriter struct {
	level      zerolog.Level
	configured levelSet
	io.Writer
}

func (w *levelFilterWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	switch {
	case level == w.level:
	case w.level == zerolog.InfoLevel && !w.configured.has(level):
	case w.level == zerolog.ErrorLevel && level == zerolog.FatalLevel && !w.configured.has(level):
	default:
		return len(p), nil
	}
	return w.Writer.Write(p)
}

// parseLevel 忽略大小写，无法识别时按 info
func parseLevel(name string) zerolog.Level {
	switch strings.ToLower(name) {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	case FATAL:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// rotateDaily 每天零点切分所有日志文件
func rotateDaily(stop <-chan struct{}) {
	for {
		now := time.Now()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
		timer := time.NewTimer(midnight.Sub(now))

		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		logMu.Lock()
		for _, lj := range writers {
			if err := lj.Rotate(); err != nil {
				log.Logger.Err(err).Str("file", lj.Filename).Msg("rotate log file failed")
			}
		}
		logMu.Unlock()
		log.Logger.Info().Msg("log files rotated by date")
	}
}

func stopRotatorLocked() {
	if stopDay != nil {
		close(stopDay)
		stopDay = nil
	}
}

func closeWritersLocked() {
	for _, lj := range writers {
		_ = lj.Close()
	}
	writers = nil
}

func Info() *zerolog.Event {
	return log.Logger.Info()
}

func Debug() *zerolog.Event {
	return log.Logger.Debug()
}

func Error() *zerolog.Event {
	return log.Logger.Error()
}

func Warn() *zerolog.Event {
	return log.Logger.Warn()
}

func Fatal() *zerolog.Event {
	return log.Logger.Fatal()
}

func Err(err error) *zerolog.Event {
	return log.Logger.Err(err)
}

// Trace 带 trace_id 的子 logger，串联一笔交易从检测到下单的日志
func Trace(traceID string) zerolog.Logger {
	return log.Logger.With().Str("trace_id", traceID).Logger()
}

// Component 带组件名的子 logger
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

// Close 停止按天切分并关闭日志文件，之后的日志输出到 stderr
func Close() {
	logMu.Lock()
	defer logMu.Unlock()

	stopRotatorLocked()
	closeWritersLocked()
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

package logger

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PrintfLogger 适配只接受 Printf 接口的第三方库（gorm、ants）
type PrintfLogger struct {
	level zerolog.Level
}

// NewPrintfLogger level 取值同配置文件，无法识别时按 info
func NewPrintfLogger(level string) PrintfLogger {
	return PrintfLogger{level: parseLevel(level)}
}

func (l PrintfLogger) Printf(format string, args ...any) {
	logf(log.Logger.WithLevel(l.level), format, args...)
}

// hasFormatVerb 是否包含格式化动词（%% 不算）
func hasFormatVerb(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '%' {
			if i+1 < len(s) && s[i+1] == '%' {
				i++
				continue
			}
			return true
		}
	}
	return false
}

func logf(event *zerolog.Event, format string, args ...any) {
	if event == nil {
		return
	}
	event = event.CallerSkipFrame(2)

	if len(args) == 0 {
		event.Msg(strings.TrimRight(format, "\n"))
		return
	}
	if hasFormatVerb(format) {
		event.Msg(strings.TrimRight(fmt.Sprintf(format, args...), "\n"))
		return
	}

	var b strings.Builder
	b.WriteString(format)
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(fmt.Sprint(a))
	}
	event.Msg(b.String())
}

func Infof(format string, v ...any) {
	logf(log.Logger.Info(), format, v...)
}

func Warnf(format string, v ...any) {
	logf(log.Logger.Warn(), format, v...)
}

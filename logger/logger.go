package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/op/go-logging"
)

var (
	logger    *logging.Logger
	logBuffer []struct {
		time  time.Time
		level logging.Level
		log   string
	}
)

const bufferSize = 10240

func InitLogger(level logging.Level) {
	newLogger := logging.MustGetLogger("wgo-ui")
	var err error
	var backend logging.Backend
	var format logging.Formatter

	backend = logging.NewLogBackend(os.Stderr, "", 0)
	format = logging.MustStringFormatter(`%{time:2006/01/02 15:04:05} %{level} - %{message}`)
	backendFormatter := logging.NewBackendFormatter(backend, format)
	backendLeveled := logging.AddModuleLevel(backendFormatter)
	backendLeveled.SetLevel(level, "wgo-ui")
	newLogger.SetBackend(backendLeveled)
	if err != nil {
		fmt.Println("init logger error: ", err)
		os.Exit(-1)
	}

	logger = newLogger
}

func Debug(args ...interface{}) {
	logger.Debug(args...)
	addToBuffer("DEBUG", fmt.Sprint(args...))
}

func Debugf(format string, args ...interface{}) {
	logger.Debugf(format, args...)
	addToBuffer("DEBUG", fmt.Sprintf(format, args...))
}

func Info(args ...interface{}) {
	logger.Info(args...)
	addToBuffer("INFO", fmt.Sprint(args...))
}

func Infof(format string, args ...interface{}) {
	logger.Infof(format, args...)
	addToBuffer("INFO", fmt.Sprintf(format, args...))
}

func Warning(args ...interface{}) {
	logger.Warning(args...)
	addToBuffer("WARNING", fmt.Sprint(args...))
}

func Warningf(format string, args ...interface{}) {
	logger.Warningf(format, args...)
	addToBuffer("WARNING", fmt.Sprintf(format, args...))
}

func Error(args ...interface{}) {
	logger.Error(args...)
	addToBuffer("ERROR", fmt.Sprint(args...))
}

func Errorf(format string, args ...interface{}) {
	logger.Errorf(format, args...)
	addToBuffer("ERROR", fmt.Sprintf(format, args...))
}

func addToBuffer(level string, newLog string) {
	t := time.Now()
	if len(logBuffer) >= bufferSize {
		logBuffer = logBuffer[1:]
	}

	logLevel, _ := logging.LogLevel(level)
	logBuffer = append(logBuffer, struct {
		time  time.Time
		level logging.Level
		log   string
	}{
		time:  t,
		level: logLevel,
		log:   newLog,
	})
}

// GetLogs returns the most recent panel log lines at or above the given
// level, oldest first.
func GetLogs(c int, level string) []string {
	var output []string
	logLevel, err := logging.LogLevel(level)
	if err != nil {
		logLevel = logging.DEBUG
	}

	for i := len(logBuffer) - 1; i >= 0 && len(output) < c; i-- {
		if logBuffer[i].level <= logLevel {
			output = append(output, fmt.Sprintf("%s %s - %s",
				logBuffer[i].time.Format("2006/01/02 15:04:05"),
				logBuffer[i].level.String(), logBuffer[i].log))
		}
	}

	for i, j := 0, len(output)-1; i < j; i, j = i+1, j-1 {
		output[i], output[j] = output[j], output[i]
	}
	return output
}

type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	Debug(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// Writer adapts the logger to an io.Writer for libraries that expect
// one.
func Writer() io.Writer {
	return logWriter{}
}

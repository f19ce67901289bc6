package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Log *logrus.Logger

var fileWriter *lumberjack.Logger

// DefaultBufferSize 内存缓冲区保留的日志条数
const DefaultBufferSize = 1000

// MemoryHook 内存日志钩子
type MemoryHook struct {
	buffer *LogBuffer
}

// Levels 返回支持的日志级别
func (hook *MemoryHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire 当日志触发时调用
func (hook *MemoryHook) Fire(entry *logrus.Entry) error {
	if hook.buffer != nil {
		hook.buffer.AddLog(entry.Level.String(), entry.Message)
	}
	return nil
}

// Init 初始化日志系统（控制台 + 内存缓冲，logPath 非空时同时写入按天清理的日志文件）
func Init(level, logPath string, maxDays int) error {
	Log = newLogger(level)

	var out io.Writer = os.Stdout
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return err
		}
		fileWriter = &lumberjack.Logger{
			Filename:  logPath,
			MaxSize:   50, // MB
			MaxAge:    maxDays,
			LocalTime: true,
			Compress:  false,
		}
		out = io.MultiWriter(os.Stdout, fileWriter)
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			DisableColors:   true,
		})
	}
	Log.SetOutput(out)

	// 初始化内存缓冲区（保留最近1000条日志）
	InitBuffer(DefaultBufferSize)

	// 添加内存钩子
	Log.AddHook(&MemoryHook{buffer: GetBuffer()})

	return nil
}

// InitConsoleOnly 初始化日志系统（仅控制台输出）
func InitConsoleOnly(level string) {
	Log = newLogger(level)
	Log.SetOutput(os.Stdout)
}

// Close 关闭日志文件
func Close() error {
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	return err
}

func newLogger(level string) *logrus.Logger {
	l := logrus.New()

	// 设置日志级别
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	l.SetLevel(logLevel)

	// 设置日志格式
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     true,
	})
	return l
}

// Debug 调试日志
func Debug(args ...interface{}) {
	if Log != nil {
		Log.Debug(args...)
	}
}

// Debugf 格式化调试日志
func Debugf(format string, args ...interface{}) {
	if Log != nil {
		Log.Debugf(format, args...)
	}
}

// Info 信息日志
func Info(args ...interface{}) {
	if Log != nil {
		Log.Info(args...)
	}
}

// Infof 格式化信息日志
func Infof(format string, args ...interface{}) {
	if Log != nil {
		Log.Infof(format, args...)
	}
}

// Warn 警告日志
func Warn(args ...interface{}) {
	if Log != nil {
		Log.Warn(args...)
	}
}

// Warnf 格式化警告日志
func Warnf(format string, args ...interface{}) {
	if Log != nil {
		Log.Warnf(format, args...)
	}
}

// Error 错误日志
func Error(args ...interface{}) {
	if Log != nil {
		Log.Error(args...)
	}
}

// Errorf 格式化错误日志
func Errorf(format string, args ...interface{}) {
	if Log != nil {
		Log.Errorf(format, args...)
	}
}

// Fatalf 格式化致命错误日志
func Fatalf(format string, args ...interface{}) {
	if Log != nil {
		Log.Fatalf(format, args...)
	}
	os.Exit(1)
}

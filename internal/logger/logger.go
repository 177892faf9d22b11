package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 降级信号类型，用于监控静默降级
const (
	SignalFingerprintAmbiguous        = "FingerprintAmbiguous"
	SignalClassifierContractViolation = "ClassifierContractViolation"
	SignalChunkOverflow               = "ChunkOverflow"
	SignalDeliveryFailure             = "DeliveryFailure"
)

type Logger struct {
	*logrus.Logger
	fileLogger *logrus.Logger

	mu      sync.Mutex
	signals map[string]int
}

var defaultLogger *Logger

func init() {
	// 控制台日志配置
	consoleLogger := logrus.New()
	consoleLogger.SetFormatter(&logrus.TextFormatter{
		ForceColors:   true,
		FullTimestamp: true,
	})
	consoleLogger.SetOutput(os.Stdout)
	consoleLogger.SetLevel(logrus.DebugLevel)

	// 文件日志配置
	fileLogger := logrus.New()
	fileLogger.SetFormatter(&logrus.JSONFormatter{
		PrettyPrint:     false,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	fileLogger.SetLevel(logrus.InfoLevel)

	logDir := "logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		consoleLogger.Errorf("无法创建日志目录: %v", err)
	}

	// 使用lumberjack进行日志轮转
	fileLogger.SetOutput(&lumberjack.Logger{
		Filename:   filepath.Join(logDir, "news-digest.log"),
		MaxSize:    10,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
	})

	defaultLogger = &Logger{
		Logger:     consoleLogger,
		fileLogger: fileLogger,
		signals:    make(map[string]int),
	}
}

func Infof(format string, args ...any) {
	defaultLogger.Logger.Infof(format, args...)
	defaultLogger.fileLogger.Infof(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Logger.Warnf(format, args...)
	defaultLogger.fileLogger.Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	defaultLogger.Logger.Errorf(format, args...)
	defaultLogger.fileLogger.Errorf(format, args...)
}

func Fatalf(format string, args ...any) {
	defaultLogger.fileLogger.Errorf(format, args...)
	defaultLogger.Logger.Fatalf(format, args...)
}

func Debugf(format string, args ...any) {
	defaultLogger.Logger.Debugf(format, args...)
	defaultLogger.fileLogger.Debugf(format, args...)
}

// Signal 记录一条降级警告并累加对应类型的计数
// 文件日志中携带 signal 字段，便于下游监控按类型聚合
func Signal(kind string, format string, args ...any) {
	defaultLogger.mu.Lock()
	defaultLogger.signals[kind]++
	defaultLogger.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	defaultLogger.Logger.WithField("signal", kind).Warn(msg)
	defaultLogger.fileLogger.WithField("signal", kind).Warn(msg)
}

// Signals 返回当前各类信号计数的快照
func Signals() map[string]int {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()

	snapshot := make(map[string]int, len(defaultLogger.signals))
	for k, v := range defaultLogger.signals {
		snapshot[k] = v
	}
	return snapshot
}

// SignalsSince 返回相对于 base 快照新增的信号计数，用于单次运行的统计
func SignalsSince(base map[string]int) map[string]int {
	current := Signals()
	delta := make(map[string]int)
	for k, v := range current {
		if d := v - base[k]; d > 0 {
			delta[k] = d
		}
	}
	return delta
}

// FormatSignals 将信号计数格式化为稳定顺序的字符串
func FormatSignals(signals map[string]int) string {
	if len(signals) == 0 {
		return "无"
	}
	kinds := make([]string, 0, len(signals))
	for k := range signals {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	out := ""
	for i, k := range kinds {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s=%d", k, signals[k])
	}
	return out
}

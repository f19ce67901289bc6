package logger

import (
	"container/ring"
	"sync"
	"time"
)

// LogEntry 日志条目
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// LogBuffer 内存日志缓冲区
type LogBuffer struct {
	buffer *ring.Ring
	mu     sync.RWMutex
	size   int
}

var globalBuffer *LogBuffer

// NewBuffer 创建日志缓冲区
func NewBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &LogBuffer{
		buffer: ring.New(size),
		size:   size,
	}
}

// InitBuffer 初始化全局日志缓冲区
func InitBuffer(size int) {
	globalBuffer = NewBuffer(size)
}

// AddLog 添加日志到缓冲区
func (lb *LogBuffer) AddLog(level, message string) {
	if lb == nil {
		return
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.buffer.Value = LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	}
	lb.buffer = lb.buffer.Next()
}

// GetLogs 获取最近的N条日志（按时间先后排列）
func (lb *LogBuffer) GetLogs(n int) []LogEntry {
	if lb == nil {
		return []LogEntry{}
	}

	lb.mu.RLock()
	defer lb.mu.RUnlock()

	// 当前位置是最旧的一条
	logs := make([]LogEntry, 0, lb.size)
	lb.buffer.Do(func(v interface{}) {
		if v != nil {
			logs = append(logs, v.(LogEntry))
		}
	})

	if n > 0 && len(logs) > n {
		logs = logs[len(logs)-n:]
	}
	return logs
}

// Clear 清空日志缓冲区
func (lb *LogBuffer) Clear() {
	if lb == nil {
		return
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.buffer = ring.New(lb.size)
}

// GetBuffer 获取全局缓冲区
func GetBuffer() *LogBuffer {
	return globalBuffer
}

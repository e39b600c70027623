package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// Store 翻译记忆
type Store interface {
	// Get 查找译文
	Get(target, text string) (string, bool)

	// Put 记录译文
	Put(target, text, translation string)

	// Save 持久化，内存实现为空操作
	Save() error

	// Stats 命中统计
	Stats() Stats
}

// Stats 缓存统计信息
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int64 `json:"size"`
}

// Entry 缓存条目
type Entry struct {
	Source      string    `json:"source"`
	Translation string    `json:"translation"`
	Timestamp   time.Time `json:"timestamp"`
}

// Key 计算缓存键，文本先做 NFC 规范化
func Key(target, text string) string {
	sum := sha256.Sum256([]byte(norm.NFC.String(target + "\x00" + text)))
	return hex.EncodeToString(sum[:])
}

// Memory 内存缓存
type Memory struct {
	mu     sync.RWMutex
	data   map[string]Entry
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemory 创建内存缓存
func NewMemory() *Memory {
	return &Memory{data: make(map[string]Entry)}
}

// Get 查找译文
func (c *Memory) Get(target, text string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.data[Key(target, text)]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return "", false
	}
	c.hits.Add(1)
	return entry.Translation, true
}

// Put 记录译文
func (c *Memory) Put(target, text, translation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[Key(target, text)] = Entry{Source: text, Translation: translation, Timestamp: time.Now()}
}

// Save 内存缓存无需保存
func (c *Memory) Save() error {
	return nil
}

// Stats 获取缓存统计信息
func (c *Memory) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: int64(len(c.data))}
}

// File 以单个 JSON 文件持久化的缓存
type File struct {
	*Memory
	path   string
	logger *zap.Logger
	saveMu sync.Mutex
}

// Open 打开缓存文件，文件不存在时创建空缓存
func Open(path string, logger *zap.Logger) (*File, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &File{Memory: NewMemory(), path: path, logger: logger}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	if err := json.Unmarshal(data, &c.data); err != nil {
		// 损坏的缓存不影响翻译，从空缓存开始
		logger.Warn("ignoring corrupt cache file", zap.String("path", path), zap.Error(err))
		c.data = make(map[string]Entry)
	}

	logger.Debug("cache loaded", zap.String("path", path), zap.Int("entries", len(c.data)))
	return c, nil
}

// Path 缓存文件路径
func (c *File) Path() string {
	return c.path
}

// Save 先写临时文件再重命名
func (c *File) Save() error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.RLock()
	data, err := json.MarshalIndent(c.data, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.path)
}

// PathFor 返回书籍对应的缓存文件路径
func PathFor(dir, book string) string {
	name := strings.TrimSuffix(filepath.Base(book), filepath.Ext(book))
	sum := sha256.Sum256([]byte(book))
	return filepath.Join(dir, fmt.Sprintf("%s-%s.json", name, hex.EncodeToString(sum[:4])))
}

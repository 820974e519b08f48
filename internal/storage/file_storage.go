// internal/storage/file_storage.go
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound 键不存在
var ErrNotFound = errors.New("存储项不存在")

// StateStore 持久化 JSON 结构（对话历史、角色分配）
type StateStore interface {
	// Load 读取 key 并解析到 v；不存在时返回 ErrNotFound
	Load(key string, v interface{}) error
	// Save 原子地写入 key
	Save(key string, v interface{}) error
	Close() error
}

// FileStorage 以 {BaseDir}/{key}.json 保存状态
type FileStorage struct {
	BaseDir string

	// 文件级别锁 path -> *sync.RWMutex
	fileLocks sync.Map
}

// NewFileStorage 创建文件存储服务
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}
	return &FileStorage{BaseDir: baseDir}, nil
}

func (fs *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

func (fs *FileStorage) pathFor(key string) (string, error) {
	clean := filepath.Clean(key)
	if key == "" || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("非法的存储键: %q", key)
	}
	return filepath.Join(fs.BaseDir, clean+".json"), nil
}

// SaveTextFile 原子地写入文件（临时文件 + rename）
func (fs *FileStorage) SaveTextFile(fullPath string, content []byte) error {
	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("保存临时文件失败: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("保存文件失败: %w", err)
	}
	return nil
}

// LoadTextFile 读取文件
func (fs *FileStorage) LoadTextFile(fullPath string) ([]byte, error) {
	lock := fs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	content, err := os.ReadFile(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	return content, nil
}

// Save 保存 JSON
func (fs *FileStorage) Save(key string, v interface{}) error {
	fullPath, err := fs.pathFor(key)
	if err != nil {
		return err
	}

	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}
	return fs.SaveTextFile(fullPath, content)
}

// Load 读取并解析 JSON
func (fs *FileStorage) Load(key string, v interface{}) error {
	fullPath, err := fs.pathFor(key)
	if err != nil {
		return err
	}

	content, err := fs.LoadTextFile(fullPath)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(content, v); err != nil {
		return fmt.Errorf("解析JSON失败: %w", err)
	}
	return nil
}

// Exists 检查键是否存在
func (fs *FileStorage) Exists(key string) bool {
	fullPath, err := fs.pathFor(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(fullPath)
	return err == nil
}

// Close 文件存储无需释放资源
func (fs *FileStorage) Close() error {
	return nil
}

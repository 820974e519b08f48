// internal/storage/archive.go
package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/Corphon/SceneRelay/internal/models"
)

const (
	archiveDateLayout = "2006-01-02"
	archiveExt        = ".jsonl"
	compactedExt      = ".jsonl.gz"
)

// ArchiveFile 归档目录中的一个文件
type ArchiveFile struct {
	Name      string
	UserID    string
	Date      string
	Size      int64
	Compacted bool
}

// Archive 按用户、按天追加写入交互记录
type Archive struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewArchive 创建归档
func NewArchive(dir string) *Archive {
	return &Archive{dir: dir, now: time.Now}
}

// Dir 归档目录
func (a *Archive) Dir() string { return a.dir }

func (a *Archive) fileFor(userID string, day time.Time) string {
	return filepath.Join(a.dir, fmt.Sprintf("%s_%s%s", userID, day.Format(archiveDateLayout), archiveExt))
}

// Append 追加一条记录到 {user}_{YYYY-MM-DD}.jsonl
func (a *Archive) Append(rec models.InteractionRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = a.now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("序列化归档记录失败: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return fmt.Errorf("创建归档目录失败: %w", err)
	}

	f, err := os.OpenFile(a.fileFor(rec.UserID, rec.Timestamp), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("打开归档文件失败: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("写入归档失败: %w", err)
	}
	return nil
}

// parseName 拆分 "{user}_{date}.jsonl[.gz]"
func parseName(name string) (ArchiveFile, bool) {
	file := ArchiveFile{Name: name}
	base := name
	switch {
	case strings.HasSuffix(name, compactedExt):
		base = strings.TrimSuffix(name, compactedExt)
		file.Compacted = true
	case strings.HasSuffix(name, archiveExt):
		base = strings.TrimSuffix(name, archiveExt)
	default:
		return file, false
	}

	idx := strings.LastIndex(base, "_")
	if idx <= 0 {
		return file, false
	}
	if _, err := time.Parse(archiveDateLayout, base[idx+1:]); err != nil {
		return file, false
	}
	file.UserID = base[:idx]
	file.Date = base[idx+1:]
	return file, true
}

// List 列出归档文件，按名称排序
func (a *Archive) List() ([]ArchiveFile, error) {
	entries, err := os.ReadDir(a.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取归档目录失败: %w", err)
	}

	var files []ArchiveFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		file, ok := parseName(e.Name())
		if !ok {
			continue
		}
		if info, err := e.Info(); err == nil {
			file.Size = info.Size()
		}
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Read 读取某个归档文件中的全部记录（支持已压缩文件）
func (a *Archive) Read(name string) ([]models.InteractionRecord, error) {
	f, err := os.Open(filepath.Join(a.dir, filepath.Base(name)))
	if err != nil {
		return nil, fmt.Errorf("打开归档文件失败: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(name, compactedExt) {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("解压归档失败: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	var records []models.InteractionRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec models.InteractionRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("解析归档记录失败: %w", err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

// Compact 把今天之前的 .jsonl 压缩为 .jsonl.gz，返回处理的文件数
func (a *Archive) Compact() (int, error) {
	files, err := a.List()
	if err != nil {
		return 0, err
	}

	today := a.now().Format(archiveDateLayout)
	compacted := 0
	for _, file := range files {
		if file.Compacted || file.Date >= today {
			continue
		}
		if err := a.compactFile(file.Name); err != nil {
			return compacted, err
		}
		compacted++
	}
	return compacted, nil
}

func (a *Archive) compactFile(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	src := filepath.Join(a.dir, name)
	dst := strings.TrimSuffix(src, archiveExt) + compactedExt

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("打开归档文件失败: %w", err)
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("创建压缩文件失败: %w", err)
	}

	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("压缩归档失败: %w", err)
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("压缩归档失败: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("保存压缩文件失败: %w", err)
	}
	return os.Remove(src)
}

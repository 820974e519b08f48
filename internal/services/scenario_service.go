// internal/services/scenario_service.go
package services

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	apperrors "github.com/Corphon/SceneRelay/internal/errors"
	"github.com/Corphon/SceneRelay/internal/models"
	"github.com/Corphon/SceneRelay/internal/utils"
)

//go:embed scenario_schema.json
var scenarioSchema string

const (
	scenarioCacheSize = 64
	defaultWorldName  = "Неизвестный мир"
	defaultWorldEmoji = "🌍"
)

var scenarioExts = map[string]bool{".json": true, ".yaml": true, ".yml": true}

// ScenarioService 读取、校验并缓存场景文件
type ScenarioService struct {
	dir    string
	cache  *lru.Cache[string, *models.ScenarioDefinition]
	group  singleflight.Group
	schema gojsonschema.JSONLoader
	logger *utils.Logger

	// generation 每次失效加一；读取期间发生失效的结果不进缓存
	generation atomic.Uint64
	readFile   func(name string) ([]byte, error)

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewScenarioService 创建场景服务
func NewScenarioService(dir string) (*ScenarioService, error) {
	cache, err := lru.New[string, *models.ScenarioDefinition](scenarioCacheSize)
	if err != nil {
		return nil, fmt.Errorf("创建场景缓存失败: %w", err)
	}
	return &ScenarioService{
		dir:      dir,
		cache:    cache,
		schema:   gojsonschema.NewStringLoader(scenarioSchema),
		logger:   utils.GetLogger(),
		readFile: os.ReadFile,
	}, nil
}

// Dir 场景目录
func (s *ScenarioService) Dir() string { return s.dir }

func validScenarioID(id string) bool {
	return id != "" && filepath.Base(id) == id && scenarioExts[strings.ToLower(filepath.Ext(id))]
}

// Load 按文件名加载场景；不存在返回 NotFound，格式错误返回 Validation
func (s *ScenarioService) Load(id string) (*models.ScenarioDefinition, error) {
	if !validScenarioID(id) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("❗ Сценарий *%s* не найден.", id), nil)
	}
	if def, ok := s.cache.Get(id); ok {
		return def, nil
	}

	v, err, _ := s.group.Do(id, func() (interface{}, error) {
		gen := s.generation.Load()
		def, err := s.read(id)
		if err != nil {
			return nil, err
		}
		if s.generation.Load() == gen {
			s.cache.Add(id, def)
		}
		return def, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.ScenarioDefinition), nil
}

func (s *ScenarioService) read(id string) (*models.ScenarioDefinition, error) {
	data, err := s.readFile(filepath.Join(s.dir, id))
	if os.IsNotExist(err) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("❗ Сценарий *%s* не найден.", id), err)
	}
	if err == nil {
		var def *models.ScenarioDefinition
		if def, err = ParseScenario(id, data, s.schema); err == nil {
			return def, nil
		}
	}
	return nil, apperrors.WrapError(err, fmt.Sprintf("❗ Ошибка загрузки сценария: %v", err), apperrors.ErrorTypeValidation)
}

// ParseScenario 解析 JSON 或 YAML 场景并按模式校验
func ParseScenario(id string, data []byte, schema gojsonschema.JSONLoader) (*models.ScenarioDefinition, error) {
	ext := strings.ToLower(filepath.Ext(id))
	if ext == ".yaml" || ext == ".yml" {
		var raw interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("YAML: %w", err)
		}
		converted, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("YAML: %w", err)
		}
		data = converted
	}

	if schema == nil {
		schema = gojsonschema.NewStringLoader(scenarioSchema)
	}
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%s", strings.Join(msgs, "; "))
	}

	var def models.ScenarioDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	def.ID = id
	if def.World.Name == "" {
		def.World.Name = defaultWorldName
	}
	return &def, nil
}

// List 列出目录中的有效场景，无效文件记录警告后跳过
func (s *ScenarioService) List() ([]models.ScenarioSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("读取场景目录失败: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && validScenarioID(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	summaries := make([]models.ScenarioSummary, 0, len(names))
	for _, name := range names {
		def, err := s.Load(name)
		if err != nil {
			s.logger.Warn("scenario skipped", map[string]interface{}{"file": name, "error": err.Error()})
			continue
		}
		emoji := def.World.Emoji
		if emoji == "" {
			emoji = defaultWorldEmoji
		}
		summaries = append(summaries, models.ScenarioSummary{
			ID:          name,
			Name:        def.World.Name,
			Emoji:       emoji,
			Description: def.World.Description,
			Characters:  len(def.Characters),
		})
	}
	return summaries, nil
}

// Invalidate 丢弃某个场景的缓存
func (s *ScenarioService) Invalidate(id string) {
	s.generation.Add(1)
	s.group.Forget(id)
	s.cache.Remove(id)
}

// Watch 监听场景目录，文件变化时使缓存失效，直到 ctx 结束
func (s *ScenarioService) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听失败: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("监听场景目录失败: %w", err)
	}

	s.watchMu.Lock()
	s.watcher = watcher
	s.watchMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
					event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					id := filepath.Base(event.Name)
					s.Invalidate(id)
					s.logger.Debug("scenario cache invalidated", map[string]interface{}{"file": id})
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("scenario watcher error", map[string]interface{}{"error": err.Error()})
			}
		}
	}()
	return nil
}

// Close 停止监听
func (s *ScenarioService) Close() error {
	s.watchMu.Lock()
	watcher := s.watcher
	s.watcher = nil
	s.watchMu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	s.wg.Wait()
	return err
}

// internal/services/role_service.go
package services

import (
	"sync"

	"github.com/Corphon/SceneRelay/internal/models"
)

// RoleService 保存每个用户的场景、角色、服务与翻译选择
//
// 与 history.Store 一样，同一用户的读改写由调用方持有用户锁。
type RoleService struct {
	mu    sync.Mutex
	roles map[string]models.RoleAssignment
	dirty bool
}

// NewRoleService 创建空的角色服务
func NewRoleService() *RoleService {
	return &RoleService{roles: make(map[string]models.RoleAssignment)}
}

// Get 返回用户的选择；ok 为 false 表示用户从未选择过
func (s *RoleService) Get(userID string) (models.RoleAssignment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ra, ok := s.roles[userID]
	return ra, ok
}

// Set 覆盖用户的选择
func (s *RoleService) Set(userID string, ra models.RoleAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = ra
	s.dirty = true
}

// Update 在现有选择上修改
func (s *RoleService) Update(userID string, fn func(*models.RoleAssignment)) models.RoleAssignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	ra := s.roles[userID]
	fn(&ra)
	s.roles[userID] = ra
	s.dirty = true
	return ra
}

// Checkpoint 取快照并清除脏标记；无变化时 ok 为 false
func (s *RoleService) Checkpoint() (map[string]models.RoleAssignment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil, false
	}
	s.dirty = false
	return s.snapshotLocked(), true
}

// MarkDirty 写入失败后重新标记
func (s *RoleService) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
}

// Snapshot 复制全部选择
func (s *RoleService) Snapshot() map[string]models.RoleAssignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *RoleService) snapshotLocked() map[string]models.RoleAssignment {
	out := make(map[string]models.RoleAssignment, len(s.roles))
	for k, v := range s.roles {
		out[k] = v
	}
	return out
}

// Load 用持久化的数据替换内存内容
func (s *RoleService) Load(roles map[string]models.RoleAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles = make(map[string]models.RoleAssignment, len(roles))
	for k, v := range roles {
		s.roles[k] = v
	}
	s.dirty = false
}

// Count 已记录的用户数
func (s *RoleService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.roles)
}

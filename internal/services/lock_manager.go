// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager 按用户分配互斥锁
//
// 锁在首次使用时创建，保留到进程结束。
type LockManager struct {
	userLocks  map[string]*LockInfo
	globalLock sync.RWMutex
}

// LockInfo 包装锁和相关信息
type LockInfo struct {
	Mutex    *sync.Mutex
	LastUsed time.Time
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	return &LockManager{userLocks: make(map[string]*LockInfo)}
}

// GetUserLock 获取用户锁（线程安全）
func (lm *LockManager) GetUserLock(userID string) *sync.Mutex {
	lm.globalLock.RLock()
	if lockInfo, exists := lm.userLocks[userID]; exists {
		lm.globalLock.RUnlock()
		return lockInfo.Mutex
	}
	lm.globalLock.RUnlock()

	// 升级为写锁
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	// 双重检查
	if lockInfo, exists := lm.userLocks[userID]; exists {
		return lockInfo.Mutex
	}

	lockInfo := &LockInfo{Mutex: &sync.Mutex{}, LastUsed: time.Now()}
	lm.userLocks[userID] = lockInfo
	return lockInfo.Mutex
}

// ExecuteWithUserLock 在用户锁保护下执行操作
func (lm *LockManager) ExecuteWithUserLock(userID string, fn func() error) error {
	lock := lm.GetUserLock(userID)
	lock.Lock()
	defer lock.Unlock()

	lm.globalLock.Lock()
	if lockInfo, exists := lm.userLocks[userID]; exists {
		lockInfo.LastUsed = time.Now()
	}
	lm.globalLock.Unlock()

	return fn()
}

// Count 已创建的锁数量
func (lm *LockManager) Count() int {
	lm.globalLock.RLock()
	defer lm.globalLock.RUnlock()
	return len(lm.userLocks)
}

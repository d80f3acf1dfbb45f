package domain

import "time"

// Audit 所有持久化实体共享的审计字段
type Audit struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
	IsDeleted bool
}

// Stamp 写入创建/更新时间
func (a *Audit) Stamp(now time.Time) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
}

// SoftDelete 软删除，重复调用保持首次删除时间
func (a *Audit) SoftDelete(now time.Time) {
	if a.IsDeleted {
		return
	}
	a.IsDeleted = true
	a.DeletedAt = &now
	a.UpdatedAt = now
}

// internal/api/recorder.go
package api

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/Corphon/SceneRelay/internal/models"
	"github.com/Corphon/SceneRelay/internal/services"
)

// Outbound 一条发给用户的消息
type Outbound struct {
	Ref     models.MessageRef `json:"ref"`
	Text    string            `json:"text"`
	Buttons []services.Button `json:"buttons,omitempty"`
}

// Replies 一次 HTTP 请求产生的消息；Deleted 包含之前请求中发出的消息
type Replies struct {
	Messages []Outbound          `json:"messages"`
	Deleted  []models.MessageRef `json:"deleted,omitempty"`
}

// Recorder 收集一次请求内的回复，随 JSON 响应返回
type Recorder struct {
	mu      sync.Mutex
	replies Replies
}

// NewRecorder 创建空的收集器
func NewRecorder() *Recorder {
	return &Recorder{replies: Replies{Messages: []Outbound{}}}
}

// SendText 记录一条消息
func (r *Recorder) SendText(_ context.Context, _ string, text string, buttons []services.Button) (models.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref := models.MessageRef(uuid.NewString())
	r.replies.Messages = append(r.replies.Messages, Outbound{Ref: ref, Text: text, Buttons: buttons})
	return ref, nil
}

// DeleteMessage 本次请求内的消息直接移除，其他的作为删除事件返回
func (r *Recorder) DeleteMessage(_ context.Context, _ string, ref models.MessageRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, m := range r.replies.Messages {
		if m.Ref == ref {
			r.replies.Messages = append(r.replies.Messages[:i], r.replies.Messages[i+1:]...)
			return nil
		}
	}
	r.replies.Deleted = append(r.replies.Deleted, ref)
	return nil
}

// Replies 返回收集结果
func (r *Recorder) Replies() Replies {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := Replies{
		Messages: append([]Outbound{}, r.replies.Messages...),
		Deleted:  append([]models.MessageRef(nil), r.replies.Deleted...),
	}
	return out
}

// internal/models/role.go
package models

// RoleAssignment 用户当前选择的场景、角色、服务与翻译开关
type RoleAssignment struct {
	CharacterKey       string `json:"role,omitempty"`
	ScenarioID         string `json:"scenario,omitempty"`
	TranslationEnabled bool   `json:"use_translation"`
	ServiceKey         string `json:"service,omitempty"`
}

// Lang 模型工作语言的展示值
func (r RoleAssignment) Lang() string {
	if r.TranslationEnabled {
		return "EN"
	}
	return "RU"
}

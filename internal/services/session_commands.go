// internal/services/session_commands.go
package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rivo/uniseg"

	apperrors "github.com/Corphon/SceneRelay/internal/errors"
	"github.com/Corphon/SceneRelay/internal/models"
	"github.com/Corphon/SceneRelay/internal/prompt"
)

// MaxMessageLength 单条消息的字符上限
const MaxMessageLength = 4096

// ServicePrompt 服务列表标题
const ServicePrompt = "🧠 Выбери думатель, который хочешь использовать:"

const msgNoScenarios = "📭 Сценарии не найдены."

// ShowScenarios 发送场景选择菜单
func (s *SessionService) ShowScenarios(ctx context.Context, out Messenger, u Update) error {
	list, err := s.scenarios.List()
	if err != nil || len(list) == 0 {
		err = apperrors.NewNotFoundError(msgNoScenarios, err)
	}
	s.metrics.RecordSessionOp("scenarios", err)
	if err != nil {
		return s.fail(ctx, out, u, err)
	}

	buttons := make([]Button, 0, len(list))
	for _, scn := range list {
		buttons = append(buttons, Button{Text: scn.Emoji + " " + scn.Name, Data: CallbackScenario + scn.ID})
	}
	s.send(ctx, out, u, "🎮 Выбери сценарий:", buttons)
	return nil
}

// ShowRoles 发送当前场景的角色菜单
func (s *SessionService) ShowRoles(ctx context.Context, out Messenger, u Update) error {
	def, err := s.CurrentScenario(u.UserID)
	s.metrics.RecordSessionOp("roles", err)
	if err != nil {
		return s.fail(ctx, out, u, err)
	}

	buttons := make([]Button, 0, len(def.Characters))
	for _, key := range def.CharacterKeys() {
		c := def.Characters[key]
		buttons = append(buttons, Button{Text: c.DisplayEmoji() + " " + c.Name, Data: CallbackRole + key})
	}
	s.send(ctx, out, u, "🎭 Выбери персонажа:", buttons)
	return nil
}

// ShowServices 发送服务菜单，当前服务带 ✅
func (s *SessionService) ShowServices(ctx context.Context, out Messenger, u Update) error {
	list := s.ListServices(u.UserID)
	s.metrics.RecordSessionOp("services", nil)

	buttons := make([]Button, 0, len(list))
	for _, svc := range list {
		buttons = append(buttons, Button{Text: svc.String(), Data: CallbackService + svc.Key})
	}
	s.send(ctx, out, u, ServicePrompt, buttons)
	return nil
}

// CurrentScenario 用户当前选择的场景
func (s *SessionService) CurrentScenario(userID string) (*models.ScenarioDefinition, error) {
	ra, ok := s.roles.Get(userID)
	if !ok || ra.ScenarioID == "" {
		return nil, apperrors.NewInvalidStateError(msgNoScenario, nil)
	}
	return s.scenarios.Load(ra.ScenarioID)
}

// SelectScenario 切换场景；保留翻译与服务选择，角色需重新选择
func (s *SessionService) SelectScenario(ctx context.Context, out Messenger, u Update, scenarioID string) error {
	return s.withUser("select_scenario", u, func() error {
		def, err := s.scenarios.Load(scenarioID)
		if err != nil {
			s.send(ctx, out, u, fmt.Sprintf("⚠️ Ошибка при загрузке сценария: %s",
				apperrors.UserMessage(err, err.Error())), nil)
			return err
		}

		prev, _ := s.roles.Get(u.UserID)
		s.roles.Set(u.UserID, models.RoleAssignment{
			ScenarioID:         scenarioID,
			TranslationEnabled: prev.TranslationEnabled,
			ServiceKey:         prev.ServiceKey,
		})

		st := s.conversations.Get(u.UserID, scenarioID)
		s.conversations.SetLastBotRef(u.UserID, scenarioID, "")

		s.send(ctx, out, u, scenarioIntro(def), nil)

		if intro := strings.TrimSpace(def.World.IntroScene); len(st.History) == 0 && intro != "" {
			line := models.NarratorLine(intro)
			s.conversations.Append(u.UserID, scenarioID, line)
			s.send(ctx, out, u, def.FormatLine(line), nil)
		} else {
			for _, line := range st.Tail(2) {
				s.send(ctx, out, u, def.FormatLine(line), nil)
			}
		}

		s.Flush()
		s.logger.Info("scenario selected", map[string]interface{}{"user_id": u.UserID, "scenario": scenarioID})
		return nil
	})
}

func scenarioIntro(def *models.ScenarioDefinition) string {
	roles := make([]string, 0, len(def.Characters))
	for _, key := range def.CharacterKeys() {
		c := def.Characters[key]
		roles = append(roles, fmt.Sprintf("• *%s* — %s %s", c.Name, c.Description, c.DisplayEmoji()))
	}

	var userRole string
	if def.World.UserRole != "" {
		userRole = fmt.Sprintf("\n🎭 *Ты в этом мире:* %s %s, _%s_",
			def.World.UserTag(), def.World.UserDisplayEmoji(), def.World.UserRole)
	}

	return fmt.Sprintf("🎮 Сценарий *%s* загружен! %s\n📝 _%s_\n%s\n\n*Доступные роли:*\n%s\n\n"+
		"⚠️ Пожалуйста, выбери персонажа для этого мира: /role\n💡 Можешь потом добавить сюжетную сцену: /scene 🎬",
		def.World.Name, def.World.Emoji, def.World.Description, userRole, strings.Join(roles, "\n"))
}

// SelectRole 在当前场景内选择角色
func (s *SessionService) SelectRole(ctx context.Context, out Messenger, u Update, characterKey string) error {
	return s.withUser("select_role", u, func() error {
		def, err := s.CurrentScenario(u.UserID)
		if err != nil {
			return s.fail(ctx, out, u, err)
		}
		char, ok := def.Characters[characterKey]
		if !ok {
			return s.fail(ctx, out, u, apperrors.NewNotFoundError(
				"⚠️ Ошибка: выбранный персонаж не найден в текущем сценарии.", nil))
		}

		s.roles.Update(u.UserID, func(r *models.RoleAssignment) { r.CharacterKey = characterKey })
		s.Flush()

		s.send(ctx, out, u, fmt.Sprintf("Теперь ты общаешься с %s %s.\n\nПросто напиши что-нибудь — и я отвечу тебе! 🎭",
			char.Name, char.DisplayEmoji()), nil)
		return nil
	})
}

// SelectService 选择生成服务
func (s *SessionService) SelectService(ctx context.Context, out Messenger, u Update, serviceKey string) error {
	return s.withUser("select_service", u, func() error {
		svc, ok := s.appConfig.Service(serviceKey)
		if !ok {
			return s.fail(ctx, out, u, apperrors.NewNotFoundError("⚠️ Ошибка: выбранный сервис не найден.", nil))
		}

		s.roles.Update(u.UserID, func(r *models.RoleAssignment) { r.ServiceKey = serviceKey })
		s.Flush()

		s.send(ctx, out, u, fmt.Sprintf("🧠 Теперь ты используешь думатель: *%s* ✨", svc.DisplayName()), nil)
		return nil
	})
}

// ToggleTranslation 切换翻译开关，返回新的状态
func (s *SessionService) ToggleTranslation(ctx context.Context, out Messenger, u Update) (bool, error) {
	var enabled bool
	err := s.withUser("toggle_translation", u, func() error {
		if _, err := s.resolve(u.UserID); err != nil {
			return s.fail(ctx, out, u, err)
		}

		ra := s.roles.Update(u.UserID, func(r *models.RoleAssignment) { r.TranslationEnabled = !r.TranslationEnabled })
		s.Flush()
		enabled = ra.TranslationEnabled

		status, mode := "выключен 🔇", "работать напрямую на русском языке"
		if enabled {
			status, mode = "включён 🌍", "думать на английском и отвечать по-русски"
		}
		s.send(ctx, out, u, fmt.Sprintf("Перевод %s.\nТеперь модель будет %s ☺️", status, mode), nil)
		return nil
	})
	return enabled, err
}

// Whoami 展示当前世界、角色与服务
func (s *SessionService) Whoami(ctx context.Context, out Messenger, u Update) error {
	return s.withUser("whoami", u, func() error {
		text, err := s.describe(u.UserID)
		if err != nil {
			return s.fail(ctx, out, u, err)
		}
		s.send(ctx, out, u, text, nil)
		return nil
	})
}

func (s *SessionService) describe(userID string) (string, error) {
	sess, err := s.resolve(userID)
	if err != nil {
		return "", err
	}
	w := sess.world()

	var b strings.Builder
	fmt.Fprintf(&b, "🌍 *Мир:* %s %s\n📝 _%s_\n👤 *Твой собеседник:* %s %s\n🧬 _%s_\n\n",
		w.Name, w.Emoji, w.Description, sess.char.Name, sess.char.DisplayEmoji(), sess.char.Description)
	if w.UserRole != "" {
		fmt.Fprintf(&b, "🎭 *Ты в этом мире:* %s %s _%s_\n\n", w.UserTag(), w.UserDisplayEmoji(), w.UserRole)
	}
	if svc, err := s.serviceFor(sess.role); err == nil {
		fmt.Fprintf(&b, "\n🧠*Включен думатель:* _%s_\n🌍*Язык думателя:* _%s_", svc.DisplayName(), sess.role.Lang())
	}
	return b.String(), nil
}

// HistoryView 当前场景历史的展示分段，每段不超过 MaxMessageLength 个字符
func (s *SessionService) HistoryView(userID string) ([]string, error) {
	// 只读，不等待用户锁：生成期间也能查看历史
	ra, ok := s.roles.Get(userID)
	if !ok || ra.ScenarioID == "" {
		return nil, apperrors.NewInvalidStateError(msgHistoryNoScn, nil)
	}
	def, err := s.scenarios.Load(ra.ScenarioID)
	if err != nil {
		return nil, err
	}

	st := s.conversations.Get(userID, ra.ScenarioID)
	if len(st.History) == 0 {
		return []string{msgHistoryEmpty}, nil
	}

	lines := make([]string, 0, len(st.History))
	for _, line := range st.History {
		lines = append(lines, def.FormatLine(line))
	}
	return splitMessage(lines, MaxMessageLength), nil
}

// ShowHistory 分段发送历史
func (s *SessionService) ShowHistory(ctx context.Context, out Messenger, u Update) error {
	chunks, err := s.HistoryView(u.UserID)
	s.metrics.RecordSessionOp("history", err)
	if err != nil {
		s.send(ctx, out, u, apperrors.UserMessage(err, ApologyGeneric), nil)
		return err
	}
	for _, chunk := range chunks {
		s.send(ctx, out, u, chunk, nil)
	}
	return nil
}

// History 当前场景的原始对话状态
func (s *SessionService) History(userID string) (models.ConversationState, error) {
	ra, ok := s.roles.Get(userID)
	if !ok || ra.ScenarioID == "" {
		return models.ConversationState{}, apperrors.NewInvalidStateError(msgHistoryNoScn, nil)
	}
	return s.conversations.Get(userID, ra.ScenarioID), nil
}

// PromptPreview 下一次回复将发送的提示词及其预估 token 数
func (s *SessionService) PromptPreview(userID string) (string, int, error) {
	sess, err := s.resolve(userID)
	if err != nil {
		return "", 0, err
	}
	svc, err := s.serviceFor(sess.role)
	if err != nil {
		return "", 0, err
	}

	st := s.conversations.Get(userID, sess.role.ScenarioID)
	p := prompt.Assemble(prompt.FormatFor(svc.ChatML), s.dialogueInput(sess, svc, st.History), true)
	return p, s.estimator.Count(p), nil
}

// Role 用户当前的选择
func (s *SessionService) Role(userID string) (models.RoleAssignment, bool) {
	return s.roles.Get(userID)
}

// ListScenarios 可选场景
func (s *SessionService) ListScenarios() ([]models.ScenarioSummary, error) {
	return s.scenarios.List()
}

// ListServices 按键排序的服务列表，标记用户当前生效的服务
func (s *SessionService) ListServices(userID string) []ServiceSummary {
	ra, _ := s.roles.Get(userID)
	active := ra.ServiceKey
	if active == "" {
		active = s.appConfig.DefaultService
	}

	keys := s.appConfig.ServiceKeys()
	out := make([]ServiceSummary, 0, len(keys))
	for _, key := range keys {
		svc, _ := s.appConfig.Service(key)
		out = append(out, ServiceSummary{
			Key:    key,
			Name:   svc.DisplayName(),
			Type:   svc.Type,
			Model:  svc.Model,
			Active: key == active,
		})
	}
	return out
}

// SessionStats 运行状态
type SessionStats struct {
	Users       int `json:"users"`
	Assignments int `json:"assignments"`
	ActiveLocks int `json:"active_locks"`
}

// Stats 返回会话计数
func (s *SessionService) Stats() SessionStats {
	return SessionStats{
		Users:       s.conversations.Users(),
		Assignments: s.roles.Count(),
		ActiveLocks: s.locks.Count(),
	}
}

// splitMessage 按行拼接成不超过 limit 个字符的段落，超长行在字素边界处硬切
func splitMessage(lines []string, limit int) []string {
	var (
		chunks []string
		cur    strings.Builder
		n      int
	)
	flush := func() {
		if n > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			n = 0
		}
	}

	for _, line := range lines {
		for _, piece := range hardSplit(line, limit) {
			size := utf8.RuneCountInString(piece)
			sep := 0
			if n > 0 {
				sep = 1
			}
			if n+sep+size > limit {
				flush()
				sep = 0
			}
			if sep == 1 {
				cur.WriteByte('\n')
			}
			cur.WriteString(piece)
			n += sep + size
		}
	}
	flush()
	return chunks
}

func hardSplit(s string, limit int) []string {
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}

	var (
		parts []string
		b     strings.Builder
		n     int
	)
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		size := len(g.Runes())
		if n > 0 && n+size > limit {
			parts = append(parts, b.String())
			b.Reset()
			n = 0
		}
		b.WriteString(g.Str())
		n += size
	}
	if n > 0 {
		parts = append(parts, b.String())
	}
	return parts
}

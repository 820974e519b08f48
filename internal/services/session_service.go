// internal/services/session_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/SceneRelay/internal/config"
	apperrors "github.com/Corphon/SceneRelay/internal/errors"
	"github.com/Corphon/SceneRelay/internal/history"
	"github.com/Corphon/SceneRelay/internal/models"
	"github.com/Corphon/SceneRelay/internal/prompt"
	"github.com/Corphon/SceneRelay/internal/storage"
	"github.com/Corphon/SceneRelay/internal/tokens"
	"github.com/Corphon/SceneRelay/internal/utils"
)

// 持久化键
const (
	HistoryKey = "history"
	RolesKey   = "roles"
)

const (
	msgEmptyReply   = "⚠️ Думатель ничего не ответил ☹️. Попробуй ещё раз."
	msgThinking     = "⌛️ Думаю…"
	msgNoRole       = "😿 Ты ещё не выбрал персонажа. Напиши /role."
	msgIncomplete   = "😿 Не хватает информации о персонаже или сценарии. Напиши /role."
	msgNoService    = "⚠️ Ошибка: выбранный думатель не найден. Попробуй /service."
	msgNoScenario   = "⚠️ Сначала выбери сценарий через /scenario."
	msgNothingRetry = "⚠️ История пуста — нечего повторять."
	msgCannotRetry  = "⚠️ Нельзя перегенерировать это сообщение."
	msgNothingCont  = "⚠️ Нечего продолжать."
	msgNoEditInput  = "❗ Нет сообщения для редактирования."
	msgCannotEdit   = "⚠️ Нельзя отредактировать последнее сообщение: структура не совпадает."
	msgHistoryEmpty = "📭 История пока пуста. Напиши что-нибудь!"
	msgHistoryNoScn = "❗ Сначала выбери сценарий с помощью /scenario."
	msgSceneHint    = "💡 Хочешь начать с сюжетной сцены? Попробуй /scene 🎬"

	// EditPromptPrefix 编辑提示的开头，消息网关据此识别编辑后的回复
	EditPromptPrefix = "📝 Отредактируй своё последнее сообщение:"
)

// Generator 生成网关
type Generator interface {
	Send(ctx context.Context, req GenerationRequest) GenerationResult
}

// SessionDeps 会话协调器的依赖
type SessionDeps struct {
	Locks         *LockManager
	Conversations *history.Store
	Roles         *RoleService
	Scenarios     *ScenarioService
	Gateway       Generator
	AppConfig     *config.AppConfig
	Estimator     tokens.Estimator
	// State 为 nil 时不做持久化
	State storage.StateStore
	// Archive 为 nil 时不写交互归档
	Archive *storage.Archive
	Metrics *utils.RelayMetrics
}

// SessionService 会话协调器：每个用户的操作在用户锁下串行执行
//
// 用户锁覆盖整个操作，包括生成请求，同一用户的两条回复不会交错写入历史。
type SessionService struct {
	locks         *LockManager
	conversations *history.Store
	roles         *RoleService
	scenarios     *ScenarioService
	gateway       Generator
	appConfig     *config.AppConfig
	estimator     tokens.Estimator
	state         storage.StateStore
	archive       *storage.Archive
	metrics       *utils.RelayMetrics
	logger        *utils.Logger

	flushMu sync.Mutex
}

// NewSessionService 创建会话协调器
func NewSessionService(deps SessionDeps) *SessionService {
	if deps.Locks == nil {
		deps.Locks = NewLockManager()
	}
	if deps.Conversations == nil {
		deps.Conversations = history.NewStore()
	}
	if deps.Roles == nil {
		deps.Roles = NewRoleService()
	}
	if deps.Estimator == nil {
		deps.Estimator = tokens.ForEncoding(tokens.DefaultEncoding)
	}
	if deps.Metrics == nil {
		deps.Metrics = utils.NewRelayMetrics()
	}
	return &SessionService{
		locks:         deps.Locks,
		conversations: deps.Conversations,
		roles:         deps.Roles,
		scenarios:     deps.Scenarios,
		gateway:       deps.Gateway,
		appConfig:     deps.AppConfig,
		estimator:     deps.Estimator,
		state:         deps.State,
		archive:       deps.Archive,
		metrics:       deps.Metrics,
		logger:        utils.GetLogger(),
	}
}

// session 当前用户解析出的场景与角色
type session struct {
	role     models.RoleAssignment
	scenario *models.ScenarioDefinition
	char     models.Character
}

func (s session) world() models.World { return s.scenario.World }

func (s session) userTag() string { return s.scenario.World.UserTag() }

// ---------------------------------------------------------------- 持久化

// Restore 启动时读入历史和角色选择；不存在的键视为空
func (s *SessionService) Restore() error {
	if s.state == nil {
		return nil
	}

	var snap history.Snapshot
	switch err := s.state.Load(HistoryKey, &snap); {
	case err == nil:
		s.conversations.Load(snap)
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("加载历史失败: %w", err)
	}

	var roles map[string]models.RoleAssignment
	switch err := s.state.Load(RolesKey, &roles); {
	case err == nil:
		s.roles.Load(roles)
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("加载角色失败: %w", err)
	}

	s.logger.Info("session state restored", map[string]interface{}{
		"users": s.conversations.Users(),
		"roles": s.roles.Count(),
	})
	return nil
}

// Flush 把有变化的状态写入存储；失败重试一次后记录并继续
func (s *SessionService) Flush() {
	if s.state == nil {
		return
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if snap, ok := s.conversations.Checkpoint(); ok {
		if err := s.saveWithRetry(HistoryKey, snap); err != nil {
			s.conversations.MarkDirty()
		}
	}
	if roles, ok := s.roles.Checkpoint(); ok {
		if err := s.saveWithRetry(RolesKey, roles); err != nil {
			s.roles.MarkDirty()
		}
	}
}

func (s *SessionService) saveWithRetry(key string, v interface{}) error {
	err := s.state.Save(key, v)
	if err == nil {
		return nil
	}
	s.logger.Warn("state save failed, retrying", map[string]interface{}{"key": key, "error": err.Error()})

	if err = s.state.Save(key, v); err != nil {
		s.metrics.RecordError("persistence", "session_service")
		s.logger.Error("state save failed", map[string]interface{}{"key": key, "error": err.Error()})
	}
	return err
}

// ---------------------------------------------------------------- 基础

func (s *SessionService) withUser(op string, u Update, fn func() error) error {
	err := s.locks.ExecuteWithUserLock(u.UserID, fn)
	s.metrics.RecordSessionOp(op, err)
	return err
}

func (s *SessionService) send(ctx context.Context, out Messenger, u Update, text string, buttons []Button) models.MessageRef {
	ref, err := out.SendText(ctx, u.Chat(), text, buttons)
	if err != nil {
		s.logger.Warn("send message failed", map[string]interface{}{"user_id": u.UserID, "error": err.Error()})
		return ""
	}
	return ref
}

func (s *SessionService) deleteMessage(ctx context.Context, out Messenger, u Update, ref models.MessageRef) {
	if ref == "" {
		return
	}
	if err := out.DeleteMessage(ctx, u.Chat(), ref); err != nil {
		s.logger.Debug("delete message failed", map[string]interface{}{"user_id": u.UserID, "error": err.Error()})
	}
}

// fail 向用户发送错误说明并原样返回错误
func (s *SessionService) fail(ctx context.Context, out Messenger, u Update, err error) error {
	s.send(ctx, out, u, apperrors.UserMessage(err, ApologyGeneric), nil)
	return err
}

// resolve 取出用户当前的场景与角色
func (s *SessionService) resolve(userID string) (session, error) {
	ra, ok := s.roles.Get(userID)
	if !ok {
		return session{}, apperrors.NewNotFoundError(msgNoRole, nil)
	}
	if ra.CharacterKey == "" || ra.ScenarioID == "" {
		return session{}, apperrors.NewNotFoundError(msgIncomplete, nil)
	}

	def, err := s.scenarios.Load(ra.ScenarioID)
	if err != nil {
		return session{}, err
	}

	char, ok := def.Characters[ra.CharacterKey]
	if !ok {
		return session{}, apperrors.NewNotFoundError(fmt.Sprintf(
			"⚠️ Персонаж *%s* не найден в сценарии *%s*.\nПожалуйста, выбери нового: /role",
			ra.CharacterKey, def.World.Name), nil)
	}
	return session{role: ra, scenario: def, char: char}, nil
}

// serviceFor 用户选择的服务，未选择时使用默认服务
func (s *SessionService) serviceFor(ra models.RoleAssignment) (config.ServiceConfig, error) {
	key := ra.ServiceKey
	if key == "" {
		key = s.appConfig.DefaultService
	}
	svc, ok := s.appConfig.Service(key)
	if !ok {
		return config.ServiceConfig{}, apperrors.NewNotFoundError(msgNoService, nil)
	}
	return svc, nil
}

// ActiveCharacter 返回用户当前的场景与角色
func (s *SessionService) ActiveCharacter(userID string) (*models.ScenarioDefinition, models.Character, error) {
	sess, err := s.resolve(userID)
	if err != nil {
		return nil, models.Character{}, err
	}
	return sess.scenario, sess.char, nil
}

func (s *SessionService) archiveLine(u Update, sess session, svc *config.ServiceConfig, speaker, text string) {
	if s.archive == nil {
		return
	}
	rec := models.InteractionRecord{
		Timestamp:  time.Now(),
		UserID:     u.UserID,
		Username:   u.Username,
		FullName:   u.FullName,
		ScenarioID: sess.role.ScenarioID,
		World:      sess.world().Name,
		Character:  sess.char.Name,
		SpeakerTag: speaker,
		Text:       text,
		Lang:       sess.role.Lang(),
	}
	if svc != nil {
		rec.ServiceType = svc.Type
		rec.Model = svc.Model
	}
	if err := s.archive.Append(rec); err != nil {
		s.logger.Warn("archive append failed", map[string]interface{}{"user_id": u.UserID, "error": err.Error()})
	}
}

// dialogueInput 系统前导加按预算裁剪后的历史
func (s *SessionService) dialogueInput(sess session, svc config.ServiceConfig, lines []models.ConversationLine) prompt.Input {
	preamble := prompt.SystemPrompt(sess.world(), sess.char)
	preambleTokens := s.estimator.Count(preamble)
	trimmed, used := history.Trim(lines, svc.MaxTokens-preambleTokens, s.estimator)

	s.logger.Debug("prompt tokens", map[string]interface{}{
		"preamble": preambleTokens,
		"history":  used,
		"max":      svc.MaxTokens,
		"kept":     len(trimmed),
		"total":    len(lines),
	})

	return prompt.Input{
		Preamble:      preamble,
		History:       trimmed,
		UserTag:       sess.userTag(),
		CharacterName: sess.char.Name,
	}
}

// generate 排队、生成、展示并在成功时写入历史
func (s *SessionService) generate(ctx context.Context, out Messenger, u Update, sess session, svc config.ServiceConfig, promptText, speaker, emoji string) error {
	req := GenerationRequest{
		UserID:       u.UserID,
		Prompt:       promptText,
		Service:      svc,
		Translate:    sess.role.TranslationEnabled,
		PositionOnly: true,
	}

	if pos := s.gateway.Send(ctx, req); pos.Position != nil && *pos.Position > 1 {
		s.send(ctx, out, u, fmt.Sprintf("⏳ Ты в очереди: *%d*-й.", *pos.Position), nil)
	}

	thinking := s.send(ctx, out, u, msgThinking, nil)
	req.PositionOnly = false
	res := s.gateway.Send(ctx, req)
	s.deleteMessage(ctx, out, u, thinking)

	if !res.OK() {
		text := strings.TrimSpace(res.Text)
		if text == "" {
			text = msgEmptyReply
		}
		s.send(ctx, out, u, text, nil)
		return apperrors.NewBackendFailureError(text, nil)
	}

	ref := s.send(ctx, out, u, emoji+": "+res.Text, replyButtons)

	scenarioID := sess.role.ScenarioID
	s.conversations.Append(u.UserID, scenarioID, models.NewLine(speaker, res.Text))
	s.conversations.SetLastBotRef(u.UserID, scenarioID, ref)
	s.archiveLine(u, sess, &svc, speaker, res.Text)
	s.Flush()
	return nil
}

// ---------------------------------------------------------------- 对话操作

// HandleMessage 追加用户发言并生成角色回复
func (s *SessionService) HandleMessage(ctx context.Context, out Messenger, u Update) error {
	return s.withUser("message", u, func() error {
		return s.handleMessageLocked(ctx, out, u, u.Text)
	})
}

func (s *SessionService) handleMessageLocked(ctx context.Context, out Messenger, u Update, text string) error {
	sess, err := s.resolve(u.UserID)
	if err != nil {
		return s.fail(ctx, out, u, err)
	}
	svc, err := s.serviceFor(sess.role)
	if err != nil {
		return s.fail(ctx, out, u, err)
	}

	userTag := sess.userTag()
	scenarioID := sess.role.ScenarioID
	s.archiveLine(u, sess, nil, userTag, text)

	s.conversations.Append(u.UserID, scenarioID, models.NewLine(userTag, text))
	s.conversations.SetLastInput(u.UserID, scenarioID, text)
	s.Flush()

	st := s.conversations.Get(u.UserID, scenarioID)
	in := s.dialogueInput(sess, svc, st.History)
	p := prompt.Assemble(prompt.FormatFor(svc.ChatML), in, true)

	return s.generate(ctx, out, u, sess, svc, p, sess.char.Name, sess.char.DisplayEmoji())
}

// Retry 重新生成最后一条回复
//
// 旁白结尾时重新生成场景；续写产物只删除一行后重新续写；
// 完整的一问一答删除两行后用 last_input 重新生成；其他结构拒绝执行。
func (s *SessionService) Retry(ctx context.Context, out Messenger, u Update) error {
	return s.withUser("retry", u, func() error {
		sess, err := s.resolve(u.UserID)
		if err != nil {
			return s.fail(ctx, out, u, err)
		}

		scenarioID := sess.role.ScenarioID
		st := s.conversations.Get(u.UserID, scenarioID)
		last, ok := st.Last(1)
		if !ok {
			return s.fail(ctx, out, u, apperrors.NewInvalidStateError(msgNothingRetry, nil))
		}
		prev, hasPrev := st.Last(2)

		switch {
		case last.IsNarrator():
			s.conversations.TruncateTail(u.UserID, scenarioID, 1)
			s.dropLastReply(ctx, out, u, scenarioID, st.LastBotRef)
			return s.sceneLocked(ctx, out, u)

		case last.SpokenBy(sess.char.Name) && (!hasPrev || !prev.SpokenBy(sess.userTag())):
			s.conversations.TruncateTail(u.UserID, scenarioID, 1)
			s.dropLastReply(ctx, out, u, scenarioID, st.LastBotRef)
			return s.continueLocked(ctx, out, u)

		case st.IsValidLastExchange(sess.userTag(), sess.char.Name):
			s.conversations.TruncateTail(u.UserID, scenarioID, 2)
			s.dropLastReply(ctx, out, u, scenarioID, st.LastBotRef)
			return s.handleMessageLocked(ctx, out, u, st.LastInput)

		default:
			return s.fail(ctx, out, u, apperrors.NewInvalidStateError(msgCannotRetry, nil))
		}
	})
}

// dropLastReply 删除已展示的旧回复并清除引用
func (s *SessionService) dropLastReply(ctx context.Context, out Messenger, u Update, scenarioID string, ref models.MessageRef) {
	s.conversations.SetLastBotRef(u.UserID, scenarioID, "")
	s.Flush()
	s.deleteMessage(ctx, out, u, ref)
}

// Continue 续写最后一条回复，不删除任何历史
func (s *SessionService) Continue(ctx context.Context, out Messenger, u Update) error {
	return s.withUser("continue", u, func() error {
		return s.continueLocked(ctx, out, u)
	})
}

func (s *SessionService) continueLocked(ctx context.Context, out Messenger, u Update) error {
	sess, err := s.resolve(u.UserID)
	if err != nil {
		return s.fail(ctx, out, u, err)
	}

	st := s.conversations.Get(u.UserID, sess.role.ScenarioID)
	last, ok := st.Last(1)
	if !ok {
		return s.fail(ctx, out, u, apperrors.NewInvalidStateError(msgNothingCont, nil))
	}
	if last.IsNarrator() {
		return s.sceneLocked(ctx, out, u)
	}

	svc, err := s.serviceFor(sess.role)
	if err != nil {
		return s.fail(ctx, out, u, err)
	}

	in := s.dialogueInput(sess, svc, st.History)
	p := prompt.ContinuationPrompt(prompt.FormatFor(svc.ChatML), in)
	return s.generate(ctx, out, u, sess, svc, p, sess.char.Name, sess.char.DisplayEmoji())
}

// Edit 删除最后的一问一答，请用户重新发送 last_input 的替代内容
func (s *SessionService) Edit(ctx context.Context, out Messenger, u Update) error {
	return s.withUser("edit", u, func() error {
		sess, err := s.resolve(u.UserID)
		if err != nil {
			return s.fail(ctx, out, u, err)
		}

		scenarioID := sess.role.ScenarioID
		st := s.conversations.Get(u.UserID, scenarioID)
		if st.LastInput == "" {
			return s.fail(ctx, out, u, apperrors.NewInvalidStateError(msgNoEditInput, nil))
		}
		if !st.IsValidLastExchange(sess.userTag(), sess.char.Name) {
			return s.fail(ctx, out, u, apperrors.NewInvalidStateError(msgCannotEdit, nil))
		}

		s.conversations.TruncateTail(u.UserID, scenarioID, 2)
		s.conversations.SetLastBotRef(u.UserID, scenarioID, "")
		s.Flush()

		s.send(ctx, out, u, EditPromptPrefix+"\n\n"+st.LastInput, nil)
		return nil
	})
}

// Reset 清空当前场景的历史，有开场旁白时重新写入
func (s *SessionService) Reset(ctx context.Context, out Messenger, u Update) error {
	return s.withUser("reset", u, func() error {
		sess, err := s.resolve(u.UserID)
		if err != nil {
			return s.fail(ctx, out, u, err)
		}

		scenarioID := sess.role.ScenarioID
		s.conversations.Reset(u.UserID, scenarioID)
		s.send(ctx, out, u, fmt.Sprintf("🔁 История очищена! Ты можешь начать диалог заново с %s\n\n", sess.char.Name), nil)

		if intro := strings.TrimSpace(sess.world().IntroScene); intro != "" {
			s.conversations.Append(u.UserID, scenarioID, models.NarratorLine(intro))
			s.send(ctx, out, u, intro, nil)
		}
		s.Flush()

		s.send(ctx, out, u, msgSceneHint, nil)
		return nil
	})
}

// Scene 以旁白视角生成一段场景
func (s *SessionService) Scene(ctx context.Context, out Messenger, u Update) error {
	return s.withUser("scene", u, func() error {
		return s.sceneLocked(ctx, out, u)
	})
}

func (s *SessionService) sceneLocked(ctx context.Context, out Messenger, u Update) error {
	sess, err := s.resolve(u.UserID)
	if err != nil {
		return s.fail(ctx, out, u, err)
	}
	svc, err := s.serviceFor(sess.role)
	if err != nil {
		return s.fail(ctx, out, u, err)
	}

	st := s.conversations.Get(u.UserID, sess.role.ScenarioID)
	p := prompt.ScenePrompt(sess.world(), sess.char, st.Tail(prompt.SceneHistoryLines))
	if svc.ChatML {
		p = prompt.WrapChatML(p)
	}
	return s.generate(ctx, out, u, sess, svc, p, models.NarratorTag, models.NarratorEmoji)
}

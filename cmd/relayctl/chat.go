// cmd/relayctl/chat.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/MakeNowJust/heredoc"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Corphon/SceneRelay/internal/api"
	"github.com/Corphon/SceneRelay/internal/models"
	"github.com/Corphon/SceneRelay/internal/services"
)

const consoleBoxMaxWidth = 72

// consoleMessenger 在终端里显示消息；最近一组按钮可以用序号选择
type consoleMessenger struct {
	mu      sync.Mutex
	w       io.Writer
	buttons []services.Button
	sent    int
}

func (m *consoleMessenger) SendText(_ context.Context, _ string, text string, buttons []services.Button) (models.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent++
	printBox(m.w, text)
	if len(buttons) > 0 {
		m.buttons = buttons
		labels := make([]string, 0, len(buttons))
		for i, b := range buttons {
			labels = append(labels, fmt.Sprintf("[%d] %s", i+1, b.Text))
		}
		fmt.Fprintln(m.w, strings.Join(labels, "  "))
	}
	return models.MessageRef(uuid.NewString()), nil
}

// DeleteMessage 终端无法撤回输出
func (m *consoleMessenger) DeleteMessage(context.Context, string, models.MessageRef) error {
	return nil
}

func (m *consoleMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

// command 把一行输入转换为指令；数字选择最近的按钮
func (m *consoleMessenger) command(line string) api.Command {
	if n, err := strconv.Atoi(line); err == nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		if n >= 1 && n <= len(m.buttons) {
			return api.Command{Type: api.CommandCallback, Data: m.buttons[n-1].Data}
		}
	}
	return api.Command{Type: api.CommandMessage, Text: line}
}

var chatCmd = &cobra.Command{
	Use:   "chat <user-id>",
	Short: "Talk to a scenario from the terminal",
	Long: heredoc.Doc(`
		Run an interactive session against the local data directory, using the
		same commands as the API (/scenario, /role, /service, /scene, /retry,
		/continue, /edit, /reset, /history, /whoami, /lang).

		Type a button number to press it, /quit to leave.
	`),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Cleanup()

		userID := args[0]
		out := &consoleMessenger{w: cmd.OutOrStdout()}
		handler := api.NewHandler(a.Sessions(), nil, nil, nil)
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		if _, ok := a.Sessions().Role(userID); !ok {
			if err := handler.Dispatch(ctx, out, userID, api.Command{Type: api.CommandScenarios}); err != nil {
				cmd.PrintErrln("⚠️", err)
			}
		}

		scanner := bufio.NewScanner(cmd.InOrStdin())
		for {
			fmt.Fprint(cmd.OutOrStdout(), "> ")
			if !scanner.Scan() {
				fmt.Fprintln(cmd.OutOrStdout())
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			switch line {
			case "":
				continue
			case "/quit", "/exit":
				return nil
			}

			// 会话层失败时已经发出过说明
			before := out.count()
			if err := handler.Dispatch(ctx, out, userID, out.command(line)); err != nil && out.count() == before {
				cmd.PrintErrln("⚠️", err)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func printBox(w io.Writer, content string) {
	lines := wrapContentForBox(content, consoleBoxMaxWidth)
	width := 0
	for _, line := range lines {
		if n := utf8.RuneCountInString(line); n > width {
			width = n
		}
	}

	border := strings.Repeat("─", width+2)
	fmt.Fprintln(w, "┌"+border+"┐")
	for _, line := range lines {
		fmt.Fprintf(w, "│ %s │\n", padRight(line, width))
	}
	fmt.Fprintln(w, "└"+border+"┘")
}

func wrapContentForBox(content string, maxWidth int) []string {
	var result []string
	for _, rawLine := range strings.Split(content, "\n") {
		runes := []rune(strings.TrimRight(rawLine, " "))
		for len(runes) > maxWidth {
			result = append(result, string(runes[:maxWidth]))
			runes = runes[maxWidth:]
		}
		result = append(result, string(runes))
	}
	return result
}

func padRight(text string, width int) string {
	if n := utf8.RuneCountInString(text); n < width {
		return text + strings.Repeat(" ", width-n)
	}
	return text
}

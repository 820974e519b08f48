// cmd/relayctl/prompt.go
package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/Corphon/SceneRelay/internal/tokens"
)

var promptCmd = &cobra.Command{
	Use:   "prompt <user-id>",
	Short: "Preview the next prompt for a user",
	Long: heredoc.Doc(`
		Print the prompt that the next reply of this user would be generated from,
		after history trimming, in the format of the user's active service.
	`),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Cleanup()

		p, n, err := a.Sessions().PromptPreview(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), p)
		fmt.Fprintf(cmd.OutOrStdout(), "\n--- %d tokens ---\n", n)
		return nil
	},
}

var tokensCmd = &cobra.Command{
	Use:   "tokens [text]",
	Short: "Count tokens of text or stdin",
	Example: heredoc.Doc(`
		relayctl tokens "Привет, рыцарь"
		cat prompt.txt | relayctl tokens --encoding cl100k_base
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		encoding, _ := cmd.Flags().GetString("encoding")
		if encoding == "" {
			encoding = cfg.TiktokenEncoding
		}

		text := strings.Join(args, " ")
		if len(args) == 0 {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("读取输入失败: %w", err)
			}
			text = string(data)
		}

		tokens.InitLoader(cfg.TiktokenCacheDir)
		fmt.Fprintln(cmd.OutOrStdout(), tokens.ForEncoding(encoding).Count(text))
		return nil
	},
}

func init() {
	tokensCmd.Flags().String("encoding", "", "Encoding name (default TIKTOKEN_ENCODING)")
	rootCmd.AddCommand(promptCmd, tokensCmd)
}

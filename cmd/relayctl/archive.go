// cmd/relayctl/archive.go
package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Corphon/SceneRelay/internal/storage"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect and compact the interaction archive",
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archive files",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		files, err := storage.NewArchive(cfg.ArchiveDir).List()
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "archive %s is empty\n", cfg.ArchiveDir)
			return nil
		}

		var total int64
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tUSER\tDATE\tSIZE\tCOMPACTED")
		for _, f := range files {
			total += f.Size
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", f.Name, f.UserID, f.Date, humanize.Bytes(uint64(f.Size)), f.Compacted)
		}
		fmt.Fprintf(w, "\t\t\t%s\t\n", humanize.Bytes(uint64(total)))
		return w.Flush()
	},
}

var archiveShowCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "Print the records of one archive file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		records, err := storage.NewArchive(cfg.ArchiveDir).Read(args[0])
		if err != nil {
			return err
		}
		for _, r := range records {
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", r.Timestamp.Format("15:04:05"), r.SpeakerTag, r.Text)
		}
		return nil
	},
}

var archiveCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Gzip archive files of past days",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		n, err := storage.NewArchive(cfg.ArchiveDir).Compact()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "compacted %d file(s)\n", n)
		return nil
	},
}

func init() {
	archiveCmd.AddCommand(archiveListCmd, archiveShowCmd, archiveCompactCmd)
	rootCmd.AddCommand(archiveCmd)
}

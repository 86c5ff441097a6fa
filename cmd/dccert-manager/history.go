package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dccert-manager/internal/core"
	"dccert-manager/internal/journal"
)

const (
	flagHost  = "host"
	flagLimit = "limit"
)

func newHistoryCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded host outcomes from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return history(cmd.Context(), readGlobalOptions(v), v.GetString(flagHost), v.GetInt(flagLimit), cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.String(flagHost, "", "only show this host (env: DCCERT_HOST)")
	flags.Int(flagLimit, 20, "maximum number of rows (env: DCCERT_LIMIT)")
	return cmd
}

func history(ctx context.Context, opts globalOptions, host string, limit int, out io.Writer) error {
	log := newLogger(opts)
	defer func() { _ = log.Sync() }()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	factory := core.NewFactory(cfg, log, out)
	defer factory.Close()

	j, err := factory.Journal()
	if err != nil {
		return err
	}
	if j == nil {
		return fmt.Errorf("未启用结果记录，请在配置文件中设置 journal.enabled")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	entries, err := j.List(ctx, host, limit)
	if err != nil {
		return err
	}
	return writeHistory(out, entries)
}

func writeHistory(out io.Writer, entries []journal.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "No recorded outcomes")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tRUN\tHOST\tRESULT\tAUTHORITY\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			shortRunID(e.RunID),
			e.Host,
			e.Kind,
			dash(e.Authority),
			dash(e.Detail),
		)
	}
	return w.Flush()
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

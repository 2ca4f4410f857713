package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/ravidnaor/corrobot/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("corrobot doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (using defaults; file not found)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Database:")
	fmt.Printf("    %-12s %s\n", "Mode:", cfg.Database.Mode)
	if cfg.Database.IsManagedMode() {
		db, dbErr := sql.Open("pgx", cfg.Database.PostgresDSN)
		if dbErr != nil {
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", dbErr)
		} else if pingErr := db.Ping(); pingErr != nil {
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", pingErr)
			db.Close()
		} else {
			fmt.Printf("    %-12s connected\n", "Status:")
			db.Close()
		}
	} else {
		fmt.Printf("    %-12s %s/corrobot.db\n", "Path:", cfg.DataDir)
	}

	fmt.Println()
	fmt.Println("  Credentials:")
	checkSecret("Telegram token", cfg.Telegram.Token)
	fmt.Printf("    %-16s %d\n", "Reader tokens:", len(cfg.Telegram.ReaderTokens))
	checkSecret("LLM API key", cfg.LLM.APIKey)

	fmt.Println()
	fmt.Println("  Channel lists:")
	checkChannelFile("Source channels", cfg.Ingest.SourceChannelsFile)
	checkChannelFile("Smart channels", cfg.Ingest.SmartChannelsFile)

	fmt.Println()
	fmt.Println("  Dispatch targets:")
	checkSecret("Report chat", cfg.Dispatch.ReportChat)
	checkSecret("Summary chat", cfg.Dispatch.SummaryChat)

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkSecret(name, value string) {
	if value == "" {
		fmt.Printf("    %-16s (not configured)\n", name+":")
		return
	}
	if len(value) <= 8 {
		fmt.Printf("    %-16s %s\n", name+":", strings.Repeat("*", len(value)))
		return
	}
	masked := value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
	fmt.Printf("    %-16s %s\n", name+":", masked)
}

func checkChannelFile(name, path string) {
	list, err := config.LoadChannelList(path)
	if err != nil {
		fmt.Printf("    %-16s %s (ERROR: %s)\n", name+":", path, err)
		return
	}
	fmt.Printf("    %-16s %s (%d channels)\n", name+":", path, len(list.Channels()))
}

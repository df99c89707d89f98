// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/infermesh/infermesh/envconfig"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "inferd",
		Short:         "Streaming inference server",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	serveCmd := newServeCmd()

	envVars := envconfig.AsMap()
	appendEnvDocs(serveCmd, []envconfig.EnvVar{
		envVars["INFER_DEBUG"],
		envVars["INFER_HOST"],
		envVars["INFER_ORIGINS"],
		envVars["INFER_MAX_CONNECTIONS"],
		envVars["INFER_REQUEST_TIMEOUT"],
		envVars["INFER_MAX_BATCH_SIZE"],
		envVars["INFER_MAX_BATCH_WAIT_MS"],
		envVars["INFER_RATE_LIMIT_PER_MIN"],
		envVars["INFER_GLOBAL_RATE_PER_SEC"],
		envVars["INFER_GRACEFUL_SHUTDOWN_S"],
		envVars["INFER_STREAM_BUFFER_SIZE"],
		envVars["INFER_STREAM_IDLE_TIMEOUT"],
		envVars["INFER_MAX_QUEUE"],
	})

	rootCmd.AddCommand(serveCmd)
	return rootCmd
}

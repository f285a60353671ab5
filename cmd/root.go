package cmd

import (
	"fmt"
	"os"

	"github.com/deploymenttheory/go-vdi-inspector/internal/config"
	"github.com/deploymenttheory/go-vdi-inspector/internal/logger"
	"github.com/deploymenttheory/go-vdi-inspector/internal/report"
	"github.com/deploymenttheory/go-vdi-inspector/pkg/tooling"
	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd represents the base CLI command
var rootCmd = &cobra.Command{
	Use:   "vdi-inspector",
	Short: "Offline inspection of ext2 filesystems inside VirtualBox disk images",
	Long: `vdi-inspector opens a VirtualBox VDI image (optionally xz, bzip2 or gzip
compressed), finds the ext2 filesystem on its MBR partition table and reports
superblock, group descriptor and inode state without mounting anything.

Inode data can be copied out with a content digest for evidence handling.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// If config file was explicitly specified via flag, reinitialize
		if cmd.Flags().Changed("config") && cfgFile != "" {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			config.Instance = *cfg
			config.ConfigFile = cfgFile
		}

		// CLI flags override config settings
		flags := cmd.Flags()
		if flags.Changed("debug") {
			config.Instance.Debug, _ = flags.GetBool("debug")
		}
		if flags.Changed("log-format") {
			config.Instance.LogFormat, _ = flags.GetString("log-format")
		}
		if flags.Changed("image") {
			config.Instance.Image.Path, _ = flags.GetString("image")
		}
		if flags.Changed("partition") {
			config.Instance.Image.Partition, _ = flags.GetInt("partition")
		}
		if flags.Changed("read-only") {
			config.Instance.Image.ReadOnly, _ = flags.GetBool("read-only")
		}
		if flags.Changed("work-dir") {
			config.Instance.Image.WorkDir, _ = flags.GetString("work-dir")
		}
		if flags.Changed("format") {
			config.Instance.Report.Format, _ = flags.GetString("format")
		}

		if flags.Changed("debug") || flags.Changed("log-format") {
			return logger.InitLogger(logger.LoggerConfig{
				Debug:     config.Instance.Debug,
				LogFormat: config.Instance.LogFormat,
				LogFile:   config.Instance.LogFile,
			})
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.LogError("Command execution failed", err, nil)
		logger.Sync()
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is search in standard locations)")
	flags.Bool("debug", false, "Enable debug logging")
	flags.String("log-format", "human", "Log format: json or human")
	flags.StringP("image", "i", "", "VDI image to inspect, optionally compressed")
	flags.IntP("partition", "p", -1, "Partition table slot 0-3, -1 for the first Linux partition")
	flags.Bool("read-only", true, "Open the image without write access")
	flags.String("work-dir", "", "Directory compressed images are expanded into")
	flags.StringP("format", "f", "json", "Report format: json, xml or binary")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(blocksCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(checkCmd)
}

// openSession opens the configured image
func openSession() (*tooling.Session, error) {
	path := config.Instance.Image.Path
	if path == "" {
		return nil, fmt.Errorf("no image given: use --image or set image.path")
	}
	return tooling.Open(path, tooling.DefaultOpenOptions())
}

// writeReport encodes v to the command's output in the configured format
func writeReport(cmd *cobra.Command, v interface{}) error {
	format, err := report.ParseFormat(config.Instance.Report.Format)
	if err != nil {
		return err
	}
	return report.Encode(cmd.OutOrStdout(), format, v)
}

// versionCmd shows the application version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "vdi-inspector v%s\n", tooling.GetVersion())
	},
}

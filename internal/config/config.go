package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/deploymenttheory/go-vdi-inspector/internal/common/fsutil"
	"github.com/deploymenttheory/go-vdi-inspector/internal/common/osutil"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name used for config files and directories
	AppName = "vdi-inspector"

	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "VDI_INSPECTOR"
)

// AppConfig holds the application configuration
type AppConfig struct {
	// Core settings
	Debug     bool   `mapstructure:"debug"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	// Disk image settings
	Image struct {
		Path      string `mapstructure:"path"`
		Partition int    `mapstructure:"partition"` // -1 selects the first native filesystem partition
		ReadOnly  bool   `mapstructure:"read_only"`
		WorkDir   string `mapstructure:"work_dir"` // where compressed images are expanded
	} `mapstructure:"image"`

	// Extraction settings
	Extract struct {
		Hash string `mapstructure:"hash"`
	} `mapstructure:"extract"`

	// Report settings
	Report struct {
		Format string `mapstructure:"format"` // json, xml or binary
	} `mapstructure:"report"`
}

// Global variables
var (
	// Global configuration instance
	Instance AppConfig

	// Status indicators
	ConfigLoaded bool
	ConfigFile   string

	// Viper instance
	v *viper.Viper

	// Ensure thread safety
	initOnce sync.Once
)

// Initialize sets up the global configuration once
func Initialize(cfgFile string) error {
	var err error

	initOnce.Do(func() {
		v = viper.New()

		var cfg *AppConfig
		cfg, err = load(v, cfgFile)
		if cfg != nil {
			Instance = *cfg
		}
		ConfigFile = v.ConfigFileUsed()
		ConfigLoaded = err == nil && ConfigFile != ""

		ensureDirectories()
	})

	return err
}

// Viper returns the viper instance behind the global configuration, or nil
// before Initialize
func Viper() *viper.Viper {
	return v
}

// Load reads configuration from defaults, the given file or the standard
// search paths, and the environment, without touching the global instance
func Load(cfgFile string) (*AppConfig, error) {
	return load(viper.New(), cfgFile)
}

func load(v *viper.Viper, cfgFile string) (*AppConfig, error) {
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		addSearchPaths(v)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var readErr error
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Only report a config file that was found but couldn't be read
			readErr = fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, readErr
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("log_format", "human")

	logDir, err := fsutil.GetLogDir(AppName)
	if err == nil {
		v.SetDefault("log_file", filepath.Join(logDir, "inspector.log"))
	} else {
		v.SetDefault("log_file", "logs/inspector.log")
	}

	v.SetDefault("image.path", "")
	v.SetDefault("image.partition", -1)
	v.SetDefault("image.read_only", true)

	cacheDir, err := fsutil.GetCacheDir(AppName)
	if err == nil {
		v.SetDefault("image.work_dir", filepath.Join(cacheDir, "images"))
	} else {
		v.SetDefault("image.work_dir", "cache/images")
	}

	v.SetDefault("extract.hash", "sha256")
	v.SetDefault("report.format", "json")
}

// addSearchPaths adds config search paths
func addSearchPaths(v *viper.Viper) {
	// Always check current directory first
	v.AddConfigPath(".")

	// In dev mode, only use current directory and the dev config dir
	if osutil.IsDevEnvironment() {
		configDir, err := fsutil.GetConfigDir(AppName)
		if err == nil {
			v.AddConfigPath(configDir)
		}
		return
	}

	// In CI, only use current directory and explicit CI directories
	if osutil.IsRunningInPipeline() {
		v.AddConfigPath("/etc/" + AppName)
		return
	}

	configDir, err := fsutil.GetConfigDir(AppName)
	if err == nil {
		v.AddConfigPath(configDir)
	}

	v.AddConfigPath(fsutil.GetSystemConfigDir(AppName))
}

// ensureDirectories creates the log directory. The work directory is only
// created when an image actually needs expanding.
func ensureDirectories() {
	// Don't create directories in a pipeline environment unless explicitly requested
	if osutil.IsRunningInPipeline() && os.Getenv("CREATE_DIRS") != "true" {
		return
	}

	if Instance.LogFile != "" {
		_ = fsutil.CreateDirIfNotExists(filepath.Dir(Instance.LogFile))
	}
}

// SaveConfig saves the current configuration to a file
func SaveConfig(filePath string) error {
	saveV := viper.New()
	saveV.SetConfigFile(filePath)

	saveV.Set("debug", Instance.Debug)
	saveV.Set("log_format", Instance.LogFormat)
	saveV.Set("log_file", Instance.LogFile)
	saveV.Set("image.path", Instance.Image.Path)
	saveV.Set("image.partition", Instance.Image.Partition)
	saveV.Set("image.read_only", Instance.Image.ReadOnly)
	saveV.Set("image.work_dir", Instance.Image.WorkDir)
	saveV.Set("extract.hash", Instance.Extract.Hash)
	saveV.Set("report.format", Instance.Report.Format)

	configDir := filepath.Dir(filePath)
	if err := fsutil.CreateDirIfNotExists(configDir); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return saveV.WriteConfig()
}

package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/vibefs/vibed/internal/logger"
)

// Watch reloads the log level whenever the config file changes on disk,
// without requiring a daemon restart. It is a no-op if no config file is in
// use (e.g. defaults-only or explicit env-only configuration).
//
// fsnotify is pulled in transitively through viper; this is the one place
// vibed exercises it directly rather than only paying for the dependency.
func Watch(configPath string) {
	v := viper.New()
	setupViper(v, configPath)
	if err := readConfigFile(v, configPath); err != nil {
		return
	}
	if v.ConfigFileUsed() == "" {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		level := v.GetString("logging.level")
		if level != "" {
			logger.SetLevel(level)
			logger.Info("config reloaded from %s, log level now %s", e.Name, level)
		}
	})
	v.WatchConfig()
}

// internal/logger/config.go
package logger

type Config struct {
	LogFile     string
	MaxSize     int // megabytes
	MaxAge      int // days
	MaxBackups  int // number of rotated files kept
	Compress    bool
	Development bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		LogFile:     "volumebot.log",
		MaxSize:     100,
		MaxAge:      7,
		MaxBackups:  3,
		Compress:    true,
		Development: false,
	}
}

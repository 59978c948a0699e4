package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the process logger. It is usable before InitLogger is called.
var Logger = logrus.New()

// InitLogger configures Logger. Unknown levels fall back to info.
func InitLogger(level string) {
	Logger.SetOutput(os.Stderr)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Logger.SetLevel(lvl)
}

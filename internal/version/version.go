// Package version хранит сведения о сборке, проставляемые через -ldflags:
//
//	-X github.com/vladislavdragonenkov/orders/internal/version.version=v1.2.0
package version

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает собранный бинарник.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает сведения о текущей сборке.
func Current() Build {
	return Build{Version: version, Commit: commit, Date: date}
}

func (b Build) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", b.Version, b.Commit, b.Date)
}

// GetVersion возвращает версию сборки; её же отдаёт /healthz.
func GetVersion() string { return version }

// String печатается по флагу -version.
func String() string { return Current().String() }

// Fields отдаёт сведения о сборке для стартовой записи в лог.
func Fields() log.Fields {
	b := Current()
	return log.Fields{
		"version": b.Version,
		"commit":  b.Commit,
		"date":    b.Date,
	}
}

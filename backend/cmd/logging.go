package main

import (
	"io"
	"os"
	"time"

	"github.com/adwski/classcast/backend/config"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

func newLogger(cfg *config.Config, out *os.File) zerolog.Logger {
	var w io.Writer = out
	switch cfg.LogFormat {
	case config.LogFormatConsole:
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	case config.LogFormatAuto:
		if isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()) {
			w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
		}
	}
	return zerolog.New(w).Level(cfg.Level()).With().Timestamp().Logger()
}

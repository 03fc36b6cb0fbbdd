package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/photon-storage/go-common/log"
)

var (
	//ConfigPathFlag specifies the config file path.
	ConfigPathFlag = &cli.StringFlag{
		Name:     "config-file",
		Usage:    "The filepath to a yaml file, flag is required",
		Required: true,
	}

	// VerbosityFlag defines the log level.
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info=default, warn, error, fatal, panic)",
		Value: "info",
	}

	// LogFormatFlag specifies the log output format.
	LogFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Specify log formatting. Supports: text, json, fluentd, journald.",
		Value: "text",
	}

	// LogFilenameFlag specifies the log output file name.
	LogFilenameFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "Specify log file name, relative or absolute",
	}

	// LogColorFlag specifies whether to force log color by skipping TTY check.
	LogColorFlag = &cli.StringFlag{
		Name:  "log-color",
		Usage: "Force log color to be enabled, skipping TTY check",
	}
)

// InitLogger configures logging from the shared flags. Both daemons call
// it from their cli Before hook.
func InitLogger(ctx *cli.Context) error {
	logLvl, err := log.ParseLevel(ctx.String(VerbosityFlag.Name))
	if err != nil {
		return err
	}

	logFmt, err := log.ParseFormat(ctx.String(LogFormatFlag.Name))
	if err != nil {
		return err
	}

	if err := log.Init(logLvl, logFmt); err != nil {
		return err
	}

	if logFilename := ctx.String(LogFilenameFlag.Name); logFilename != "" {
		if err := log.ConfigurePersistentLogging(logFilename, false); err != nil {
			log.Error("Failed to configuring logging to disk",
				"error", err)
		}
	}

	if ctx.IsSet(LogColorFlag.Name) {
		log.ForceColor()
	}

	return nil
}

package main

import "github.com/urfave/cli/v2"

var FlagLogLevel = &cli.StringFlag{
	Name:     "log-level",
	EnvVars:  []string{"LOG_LEVEL"},
	Value:    "info",
	Required: false,
}

var FlagLogWriter = &cli.StringFlag{
	Name:     "log-writer",
	EnvVars:  []string{"LOG_WRITER"},
	Value:    "console",
	Required: false,
}

var FlagConfigFile = &cli.StringFlag{
	Name:     "config-file",
	Usage:    "path to the device/sensor catalog yaml",
	EnvVars:  []string{"CONFIG_FILE"},
	Required: true,
}

package flags

import (
	"flag"
)

// The program's flags
var (
	// CfgPathFlag is the path to the configuration file
	CfgPathFlag string
)

// Default values for the flags
const (
	// defaultConfigFilePath is the default path for the configuration file
	defaultConfigFilePath = "./proxytun-dial.toml"
)

// init initializes the command-line flags
func init() {
	flag.StringVar(&CfgPathFlag, "config", defaultConfigFilePath, "path to config file")
	flag.Parse()
}

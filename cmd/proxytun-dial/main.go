// Command proxytun-dial is a small demonstration CLI: it accepts local
// TCP connections and forwards each one to a fixed destination through a
// configured chain of SOCKS4/SOCKS5/HTTP-CONNECT proxies.
package main

import (
	"github.com/relaywire/proxytun/internal/config"
	"github.com/relaywire/proxytun/internal/flags"
	"github.com/relaywire/proxytun/internal/forwarder"
	"github.com/relaywire/proxytun/internal/logger"
)

func main() {
	cfg := config.Get(flags.CfgPathFlag)

	fw, err := forwarder.New(cfg)
	if err != nil {
		logger.Fatal(err)
	}
	if err := fw.Listen(); err != nil {
		logger.Fatal(err)
	}
	if err := fw.Start(); err != nil {
		logger.Fatal(err)
	}
}

package main

import (
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/liang-haoran/kcp-over-udp/admin"
	"github.com/liang-haoran/kcp-over-udp/config"
	"github.com/liang-haoran/kcp-over-udp/pipe"
	"github.com/liang-haoran/kcp-over-udp/report"
)

var configFile = flag.String("c", "", "yaml config file, defaults apply when empty")
var listenAddr = flag.String("listen", "", "udp addr to listen on, overrides the config")
var bVerbose = flag.Bool("v", false, "verbose mode")

func loadConfig() (*config.Config, error) {
	c := config.Default()
	if *configFile != "" {
		var err error
		if c, err = config.Load(*configFile); err != nil {
			return nil, err
		}
	}
	if *listenAddr != "" {
		c.Listen = *listenAddr
	}
	if *bVerbose {
		c.Log.Level = "debug"
	}
	return c, nil
}

func serve(s *pipe.Session, store *report.Store) {
	n, err := io.Copy(s, s)
	info := s.Info()
	s.Close()
	log.Info().Uint32("id", info.Id).Str("remote", info.Remote).Int64("bytes", n).AnErr("reason", err).Msg("session done")
	if store != nil {
		if err := store.Save(report.FromInfo(info)); err != nil {
			log.Warn().Err(err).Msg("save session fail")
		}
	}
}

func main() {
	flag.Parse()
	c, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if err := c.Log.Setup(); err != nil {
		log.Fatal().Err(err).Msg("log")
	}

	l, err := pipe.Listen(c.Listen, c.Kcp)
	if err != nil {
		log.Fatal().Err(err).Msg("listen")
	}
	log.Info().Str("addr", l.Addr().String()).Msg("echo listening")

	var store *report.Store
	if c.Report.Addr != "" {
		if store, err = report.Open(c.Report); err != nil {
			log.Fatal().Err(err).Msg("report")
		}
		defer store.Close()
	}
	if c.Admin.Addr != "" {
		var history admin.History
		if store != nil {
			history = store
		}
		ln, err := admin.InitAdminPort(c.Admin.Addr, c.Admin.CertFile, c.Admin.KeyFile, admin.NewServer(l, history))
		if err != nil {
			log.Fatal().Err(err).Msg("admin")
		}
		defer ln.Close()
	}

	go func() {
		for {
			s, err := l.Accept()
			if err != nil {
				return
			}
			go serve(s, store)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info().Msg("received signal, shutdown")
	l.Close()
}

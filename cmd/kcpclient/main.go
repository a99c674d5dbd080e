package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"io"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/liang-haoran/kcp-over-udp/config"
	"github.com/liang-haoran/kcp-over-udp/pipe"
)

var configFile = flag.String("c", "", "yaml config file, defaults apply when empty")
var serverAddr = flag.String("remote", "", "echo server addr, overrides the config")
var msgNum = flag.Int("n", 100, "messages to send")
var msgSize = flag.Int("size", 512, "bytes per message, at least 8")
var msgGap = flag.Duration("gap", 20*time.Millisecond, "delay between messages")
var bVerbose = flag.Bool("v", false, "verbose mode")

func main() {
	flag.Parse()
	c := config.Default()
	if *configFile != "" {
		var err error
		if c, err = config.Load(*configFile); err != nil {
			log.Fatal().Err(err).Msg("config")
		}
	}
	if *serverAddr != "" {
		c.Remote = *serverAddr
	}
	if *bVerbose {
		c.Log.Level = "debug"
	}
	if err := c.Log.Setup(); err != nil {
		log.Fatal().Err(err).Msg("log")
	}
	if *msgNum <= 0 {
		*msgNum = 1
	}
	if *msgSize < 8 {
		*msgSize = 8
	}

	s, err := pipe.Dial(c.Remote, c.Conv, c.Kcp)
	if err != nil {
		log.Fatal().Err(err).Msg("dial")
	}
	defer s.Close()

	// each message carries its send time so the echo gives the rtt
	go func() {
		msg := bytes.Repeat([]byte{'k'}, *msgSize)
		for i := 0; i < *msgNum; i++ {
			binary.LittleEndian.PutUint64(msg, uint64(time.Now().UnixNano()))
			if _, err := s.Write(msg); err != nil {
				log.Error().Err(err).Msg("write")
				return
			}
			time.Sleep(*msgGap)
		}
	}()

	rtts := make([]time.Duration, 0, *msgNum)
	buf := make([]byte, *msgSize)
	for i := 0; i < *msgNum; i++ {
		s.SetReadDeadline(time.Now().Add(30 * time.Second))
		if _, err := io.ReadFull(s, buf); err != nil {
			log.Error().Err(err).Int("got", i).Msg("read")
			os.Exit(1)
		}
		sent := int64(binary.LittleEndian.Uint64(buf))
		rtts = append(rtts, time.Duration(time.Now().UnixNano()-sent))
	}

	sort.Slice(rtts, func(i, j int) bool { return rtts[i] < rtts[j] })
	var sum time.Duration
	for _, v := range rtts {
		sum += v
	}
	info := s.Info()
	log.Info().
		Int("messages", len(rtts)).
		Dur("avg", sum/time.Duration(len(rtts))).
		Dur("p50", rtts[len(rtts)/2]).
		Dur("max", rtts[len(rtts)-1]).
		Uint64("retransmits", info.Stats.Retransmits).
		Uint64("fastretx", info.Stats.FastRetx).
		Msg("done")
}

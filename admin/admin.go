// Package admin serves a small HTTP control port: GET /admin?cmd=<name>&args...
// Every reply is {"Code":..., "Msg":...}; 200 ok, 201 command failed, 202 unknown command.
package admin

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/liang-haoran/kcp-over-udp/pipe"
	"github.com/liang-haoran/kcp-over-udp/report"
)

// Registry is the set of live sessions, normally a *pipe.Listener.
type Registry interface {
	Sessions() []*pipe.Session
	Kick(id uint32) bool
}

// History lists finished sessions, normally a *report.Store.
type History interface {
	List(offset, limit int) ([]*report.Record, error)
}

type cmdHandler func(r *http.Request) (result string, bSuccess bool)

type Server struct {
	reg      Registry
	history  History
	commands map[string]cmdHandler
}

// NewServer builds the handler. history may be nil.
func NewServer(reg Registry, history History) *Server {
	s := &Server{reg: reg, history: history, commands: make(map[string]cmdHandler)}
	s.addAdminCmd("sessions", s.adminGetSessions)
	s.addAdminCmd("kick", s.adminKickSession)
	s.addAdminCmd("stats", s.adminStats)
	s.addAdminCmd("history", s.adminHistory)
	return s
}

func (s *Server) addAdminCmd(cmd string, callback cmdHandler) {
	s.commands[cmd] = callback
}

// InitAdminPort serves s on addr, with TLS when both files are given.
func InitAdminPort(addr, certFile, keyFile string, s *Server) (net.Listener, error) {
	mux := http.NewServeMux()
	mux.Handle("/admin", s)
	server := &http.Server{Addr: addr, Handler: mux}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "admin listen")
	}
	if certFile != "" && keyFile != "" {
		config := &tls.Config{NextProtos: []string{"http/1.1"}}
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			listener.Close()
			return nil, errors.Wrap(err, "admin cert")
		}
		config.Certificates = []tls.Certificate{cert}
		listener = tls.NewListener(listener, config)
	}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Debug().Err(err).Msg("admin port stopped")
		}
	}()
	log.Info().Str("addr", listener.Addr().String()).Msg("admin port up")
	return listener, nil
}

type handlerResult struct {
	Code int
	Msg  string
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	command := r.FormValue("cmd")
	if handler, bHave := s.commands[command]; bHave {
		result, bOk := handler(r)
		code := 200
		if !bOk {
			code = 201
		}
		res, _ := json.Marshal(handlerResult{Code: code, Msg: result})
		w.Write(res)
		return
	}
	res, _ := json.Marshal(handlerResult{Code: 202, Msg: "invalid command"})
	w.Write(res)
}

func (s *Server) adminGetSessions(r *http.Request) (string, bool) {
	arr := []pipe.Info{}
	for _, session := range s.reg.Sessions() {
		arr = append(arr, session.Info())
	}
	res, _ := json.Marshal(arr)
	return string(res), true
}

func (s *Server) adminKickSession(r *http.Request) (string, bool) {
	id, err := strconv.ParseUint(r.FormValue("id"), 10, 32)
	if err != nil {
		return "please give id", false
	}
	if !s.reg.Kick(uint32(id)) {
		return "donnot have this session", false
	}
	return "kick session ok", true
}

type totals struct {
	Sessions    int
	BytesSent   uint64
	BytesRecv   uint64
	Retransmits uint64
	FastRetx    uint64
}

func (s *Server) adminStats(r *http.Request) (string, bool) {
	var t totals
	for _, session := range s.reg.Sessions() {
		info := session.Info()
		t.Sessions++
		t.BytesSent += info.Stats.BytesSent
		t.BytesRecv += info.Stats.BytesRecv
		t.Retransmits += info.Stats.Retransmits
		t.FastRetx += info.Stats.FastRetx
	}
	res, _ := json.Marshal(t)
	return string(res), true
}

func (s *Server) adminHistory(r *http.Request) (string, bool) {
	if s.history == nil {
		return "history disabled", false
	}
	offset, _ := strconv.Atoi(r.FormValue("offset"))
	limit, err := strconv.Atoi(r.FormValue("limit"))
	if err != nil || limit <= 0 || offset < 0 {
		return "please give offset and limit", false
	}
	arr, err := s.history.List(offset, limit)
	if err != nil {
		return err.Error(), false
	}
	res, _ := json.Marshal(arr)
	return string(res), true
}

// Package report keeps a MySQL history of finished sessions.
package report

import (
	"database/sql"
	"reflect"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/liang-haoran/kcp-over-udp/pipe"
)

// Record is one finished session. Field order matches the sessions table.
type Record struct {
	Id          int64
	Conv        uint32
	Remote      string
	StartTime   int64
	EndTime     int64
	BytesSent   uint64
	BytesRecv   uint64
	SegsSent    uint64
	SegsRecv    uint64
	Retransmits uint64
	FastRetx    uint64
	SRTT        uint32 `stop:"true"`
}

func FromInfo(info pipe.Info) *Record {
	return &Record{
		Conv:        info.Conv,
		Remote:      info.Remote,
		StartTime:   info.Start,
		EndTime:     time.Now().Unix(),
		BytesSent:   info.Stats.BytesSent,
		BytesRecv:   info.Stats.BytesRecv,
		SegsSent:    info.Stats.SegsSent,
		SegsRecv:    info.Stats.SegsRecv,
		Retransmits: info.Stats.Retransmits,
		FastRetx:    info.Stats.FastRetx,
		SRTT:        info.Stats.SRTT,
	}
}

type Config struct {
	User     string `yaml:"user"`
	Passwd   string `yaml:"passwd"`
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
}

func (c Config) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Passwd
	cfg.Net = "tcp"
	cfg.Addr = c.Addr
	cfg.DBName = c.Database
	if cfg.DBName == "" {
		cfg.DBName = "kcp"
	}
	return cfg.FormatDSN()
}

type Store struct {
	db         *sql.DB
	insertStmt *sql.Stmt
	queryStmt  *sql.Stmt
	listStmt   *sql.Stmt
	delStmt    *sql.Stmt
	quit       chan struct{}
}

const columns = "Id, Conv, Remote, StartTime, EndTime, BytesSent, BytesRecv, SegsSent, SegsRecv, Retransmits, FastRetx, SRTT"

func Open(c Config) (*Store, error) {
	db, err := sql.Open("mysql", c.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	s := &Store{db: db, quit: make(chan struct{})}
	prepare := func(query string) *sql.Stmt {
		if err != nil {
			return nil
		}
		var stmt *sql.Stmt
		stmt, err = db.Prepare(query)
		return stmt
	}
	s.insertStmt = prepare("INSERT INTO sessions (Conv, Remote, StartTime, EndTime, BytesSent, BytesRecv, SegsSent, SegsRecv, Retransmits, FastRetx, SRTT) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	s.queryStmt = prepare("SELECT " + columns + " FROM sessions WHERE Id = ?")
	s.listStmt = prepare("SELECT " + columns + " FROM sessions ORDER BY Id DESC LIMIT ?, ?")
	s.delStmt = prepare("DELETE FROM sessions WHERE EndTime < ?")
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "prepare")
	}
	go func() {
		c := time.NewTicker(time.Minute * 15)
		defer c.Stop()
		for {
			select {
			case <-c.C:
				if err := db.Ping(); err != nil {
					log.Warn().Err(err).Msg("mysql ping fail")
				}
			case <-s.quit:
				return
			}
		}
	}()
	return s, nil
}

func (s *Store) Close() error {
	close(s.quit)
	return s.db.Close()
}

// preScan returns pointers to the fields of struc up to the one tagged stop.
func preScan(struc interface{}) []interface{} {
	s := reflect.ValueOf(struc).Elem()
	s2 := reflect.TypeOf(struc).Elem()
	length := s.NumField()
	onerow := make([]interface{}, 0, length)
	for i := 0; i < length; i++ {
		onerow = append(onerow, s.Field(i).Addr().Interface())
		if s2.Field(i).Tag.Get("stop") != "" {
			break
		}
	}
	return onerow
}

// Save inserts r and sets its Id.
func (s *Store) Save(r *Record) error {
	row := preScan(r)
	res, err := s.insertStmt.Exec(row[1:]...)
	if err != nil {
		return errors.Wrap(err, "insert session")
	}
	r.Id, err = res.LastInsertId()
	return err
}

// Get returns nil without error when id is unknown.
func (s *Store) Get(id int64) (*Record, error) {
	r := &Record{}
	err := s.queryStmt.QueryRow(id).Scan(preScan(r)...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query session")
	}
	return r, nil
}

// List returns the newest records first.
func (s *Store) List(offset, limit int) ([]*Record, error) {
	rows, err := s.listStmt.Query(offset, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer rows.Close()
	arr := []*Record{}
	for rows.Next() {
		r := &Record{}
		if err := rows.Scan(preScan(r)...); err != nil {
			return arr, err
		}
		arr = append(arr, r)
	}
	return arr, rows.Err()
}

// Purge deletes records that ended before t and returns how many went.
func (s *Store) Purge(t time.Time) (int64, error) {
	res, err := s.delStmt.Exec(t.Unix())
	if err != nil {
		return 0, errors.Wrap(err, "purge sessions")
	}
	return res.RowsAffected()
}

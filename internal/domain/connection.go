package domain

import (
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ConnectionKind — тип подключения к источнику/приёмнику.
type ConnectionKind string

const (
	// ConnectionPostgres — PostgreSQL (единственный поддерживаемый тип).
	ConnectionPostgres ConnectionKind = "POSTGRES"
)

// Connection — описание подключения к базе данных.
type Connection struct {
	ID       uuid.UUID      `json:"id"`
	Name     string         `json:"name"`
	Kind     ConnectionKind `json:"kind"`
	Host     string         `json:"host"`
	Port     int            `json:"port"`
	Database string         `json:"database"`
	Username string         `json:"username"`
	Password string         `json:"password,omitempty"`

	// SSLMode — значение sslmode, по умолчанию disable.
	SSLMode string `json:"ssl_mode,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DSN возвращает строку подключения в формате postgres://.
func (c *Connection) DSN() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     c.Host + ":" + strconv.Itoa(port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u.String()
}

// Redacted возвращает копию без пароля (для ответов API).
func (c Connection) Redacted() Connection {
	c.Password = ""
	return c
}

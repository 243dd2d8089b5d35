package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Source.Driver)
	assert.Equal(t, "OR", cfg.Search.DefaultOperator)
	assert.Equal(t, 100, cfg.Search.Highlight.FragmentSize)
	require.Len(t, cfg.Collections, 2)

	q, ok := cfg.Collection("question")
	require.True(t, ok)
	assert.Equal(t, "questionId", q.IDField)
	assert.Equal(t, filepath.Join("index", "QuestionIndex"), q.Dir)

	a, ok := cfg.Collection("Answer")
	require.True(t, ok)
	assert.Equal(t, "content", a.Source.TextColumn)

	_, ok = cfg.Collection("comments")
	assert.False(t, ok)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
source:
  driver: sqlite
  sqlitePath: /tmp/qa.db
indexer:
  rootDir: /var/lib/qa
  batchSize: 50
  lockTimeout: 2s
search:
  defaultLimit: 20
  maxResults: 200
  defaultOperator: AND
collections:
  - name: Question
    idField: questionId
    textField: question
    source: {table: question, idColumn: id, textColumn: title}
`), 0o644))

	t.Setenv("SP_SERVER_PORT", "9100")
	t.Setenv("SP_INDEXER_BATCH_SIZE", "75")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Source.Driver)
	assert.Equal(t, 75, cfg.Indexer.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Indexer.LockTimeout)
	assert.Equal(t, "AND", cfg.Search.DefaultOperator)
	require.Len(t, cfg.Collections, 1)
	assert.Equal(t, "/var/lib/qa/QuestionIndex", cfg.Collections[0].Dir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"unknown driver", func(c *Config) { c.Source.Driver = "oracle" }},
		{"sqlite without path", func(c *Config) { c.Source.Driver = DriverSQLite }},
		{"no root dir", func(c *Config) { c.Indexer.RootDir = "" }},
		{"limit above max", func(c *Config) { c.Search.DefaultLimit = 500 }},
		{"bad operator", func(c *Config) { c.Search.DefaultOperator = "XOR" }},
		{"no collections", func(c *Config) { c.Collections = nil }},
		{"duplicate collection", func(c *Config) { c.Collections[1].Name = "question" }},
		{"same id and text field", func(c *Config) { c.Collections[0].TextField = "questionId" }},
		{"missing table", func(c *Config) { c.Collections[0].Source.Table = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, defaultConfig().Validate())
}

func TestPostgresDSN(t *testing.T) {
	p := defaultConfig().Postgres
	assert.Equal(t, "host=localhost port=5432 user=qa password=localdev dbname=qa sslmode=disable", p.DSN())
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/WernerBuchert/ecto/logging"
	"github.com/stretchr/testify/assert"
)

func Test_Config_FillDefaults(t *testing.T) {
	assert := assert.New(t)

	cfg := Config{}.FillDefaults()

	assert.Equal("schema.yml", cfg.Schema)
	assert.Equal("records", cfg.Source)
	assert.Equal(logging.Jellog, cfg.Log.Provider)

	// explicit values survive
	cfg = Config{Schema: "fields.json", Source: "users"}.FillDefaults()
	assert.Equal("fields.json", cfg.Schema)
	assert.Equal("users", cfg.Source)
}

func Test_Config_Validate(t *testing.T) {
	testCases := []struct {
		name      string
		cfg       Config
		expectErr bool
	}{
		{
			name: "filled defaults pass",
			cfg:  Config{}.FillDefaults(),
		},
		{
			name:      "empty schema",
			cfg:       Config{Source: "users"},
			expectErr: true,
		},
		{
			name:      "empty source",
			cfg:       Config{Schema: "schema.yml"},
			expectErr: true,
		},
		{
			name:      "logging enabled without a provider",
			cfg:       Config{Schema: "schema.yml", Source: "users", Log: Log{Enabled: true}},
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			err := tc.cfg.Validate()

			if tc.expectErr {
				assert.Error(err)
			} else {
				assert.NoError(err)
			}
		})
	}
}

func Test_Load(t *testing.T) {
	writeFile := func(t *testing.T, name, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return path
	}

	t.Run("yaml", func(t *testing.T) {
		assert := assert.New(t)

		path := writeFile(t, "conf.yml", `
schema: fields.yml
source: users
required:
  - name
  - email
db: app.db
logs:
  enabled: true
  provider: jellog
  file: ecto.log
`)

		cfg, err := Load(path)
		if !assert.NoError(err) {
			return
		}

		assert.Equal("fields.yml", cfg.Schema)
		assert.Equal("users", cfg.Source)
		assert.Equal([]string{"name", "email"}, cfg.Required)
		assert.Equal("app.db", cfg.DB)
		assert.True(cfg.Log.Enabled)
		assert.Equal(logging.Jellog, cfg.Log.Provider)
		assert.Equal("ecto.log", cfg.Log.File)
	})

	t.Run("json", func(t *testing.T) {
		assert := assert.New(t)

		path := writeFile(t, "conf.json", `{
	"schema": "fields.json",
	"source": "users",
	"db": ""
}`)

		cfg, err := Load(path)
		if !assert.NoError(err) {
			return
		}

		assert.Equal("fields.json", cfg.Schema)
		assert.Equal("users", cfg.Source)
		assert.False(cfg.Log.Enabled)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		assert := assert.New(t)

		path := writeFile(t, "conf.toml", `schema = "x"`)

		_, err := Load(path)
		assert.Error(err)
	})

	t.Run("unknown log provider", func(t *testing.T) {
		assert := assert.New(t)

		path := writeFile(t, "conf.yml", `
logs:
  enabled: true
  provider: syslog
`)

		_, err := Load(path)
		assert.Error(err)
	})

	t.Run("missing file", func(t *testing.T) {
		assert := assert.New(t)

		_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
		assert.Error(err)
	})
}

package local_fs

import (
	"path/filepath"
)

type Config struct {
	SavePath   string `yaml:"save-path" default:"storage/backup"`
	CustomPath string `yaml:"custom-path"`
}

type LocalFS struct {
	Config *Config
}

func NewClient(conf *Config) (*LocalFS, error) {
	return &LocalFS{Config: conf}, nil
}

func (p *LocalFS) getSavePath() string {
	return filepath.Join(p.Config.SavePath, p.Config.CustomPath)
}

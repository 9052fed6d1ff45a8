package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adwski/classcast/backend/model"
)

const (
	textFileName   = "classcast.txt"
	blocksFileName = "classcast.blocks.json"
)

// fileLoader writes accepted code into dir, replacing the previous copy.
type fileLoader struct {
	dir string
}

func (l *fileLoader) Load(codeType, data string) error {
	var name string
	switch codeType {
	case model.CodeTypeText:
		name = textFileName
	case model.CodeTypeBlocks:
		name = blocksFileName
	default:
		return fmt.Errorf("unsupported code type %q", codeType)
	}

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	path := filepath.Join(l.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(data), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

package vcs

import (
	"fmt"

	"miner-go/internal/config"
	"miner-go/internal/miner"
)

// NewVCSFromConfig creates a VCS implementation based on the vcs config type.
func NewVCSFromConfig(cfg config.VCSConfig) (miner.VCS, error) {
	switch cfg.Type {
	case "git", "":
		return NewGitExec(cfg.GitBinary), nil
	case "go-git":
		return NewGoGit(cfg.CommitCacheSize)
	default:
		return nil, fmt.Errorf("unknown vcs type: %s", cfg.Type)
	}
}

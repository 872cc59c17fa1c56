// Package artifact loads corpora and splits them into elements.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ratlr/internal/config"
	"github.com/fyrsmithlabs/ratlr/internal/ignore"
	"github.com/fyrsmithlabs/ratlr/internal/knowledge"
)

// ErrInvalidConfig is returned for unusable provider or preprocessor
// configuration.
var ErrInvalidConfig = errors.New("invalid artifact configuration")

// maxArtifactSize bounds a single corpus file.
const maxArtifactSize = 4 << 20

// Provider delivers the raw artifacts of one corpus.
type Provider interface {
	Artifacts(ctx context.Context) ([]knowledge.Artifact, error)
}

// TextProvider reads every regular file below a directory as one artifact.
// Ids are slash-separated paths relative to the directory and artifacts
// are returned sorted by id. Files excluded by a .ratlrignore or
// .gitignore in the directory are skipped.
type TextProvider struct {
	root         string
	artifactType string
	logger       *zap.Logger
}

// NewTextProvider creates a provider over root.
func NewTextProvider(root, artifactType string, logger *zap.Logger) (*TextProvider, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if artifactType == "" {
		return nil, fmt.Errorf("%w: artifact_type is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TextProvider{root: root, artifactType: artifactType, logger: logger}, nil
}

// NewProvider builds the provider named by cfg. Only "text" exists.
func NewProvider(cfg config.ModuleConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Name {
	case "text":
		return NewTextProvider(cfg.String("path", ""), cfg.String("artifact_type", ""), logger)
	default:
		return nil, fmt.Errorf("%w: unknown artifact provider %q", ErrInvalidConfig, cfg.Name)
	}
}

func (p *TextProvider) Artifacts(ctx context.Context) ([]knowledge.Artifact, error) {
	patterns, err := ignore.NewParser(ignore.DefaultFiles, nil).ParseDir(p.root)
	if err != nil {
		return nil, fmt.Errorf("read ignore files: %w", err)
	}
	excluded := ignore.NewMatcher(patterns)
	ignoreNames := make(map[string]bool, len(ignore.DefaultFiles))
	for _, name := range ignore.DefaultFiles {
		ignoreNames[name] = true
	}

	var artifacts []knowledge.Artifact
	err = filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(p.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if ignoreNames[rel] || excluded.Excluded(rel) {
			p.logger.Debug("artifact skipped", zap.String("id", rel))
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxArtifactSize {
			return fmt.Errorf("artifact %s exceeds %d bytes", rel, maxArtifactSize)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !utf8.Valid(content) {
			return fmt.Errorf("artifact %s is not valid UTF-8", rel)
		}

		artifacts = append(artifacts, knowledge.Artifact{ID: rel, Type: p.artifactType, Content: string(content)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", p.root, err)
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].ID < artifacts[j].ID })
	p.logger.Info("artifacts loaded",
		zap.String("path", p.root),
		zap.String("type", p.artifactType),
		zap.Int("count", len(artifacts)))
	return artifacts, nil
}

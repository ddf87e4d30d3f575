package tools

import (
	"context"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aqueductlabs/aqueduct/llm"
)

// GlobInput defines the input for the glob tool.
type GlobInput struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Glob pattern (e.g. **/*.go for all Go files)"`
	Path    string `json:"path,omitempty" jsonschema:"description=Base directory to search from (default: current directory)"`
}

// GlobOutput defines the output of the glob tool.
type GlobOutput struct {
	Files []string `json:"files"`
	Count int      `json:"count"`
}

// GlobTool returns the glob tool.
func GlobTool() (llm.Tool, error) {
	return llm.NewTool(
		"glob",
		"Find files matching a glob pattern. Supports ** for recursive matching.",
		globFiles,
	)
}

// MustGlob returns the glob tool, panicking on error.
func MustGlob() llm.Tool {
	tool, err := GlobTool()
	if err != nil {
		panic(err)
	}
	return tool
}

func globFiles(ctx context.Context, input GlobInput) (GlobOutput, error) {
	basePath := input.Path
	if basePath == "" {
		basePath = "."
	}
	basePath = filepath.Clean(basePath)

	matches, err := doublestar.Glob(os.DirFS(basePath), input.Pattern)
	if err != nil {
		return GlobOutput{}, err
	}

	if basePath != "." {
		for i, m := range matches {
			matches[i] = filepath.Join(basePath, m)
		}
	}

	return GlobOutput{
		Files: matches,
		Count: len(matches),
	}, nil
}

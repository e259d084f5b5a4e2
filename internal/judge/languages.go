package judge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/arena-oj/judgeserver/types"
)

// Built-in language table. Command templates use {source_file} and
// {output_file} placeholders expanded at judging time.
var languages = map[string]types.Language{
	"c": {
		Name:             "c",
		SourceFile:       "main.c",
		CompileCommand:   "gcc -O2 -std=c17 -o {output_file} {source_file}",
		RunCommand:       "{output_file}",
		TimeMultiplier:   1,
		MemoryMultiplier: 1,
	},
	"cpp": {
		Name:             "cpp",
		SourceFile:       "main.cpp",
		CompileCommand:   "g++ -O2 -std=c++20 -o {output_file} {source_file}",
		RunCommand:       "{output_file}",
		TimeMultiplier:   1,
		MemoryMultiplier: 1,
	},
	"go": {
		Name:             "go",
		SourceFile:       "main.go",
		CompileCommand:   "go build -o {output_file} {source_file}",
		RunCommand:       "{output_file}",
		TimeMultiplier:   1.5,
		MemoryMultiplier: 1.5,
	},
	"python": {
		Name:             "python",
		SourceFile:       "main.py",
		RunCommand:       "python3 {source_file}",
		TimeMultiplier:   3,
		MemoryMultiplier: 2,
	},
	"java": {
		Name:             "java",
		SourceFile:       "Main.java",
		CompileCommand:   "javac {source_file}",
		RunCommand:       "java -cp {work_dir} Main",
		TimeMultiplier:   2,
		MemoryMultiplier: 2,
	},
}

// LookupLanguage resolves a language identifier to its configuration.
func LookupLanguage(name string) (types.Language, error) {
	lang, ok := languages[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return types.Language{}, fmt.Errorf("unsupported language: %s", name)
	}
	return lang, nil
}

// SupportedLanguages returns the identifiers of all configured
// languages in alphabetical order.
func SupportedLanguages() []string {
	names := make([]string, 0, len(languages))
	for name := range languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func expandCommand(template, sourceFile, outputFile, workDir string) []string {
	parts := strings.Fields(template)
	expanded := make([]string, len(parts))
	for i, part := range parts {
		part = strings.ReplaceAll(part, "{source_file}", sourceFile)
		part = strings.ReplaceAll(part, "{output_file}", outputFile)
		part = strings.ReplaceAll(part, "{work_dir}", workDir)
		expanded[i] = part
	}
	return expanded
}

package gitops

import (
	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is the workflow-level ignore file, read from the repo root
// and compiled once per run.
const IgnoreFileName = ".loomignore"

// LoadIgnore compiles a .loomignore file if present. A missing file is not
// an error — it simply means no files are exempted.
func LoadIgnore(path string) (*ignore.GitIgnore, error) {
	gi, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		return nil, nil
	}
	return gi, nil
}

// FilesMatchIgnorePatterns reports whether every file in files is matched by
// gi, meaning the whole change-set is ignorable (e.g. an agent run that only
// touched scratch/log files can be treated as a no-op). A nil matcher, an
// empty file list, or the ignore file itself appearing among the changed
// files all return false — the last case because a change to the ignore
// file's own rules should never be silently dropped.
func FilesMatchIgnorePatterns(files []string, gi *ignore.GitIgnore) bool {
	if gi == nil || len(files) == 0 {
		return false
	}
	for _, f := range files {
		if f == IgnoreFileName {
			return false
		}
	}
	for _, f := range files {
		if !gi.MatchesPath(f) {
			return false
		}
	}
	return true
}

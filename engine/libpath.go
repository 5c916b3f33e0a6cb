package engine

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// RuntimeLibraryName returns the onnxruntime shared library file name for the
// current platform.
func RuntimeLibraryName() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// FindRuntimeLibrary 查找 onnxruntime 动态库:
// - 配置中给出的路径
// - 可执行文件所在目录及其 lib/
// - 当前工作目录及其 lib/
func FindRuntimeLibrary(preferred string) (string, error) {
	if preferred != "" {
		if fileExists(preferred) {
			return preferred, nil
		}
		return "", errors.Errorf("onnxruntime library not found at %s", preferred)
	}

	name := RuntimeLibraryName()
	var dirs []string
	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		dirs = append(dirs, exeDir, filepath.Join(exeDir, "lib"))
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd, filepath.Join(cwd, "lib"))
	}

	for _, dir := range dirs {
		if p := filepath.Join(dir, name); fileExists(p) {
			return p, nil
		}
		if m := globFirst(dir, strings.TrimSuffix(name, filepath.Ext(name))+"*"+filepath.Ext(name)); m != "" {
			return m, nil
		}
	}
	return "", errors.Errorf("%s not found, tried: %s", name, strings.Join(dirs, ", "))
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func globFirst(dir, pattern string) string {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}

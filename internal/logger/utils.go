package logger

import (
	"path/filepath"
	"runtime"
	"strings"
)

func getCallerInfo(skip int) (file, fn string, line int) {
	pc, f, l, ok := runtime.Caller(skip)
	if !ok {
		return "unknown", "unknown", 0
	}
	funcName := "unknown"
	if rf := runtime.FuncForPC(pc); rf != nil {
		funcName = rf.Name()
		if idx := strings.LastIndex(funcName, "/"); idx >= 0 {
			funcName = funcName[idx+1:]
		}
	}
	return filepath.Base(f), funcName, l
}

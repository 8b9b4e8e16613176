package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileWriter is a size/date-rotating log file writer.
type FileWriter struct {
	config      Config
	file        *os.File
	currentSize int64
	mu          sync.Mutex
	openDate    string
}

func NewFileWriter(config Config) (*FileWriter, error) {
	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		return nil, err
	}
	fw := &FileWriter{config: config}
	if err := fw.openFile(); err != nil {
		return nil, err
	}
	return fw, nil
}

func (fw *FileWriter) openFile() error {
	path := filepath.Join(fw.config.LogDir, fw.config.FileName)

	if info, err := os.Stat(path); err == nil {
		fw.currentSize = info.Size()
		if fw.config.MaxFileSize > 0 && fw.currentSize >= fw.config.MaxFileSize {
			if err := fw.rotate(); err != nil {
				return err
			}
			fw.currentSize = 0
		}
	} else {
		fw.currentSize = 0
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	fw.file = f
	fw.openDate = time.Now().Format("2006-01-02")
	return nil
}

func (fw *FileWriter) Write(data []byte) (int, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.shouldRotate() {
		if err := fw.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := fw.file.Write(data)
	if err == nil {
		fw.currentSize += int64(n)
	}
	return n, err
}

func (fw *FileWriter) shouldRotate() bool {
	if time.Now().Format("2006-01-02") != fw.openDate {
		return true
	}
	return fw.config.MaxFileSize > 0 && fw.currentSize >= fw.config.MaxFileSize
}

func (fw *FileWriter) rotate() error {
	if fw.file != nil {
		fw.file.Close()
	}

	timestamp := time.Now().Format("2006-01-02-15-04-05")
	oldPath := filepath.Join(fw.config.LogDir, fw.config.FileName)
	newPath := filepath.Join(fw.config.LogDir, fmt.Sprintf("%s.%s.log", fw.config.FileName, timestamp))

	if err := os.Rename(oldPath, newPath); err != nil {
		return err
	}
	go fw.cleanUp()
	return fw.openFile()
}

func (fw *FileWriter) cleanUp() {
	if fw.config.MaxBackups <= 0 {
		return
	}
	entries, err := os.ReadDir(fw.config.LogDir)
	if err != nil {
		return
	}

	var rotated []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), fw.config.FileName+".") && strings.HasSuffix(e.Name(), ".log") {
			rotated = append(rotated, filepath.Join(fw.config.LogDir, e.Name()))
		}
	}
	sort.Strings(rotated)
	if len(rotated) > fw.config.MaxBackups {
		for _, f := range rotated[:len(rotated)-fw.config.MaxBackups] {
			os.Remove(f)
		}
	}
}

func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.file != nil {
		return fw.file.Close()
	}
	return nil
}

/*
Copyright © 2026 Ajoux <ajoux@posteo.net>
*/

package main

import (
	"fmt"
	"os"
)

func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(bytes)/float64(div),
		"kMGTPE"[exp])
}

// appendLine appends a line to path, inserting a newline first when the
// file does not already end with one.
func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	prefix := ""
	if size := info.Size(); size > 0 {
		buf := make([]byte, 1)
		if _, err := f.ReadAt(buf, size-1); err != nil {
			return err
		}
		if buf[0] != '\n' {
			prefix = "\n"
		}
	}

	if _, err := f.Seek(0, 2); err != nil {
		return err
	}
	_, err = f.WriteString(prefix + line + "\n")
	return err
}

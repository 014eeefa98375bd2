package clipboard

import (
	"sync"

	"golang.design/x/clipboard"
)

var writeMu sync.Mutex

func Init() error {
	return clipboard.Init()
}

// Read returns the current text clipboard contents.
func Read() string {
	return string(clipboard.Read(clipboard.FmtText))
}

// Write performs a mutex-guarded clipboard write to prevent corruption under parallel writes.
func Write(text string) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

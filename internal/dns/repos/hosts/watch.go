package hosts

import (
	"fmt"

	"github.com/knadh/koanf/providers/file"

	logpkg "github.com/nanodns/nanodns/internal/dns/common/log"
)

// WatchFile observes path for changes and invokes onChange after each write.
// Editors that replace the file (rename-over) are handled by the underlying
// provider. The returned stop function ends the watch.
func WatchFile(path string, logger logpkg.Logger, onChange func()) (stop func() error, err error) {
	f := file.Provider(path)
	err = f.Watch(func(event interface{}, err error) {
		if err != nil {
			logger.Warn(map[string]any{"path": path, "error": err.Error()}, "hosts_watch_error")
			return
		}
		logger.Info(map[string]any{"path": path}, "hosts_file_changed")
		onChange()
	})
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	return f.Unwatch, nil
}

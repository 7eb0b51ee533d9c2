package sinks

import (
	"fmt"
	"io"
	"os"

	"github.com/xyzzy121/Unicopia/logging"
)

// Build constructs the sinks enabled in cfg. The console sink writes to
// stdout; the JSON sink appends to cfg.JSON.FilePath.
func Build(cfg logging.Config, stdout io.Writer) (map[string]logging.Sink, error) {
	out := make(map[string]logging.Sink, len(cfg.EnabledSinks))
	for _, name := range cfg.EnabledSinks {
		switch name {
		case logging.SinkConsole:
			out[name] = NewConsoleSink(stdout, cfg.Console)
		case logging.SinkJSON:
			if cfg.JSON.FilePath == "" {
				return nil, fmt.Errorf("json sink enabled without a file path")
			}
			file, err := os.OpenFile(cfg.JSON.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open json log: %w", err)
			}
			out[name] = NewJSON(file, cfg.JSON.FlushInterval)
		case logging.SinkMemory:
			out[name] = NewMemorySink()
		default:
			return nil, fmt.Errorf("unknown log sink %q", name)
		}
	}
	return out, nil
}
